/*
Package executor is the tagged registry mapping a task's Name to the
Handler that knows how to run it. The core worker packages never know what
a task payload means; they dispatch by name and let the registered handler
interpret it.
*/
package executor
