package worker

import (
	"context"
	"math/rand"
	"time"
)

// sleepPace computes the idle-sleep duration: liveWorkers*10ms plus
// uniform(0.5ms, 1.5ms) jitter. Polling load on the task store scales with
// fleet size; the jitter keeps workers from settling into lock-step.
func sleepPace(liveWorkers int) time.Duration {
	base := time.Duration(liveWorkers) * 10 * time.Millisecond
	jitter := 500*time.Microsecond + time.Duration(rand.Int63n(int64(time.Millisecond)))
	return base + jitter
}

// idleSleep calls beat, then sleeps the computed pace, returning early if
// ctx is canceled. beat is always called before sleeping, never during it.
func (w *WorkerContext) idleSleep(ctx context.Context) {
	if err := w.Housekeeping.Beat(ctx); err != nil {
		w.Logger.Warn().Err(err).Msg("beat failed during idle sleep")
	}

	d := sleepPace(w.Housekeeping.LiveWorkers())
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
