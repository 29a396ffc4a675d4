package lockservice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FakeClient is an in-memory Client used by this package's tests and by
// pkg/housekeeping and pkg/worker's tests. It implements just enough script
// semantics to exercise the acquire/release scripts without a real Redis
// instance.
type FakeClient struct {
	mu      sync.Mutex
	strs    map[string]string
	sets    map[string]map[string]struct{}
	expires map[string]time.Time
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		strs:    make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		expires: make(map[string]time.Time),
	}
}

func (f *FakeClient) expired(key string) bool {
	exp, ok := f.expires[key]
	return ok && time.Now().After(exp)
}

func (f *FakeClient) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.strs[key]; ok && !f.expired(key) {
		_ = v
		return false, nil
	}
	f.strs[key] = value
	if ttl > 0 {
		f.expires[key] = time.Now().Add(ttl)
	} else {
		delete(f.expires, key)
	}
	return true, nil
}

func (f *FakeClient) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired(key) {
		delete(f.strs, key)
		return "", false, nil
	}
	v, ok := f.strs[key]
	return v, ok, nil
}

func (f *FakeClient) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.strs, key)
	delete(f.sets, key)
	delete(f.expires, key)
	return nil
}

func (f *FakeClient) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired(key) {
		delete(f.strs, key)
		return false, nil
	}
	if f.strs[key] != expected {
		return false, nil
	}
	delete(f.strs, key)
	delete(f.expires, key)
	return true, nil
}

func (f *FakeClient) SAdd(ctx context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]struct{})
	}
	f.sets[key][member] = struct{}{}
	return nil
}

func (f *FakeClient) SRem(ctx context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sets[key], member)
	return nil
}

func (f *FakeClient) SMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (f *FakeClient) SCard(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.sets[key])), nil
}

// RunScript interprets just the three scripts this package defines
// (acquire, release, compare-and-delete), by identity comparison of the
// *redis.Script value, rather than embedding a Lua VM.
func (f *FakeClient) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	switch script {
	case acquireScript:
		return f.runAcquire(keys, args)
	case releaseScript:
		return f.runRelease(keys, args)
	case compareAndDeleteScript:
		ok, err := f.CompareAndDelete(ctx, keys[0], args[0].(string))
		if !ok {
			return int64(0), err
		}
		return int64(1), err
	default:
		panic("FakeClient: unrecognized script")
	}
}

func (f *FakeClient) runAcquire(keys []string, args []any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	worker := args[0].(string)
	nExclusive := args[1].(int)
	resourceNames := make([]string, 0, len(args)-2)
	for _, a := range args[2:] {
		resourceNames = append(resourceNames, a.(string))
	}
	nShared := (len(keys) - 2*nExclusive) / 2

	for i := 0; i < nExclusive; i++ {
		exKey := keys[i]
		shKey := keys[nExclusive+i]
		if _, ok := f.strs[exKey]; ok && !f.expired(exKey) {
			return []any{resourceNames[i]}, nil
		}
		if len(f.sets[shKey]) > 0 {
			return []any{resourceNames[i]}, nil
		}
	}
	for i := 0; i < nShared; i++ {
		exKey := keys[2*nExclusive+i]
		if _, ok := f.strs[exKey]; ok && !f.expired(exKey) {
			return []any{resourceNames[nExclusive+i]}, nil
		}
	}

	for i := 0; i < nExclusive; i++ {
		f.strs[keys[i]] = worker
		delete(f.expires, keys[i])
	}
	for i := 0; i < nShared; i++ {
		shKey := keys[2*nExclusive+nShared+i]
		if f.sets[shKey] == nil {
			f.sets[shKey] = make(map[string]struct{})
		}
		f.sets[shKey][worker] = struct{}{}
	}
	return []any{}, nil
}

func (f *FakeClient) runRelease(keys []string, args []any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	worker := args[0].(string)
	nExclusive := args[1].(int)

	for i := 0; i < nExclusive; i++ {
		exKey := keys[i]
		if f.strs[exKey] == worker {
			delete(f.strs, exKey)
			delete(f.expires, exKey)
		}
	}
	for i := nExclusive; i < len(keys); i++ {
		shKey := keys[i]
		delete(f.sets[shKey], worker)
		if len(f.sets[shKey]) == 0 {
			delete(f.sets, shKey)
		}
	}
	return int64(1), nil
}

func (f *FakeClient) Scan(ctx context.Context, pattern string) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		f.mu.Lock()
		var matched []string
		prefix := strings.TrimSuffix(pattern, "*")
		for k := range f.strs {
			if strings.HasPrefix(k, prefix) {
				matched = append(matched, k)
			}
		}
		f.mu.Unlock()
		for _, k := range matched {
			out <- k
		}
	}()
	return out, errCh
}
