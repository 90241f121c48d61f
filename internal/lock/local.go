package lock

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 256

// Local is an in-process lock made of a fixed pool of channel mutexes.
// Different keys may share a shard; that only costs throughput, never correctness.
type Local struct {
	shards  [shardCount]chan struct{}
	timeout time.Duration
}

// NewLocal creates a Local lock. Acquire gives up after timeout.
func NewLocal(timeout time.Duration) *Local {
	l := &Local{timeout: timeout}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
		l.shards[i] <- struct{}{} // Start unlocked.
	}
	return l
}

// Acquire blocks until key is held, the timeout elapses, or ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	shard := l.shards[shardIdx(key)]

	// Fast path
	select {
	case <-shard:
		return releaseOnce(shard), nil
	default:
	}

	waitCtx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	select {
	case <-shard:
		return releaseOnce(shard), nil
	case <-waitCtx.Done():
		return nil, waitError(ctx, key, waitCtx.Err())
	}
}

func releaseOnce(shard chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() { shard <- struct{}{} })
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
