package taskworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_DispatchNonBlocking(t *testing.T) {
	pool := NewPool(2, 10)
	pool.Start(context.Background())
	defer pool.Stop()

	start := time.Now()
	ok := pool.TryDispatch(Job{
		Key:  "static-v1|/app.js",
		Name: "cache-write",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	elapsed := time.Since(start)

	assert.True(t, ok)
	assert.Less(t, elapsed, 20*time.Millisecond, "dispatch must not wait for the job")
}

func TestPool_SameKeySequential(t *testing.T) {
	pool := NewPool(4, 100)
	pool.Start(context.Background())

	var results []int
	var mu sync.Mutex

	for i := 1; i <= 5; i++ {
		val := i
		pool.Submit(Job{
			Key:  "dynamic-v1|GET https://api.example.com/price",
			Name: "cache-write",
			Handler: func(ctx context.Context) error {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				results = append(results, val)
				mu.Unlock()
				return nil
			},
		})
	}

	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3, 4, 5}, results)
}

func TestPool_DifferentKeysParallel(t *testing.T) {
	pool := NewPool(4, 100)
	pool.Start(context.Background())
	defer pool.Stop()

	var active, maxActive int32
	keys := []string{"key-0"}
	for i := 1; i < 100 && len(keys) < 2; i++ {
		candidate := fmt.Sprintf("key-%d", i)
		if pool.shardFor(candidate) != pool.shardFor(keys[0]) {
			keys = append(keys, candidate)
		}
	}
	require.Len(t, keys, 2)

	release := make(chan struct{})
	for _, k := range keys {
		pool.Submit(Job{Key: k, Name: "probe", Handler: func(ctx context.Context) error {
			cur := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if cur <= m || atomic.CompareAndSwapInt32(&maxActive, m, cur) {
					break
				}
			}
			<-release
			atomic.AddInt32(&active, -1)
			return nil
		}})
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&maxActive) == 2 }, time.Second, 5*time.Millisecond)
	close(release)
}

func TestPool_ErrorsAreReportedOnChannel(t *testing.T) {
	pool := NewPool(1, 10)
	pool.Start(context.Background())
	defer pool.Stop()

	boom := errors.New("quota exceeded")
	pool.Submit(Job{Key: "k", Name: "cache-write", Handler: func(ctx context.Context) error { return boom }})

	select {
	case err := <-pool.Errors():
		assert.ErrorIs(t, err, boom)
		var jobErr JobError
		require.ErrorAs(t, err, &jobErr)
		assert.Equal(t, "k", jobErr.Key)
	case <-time.After(time.Second):
		t.Fatal("expected an error on the channel")
	}
	assert.Equal(t, int64(1), pool.GetStats().TotalErrors)
}

func TestPool_PanicIsContained(t *testing.T) {
	pool := NewPool(1, 10)
	pool.Start(context.Background())

	var ran int32
	pool.Submit(Job{Key: "k", Name: "bad", Handler: func(ctx context.Context) error { panic("boom") }})
	pool.Submit(Job{Key: "k", Name: "good", Handler: func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	}})
	pool.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	assert.Equal(t, int64(2), pool.GetStats().TotalProcessed)
}

func TestPool_GracefulShutdownDrains(t *testing.T) {
	pool := NewPool(2, 10)
	pool.Start(context.Background())

	var completed int32
	for i := 0; i < 4; i++ {
		pool.Submit(Job{Key: string(rune('A' + i)), Name: "slow", Handler: func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&completed, 1)
			return nil
		}})
	}
	pool.Stop()

	assert.Equal(t, int32(4), atomic.LoadInt32(&completed))
}

func TestPool_RejectsAfterStopAndBeforeStart(t *testing.T) {
	pool := NewPool(1, 1)
	assert.False(t, pool.TryDispatch(Job{Key: "k", Handler: func(context.Context) error { return nil }}))

	pool.Start(context.Background())
	pool.Stop()
	assert.False(t, pool.TryDispatch(Job{Key: "k", Handler: func(context.Context) error { return nil }}))
	assert.Equal(t, int64(2), pool.GetStats().TotalDropped)
}

func TestPool_ConsistentSharding(t *testing.T) {
	pool := NewPool(4, 10)
	s1 := pool.shardFor("static-v1|GET https://app/app.js")
	s2 := pool.shardFor("static-v1|GET https://app/app.js")
	assert.Equal(t, s1, s2)
	assert.GreaterOrEqual(t, s1, 0)
	assert.Less(t, s1, 4)
}
