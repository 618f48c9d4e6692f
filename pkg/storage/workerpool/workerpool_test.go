package workerpool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuro-inc/platform-storage-api/pkg/storage/workerpool"
)

func TestDoRunsFunction(t *testing.T) {
	pool := workerpool.New(2)
	v, err := workerpool.Do1(context.Background(), pool, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDoBoundsConcurrency(t *testing.T) {
	pool := workerpool.New(1)
	var inFlight int32
	var maxInFlight int32

	done := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func() error {
			atomic.AddInt32(&inFlight, 1)
			time.Sleep(20 * time.Millisecond)
			if atomic.LoadInt32(&inFlight) > atomic.LoadInt32(&maxInFlight) {
				atomic.StoreInt32(&maxInFlight, atomic.LoadInt32(&inFlight))
			}
			atomic.AddInt32(&inFlight, -1)
			return nil
		})
		close(done)
	}()

	// Give the first job a head start so the second genuinely contends
	// for the single slot instead of racing to acquire first.
	time.Sleep(5 * time.Millisecond)
	err := pool.Do(context.Background(), func() error {
		atomic.AddInt32(&inFlight, 1)
		if atomic.LoadInt32(&inFlight) > atomic.LoadInt32(&maxInFlight) {
			atomic.StoreInt32(&maxInFlight, atomic.LoadInt32(&inFlight))
		}
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	require.NoError(t, err)
	<-done

	assert.Equal(t, int32(1), maxInFlight)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	pool := workerpool.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pool.Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
