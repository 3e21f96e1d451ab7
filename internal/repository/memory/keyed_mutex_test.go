package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	xerrors "membership-service/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, 1, time.Second)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, k.locks)
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, 1, time.Second)
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := k.Lock(ctx, 2, 10*time.Millisecond)
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutex_TimesOut(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	unlock, err := k.Lock(ctx, 1, time.Second)
	require.NoError(t, err)

	_, err = k.Lock(ctx, 1, 20*time.Millisecond)
	assert.ErrorIs(t, err, xerrors.ErrLockTimeout)
	assert.True(t, xerrors.Retryable(err))

	unlock()
	unlock()

	again, err := k.Lock(ctx, 1, 20*time.Millisecond)
	require.NoError(t, err)
	again()
	assert.Empty(t, k.locks)
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	k := NewKeyedMutex()

	unlock, err := k.Lock(context.Background(), 1, 0)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = k.Lock(ctx, 1, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
