package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/packrat/pinserver/pkg/errcode"
)

func TestDefaultSize(t *testing.T) {
	assert.Equal(t, runtime.NumCPU(), New(nil, 0).Size())
	assert.Equal(t, 3, New(nil, 3).Size())
}

func TestReleaseErrors(t *testing.T) {
	p := New(nil, 2)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Release(h))
	assert.ErrorIs(t, p.Release(h), ErrDoubleRelease)
	assert.ErrorIs(t, p.Release(nil), ErrForeignHandle)

	other := New(nil, 1)
	oh, err := other.Acquire(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Release(oh), ErrForeignHandle)
	require.NoError(t, other.Release(oh))

	inUse, _ := p.Stats()
	assert.Zero(t, inUse)
	assert.Len(t, p.handles, 2)
}

func TestAcquireTimesOut(t *testing.T) {
	p := New(nil, 1)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.ResourceUnavailable))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, waiting := p.Stats()
	assert.Zero(t, waiting)
	require.NoError(t, p.Release(h))
}

func TestAcquireServesWaitersInOrder(t *testing.T) {
	p := New(nil, 1)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.With(context.Background(), func(*Handle) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
		require.Eventually(t, func() bool {
			_, waiting := p.Stats()
			return waiting == i
		}, time.Second, time.Millisecond)
		// Let the waiter park on the channel before the next one arrives.
		time.Sleep(10 * time.Millisecond)
	}

	require.NoError(t, p.Release(h))
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3}, order)
}

// Every acquire is matched by exactly one release no matter how the scoped
// function exits.
func TestWithReleasesOnEveryPath(t *testing.T) {
	const size = 4
	p := New(nil, size)
	rng := rand.New(rand.NewSource(42))
	boom := errors.New("boom")

	var g errgroup.Group
	g.SetLimit(32)
	for i := 0; i < 10000; i++ {
		action := rng.Intn(5)
		g.Go(func() error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			switch action {
			case 0:
				return p.With(ctx, func(h *Handle) error {
					if h.ID() < 0 || h.ID() >= size {
						return fmt.Errorf("handle id %d out of range", h.ID())
					}
					return nil
				})
			case 1:
				if err := p.With(ctx, func(*Handle) error { return boom }); !errors.Is(err, boom) {
					return fmt.Errorf("expected boom, got %v", err)
				}
			case 2:
				func() {
					defer func() { _ = recover() }()
					_ = p.With(ctx, func(*Handle) error { panic("scoped function panicked") })
				}()
			case 3:
				cancel()
				err := p.With(ctx, func(*Handle) error { return nil })
				if err != nil && !errcode.Is(err, errcode.ResourceUnavailable) {
					return fmt.Errorf("canceled acquire: unexpected %v", err)
				}
			case 4:
				err := p.With(ctx, func(*Handle) error {
					cancel()
					return ctx.Err()
				})
				if !errors.Is(err, context.Canceled) {
					return fmt.Errorf("expected cancellation, got %v", err)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	inUse, waiting := p.Stats()
	assert.Zero(t, inUse)
	assert.Zero(t, waiting)
	assert.Len(t, p.handles, size)
}
