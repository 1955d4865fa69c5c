// Package pool bounds the number of requests that touch the database at once.
// A Pool holds a fixed set of interchangeable handles; a request checks one
// out, uses its session, and returns it. Waiters are served in arrival order.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/packrat/pinserver/pkg/errcode"
)

var (
	// ErrForeignHandle is returned when a handle is released to a pool that
	// did not issue it.
	ErrForeignHandle = errors.New("handle does not belong to this pool")
	// ErrDoubleRelease is returned when a handle is released twice.
	ErrDoubleRelease = errors.New("handle released twice")
)

// Handle is a checked-out slot of the pool.
type Handle struct {
	id   int
	db   *gorm.DB
	pool *Pool
	out  bool
}

// ID identifies the handle within its pool.
func (h *Handle) ID() int { return h.id }

// DB returns the session the handle grants, bound to ctx.
func (h *Handle) DB(ctx context.Context) *gorm.DB {
	if h.db == nil {
		return nil
	}
	return h.db.WithContext(ctx)
}

// Pool is a fixed-size set of handles.
type Pool struct {
	handles chan *Handle
	size    int

	mu      sync.Mutex
	inUse   int
	waiting int
}

// New creates a pool of size handles over db. A size of zero or less uses
// runtime.NumCPU(). db may be nil for pools that only gate concurrency.
func New(db *gorm.DB, size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{handles: make(chan *Handle, size), size: size}
	for i := 0; i < size; i++ {
		p.handles <- &Handle{id: i, db: db, pool: p}
	}
	return p
}

// Size returns the number of handles.
func (p *Pool) Size() int { return p.size }

// Stats reports handles in use and requests waiting.
func (p *Pool) Stats() (inUse, waiting int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse, p.waiting
}

// Acquire checks out a handle, blocking until one is free or ctx ends. A
// context that ends first yields a ResourceUnavailable error.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	select {
	case h := <-p.handles:
		p.checkout(h)
		return h, nil
	default:
	}

	if err := ctx.Err(); err != nil {
		CounterAcquireFailed.Inc()
		return nil, errcode.Wrap(errcode.ResourceUnavailable, fmt.Errorf("acquire handle: %w", err))
	}

	start := time.Now()
	p.wait(1)
	defer p.wait(-1)

	select {
	case h := <-p.handles:
		HistogramAcquireSeconds.Observe(time.Since(start).Seconds())
		p.checkout(h)
		return h, nil
	case <-ctx.Done():
		CounterAcquireFailed.Inc()
		return nil, errcode.Wrap(errcode.ResourceUnavailable,
			fmt.Errorf("acquire handle: all %d handles busy: %w", p.size, ctx.Err()))
	}
}

// Release returns a handle. Releasing a handle twice or to the wrong pool is
// reported as an error and leaves the pool unchanged.
func (p *Pool) Release(h *Handle) error {
	if h == nil || h.pool != p {
		return ErrForeignHandle
	}
	p.mu.Lock()
	if !h.out {
		p.mu.Unlock()
		return ErrDoubleRelease
	}
	h.out = false
	p.inUse--
	p.mu.Unlock()

	GaugeHandlesInUse.Dec()
	p.handles <- h
	return nil
}

// With runs fn with a checked-out handle and releases it on every exit path,
// including a panic in fn.
func (p *Pool) With(ctx context.Context, fn func(*Handle) error) (err error) {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := p.Release(h); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(h)
}

func (p *Pool) checkout(h *Handle) {
	p.mu.Lock()
	h.out = true
	p.inUse++
	p.mu.Unlock()
	GaugeHandlesInUse.Inc()
}

func (p *Pool) wait(delta int) {
	p.mu.Lock()
	p.waiting += delta
	p.mu.Unlock()
	GaugeWaiters.Add(float64(delta))
}
