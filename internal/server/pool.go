package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/notescribe/pkg/transcribe"
)

// errNoTranscriber is reported by readiness checks before a transcriber is set
// or after the pool was closed.
var errNoTranscriber = errors.New("server: no transcriber available")

// lease tracks the in-flight calls of one transcriber so it can be closed once
// they finish.
type lease struct {
	t  *transcribe.Transcriber
	wg sync.WaitGroup
}

// Pool holds the live transcriber. Hot reloads [Pool.Swap] in a new one; the
// previous transcriber keeps serving the calls that already acquired it and
// is closed when the last of them returns.
type Pool struct {
	mu     sync.RWMutex
	cur    *lease
	closed bool
	log    *slog.Logger
}

// NewPool returns a pool serving t.
func NewPool(t *transcribe.Transcriber) *Pool {
	return &Pool{cur: &lease{t: t}, log: slog.Default()}
}

// Acquire returns the current transcriber and a release function that must be
// called once the caller is done with it. It returns nil after [Pool.Close].
func (p *Pool) Acquire() (*transcribe.Transcriber, func()) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || p.cur == nil {
		return nil, func() {}
	}
	l := p.cur
	l.wg.Add(1)
	return l.t, l.wg.Done
}

// Swap replaces the current transcriber with t. The old one is closed in the
// background after its in-flight calls drain. Swapping into a closed pool
// closes t immediately.
func (p *Pool) Swap(t *transcribe.Transcriber) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if err := t.Close(); err != nil {
			p.log.Warn("server: close transcriber", "err", err)
		}
		return
	}
	old := p.cur
	p.cur = &lease{t: t}
	p.mu.Unlock()

	if old != nil {
		go p.retire(old)
	}
}

func (p *Pool) retire(l *lease) {
	l.wg.Wait()
	if err := l.t.Close(); err != nil {
		p.log.Warn("server: close retired transcriber", "err", err)
	}
}

// Ready reports whether an open transcriber is available. It has the
// signature of a health check.
func (p *Pool) Ready(_ context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || p.cur == nil {
		return errNoTranscriber
	}
	if p.cur.t.Closed() {
		return transcribe.ErrClosed
	}
	return nil
}

// Close stops handing out the transcriber, waits for in-flight calls until
// ctx is done and then closes it. It is idempotent.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	l := p.cur
	p.cur = nil
	p.mu.Unlock()

	if l == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn("server: closing transcriber with calls in flight", "err", ctx.Err())
	}
	return l.t.Close()
}
