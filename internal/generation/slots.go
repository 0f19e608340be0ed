package generation

import (
	"context"
	"sync"
)

// loop is one running polling loop. apply and stop share mu, so once stop
// returns no callback of this loop is running or will run.
type loop struct {
	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
	handle    JobHandle
	done      chan struct{}
}

func (l *loop) apply(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancelled {
		return
	}
	fn()
}

func (l *loop) stop() {
	l.mu.Lock()
	l.cancelled = true
	l.mu.Unlock()
	l.cancel()
}

// Slots keeps at most one active polling loop per key.
type Slots struct {
	mu    sync.Mutex
	loops map[string]*loop
}

func NewSlots() *Slots {
	return &Slots{loops: make(map[string]*loop)}
}

// Start runs poller for handle in the slot named key, cancelling whatever loop
// held the slot before. The loop outlives parent's cancellation but keeps its
// values. Callbacks must not call back into the same slot.
func (s *Slots) Start(parent context.Context, key string, handle JobHandle, poller *Poller, onUpdate func(JobStatus), onTerminal func(Result)) <-chan struct{} {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	l := &loop{cancel: cancel, handle: handle, done: make(chan struct{})}

	s.mu.Lock()
	prev := s.loops[key]
	s.loops[key] = l
	s.mu.Unlock()

	if prev != nil {
		prev.stop()
	}

	go func() {
		defer close(l.done)
		defer s.release(key, l)
		defer cancel()

		poller.Run(ctx, handle,
			func(status JobStatus) {
				if onUpdate != nil {
					l.apply(func() { onUpdate(status) })
				}
			},
			func(r Result) {
				if onTerminal != nil {
					l.apply(func() { onTerminal(r) })
				}
			})
	}()

	return l.done
}

// Cancel stops the loop in slot key. It reports whether a loop was active.
func (s *Slots) Cancel(key string) bool {
	s.mu.Lock()
	l := s.loops[key]
	delete(s.loops, key)
	s.mu.Unlock()

	if l == nil {
		return false
	}
	l.stop()
	return true
}

// Active returns the job being polled in slot key, if any.
func (s *Slots) Active(key string) (JobHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loops[key]
	if !ok {
		return "", false
	}
	return l.handle, true
}

// Done returns a channel closed when the loop in slot key exits. The channel
// is already closed if the slot is empty.
func (s *Slots) Done(key string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.loops[key]; ok {
		return l.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// CancelAll stops every loop, used on shutdown.
func (s *Slots) CancelAll() {
	s.mu.Lock()
	loops := s.loops
	s.loops = make(map[string]*loop)
	s.mu.Unlock()

	for _, l := range loops {
		l.stop()
	}
}

func (s *Slots) release(key string, l *loop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loops[key] == l {
		delete(s.loops, key)
	}
}
