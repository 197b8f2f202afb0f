package reconcile

import (
	"context"
	"sync"

	"github.com/pluqqy/funnelkit/pkg/models"
)

// SaveFunc performs one save.
type SaveFunc func(ctx context.Context) (*models.Remap, error)

// Serializer runs at most one save per funnel at a time. A save that arrives
// while another is running waits; if a newer save arrives before it starts,
// the waiting one returns ErrSuperseded without running. The running save is
// never interrupted.
type Serializer struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	waiter *waiter
}

type waiter struct {
	ready chan struct{}
	err   error
}

func NewSerializer() *Serializer {
	return &Serializer{lanes: map[string]*lane{}}
}

// InFlight reports whether a save for funnelID is running or queued.
func (s *Serializer) InFlight(funnelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lanes[funnelID]
	return ok
}

// Do runs fn once the funnel's lane is free.
func (s *Serializer) Do(ctx context.Context, funnelID string, fn SaveFunc) (*models.Remap, error) {
	s.mu.Lock()
	l, busy := s.lanes[funnelID]
	if !busy {
		l = &lane{}
		s.lanes[funnelID] = l
		s.mu.Unlock()
	} else {
		w := &waiter{ready: make(chan struct{})}
		if prev := l.waiter; prev != nil {
			prev.err = ErrSuperseded
			close(prev.ready)
		}
		l.waiter = w
		s.mu.Unlock()

		if err := s.wait(ctx, l, w); err != nil {
			return nil, err
		}
	}

	defer s.release(funnelID, l)
	return fn(ctx)
}

// wait blocks until w is handed the lane, superseded, or ctx ends. A nil
// return means the caller owns the lane.
func (s *Serializer) wait(ctx context.Context, l *lane, w *waiter) error {
	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
	}

	s.mu.Lock()
	if l.waiter == w {
		l.waiter = nil
		s.mu.Unlock()
		return ctx.Err()
	}
	s.mu.Unlock()

	// Already handed off or superseded; ready is closed.
	<-w.ready
	if w.err != nil {
		return w.err
	}
	return nil
}

func (s *Serializer) release(funnelID string, l *lane) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := l.waiter; w != nil {
		l.waiter = nil
		close(w.ready)
		return
	}
	delete(s.lanes, funnelID)
}
