package analysis

import (
	"context"
	"log"
	"sync"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

type task struct {
	sessionID string
	cancel    context.CancelFunc
}

// Supervisor owns the background runs. Each run gets its own cancellable
// context derived from the supervisor root, never from the request or
// connection that triggered it.
type Supervisor struct {
	root   context.Context
	stop   context.CancelFunc
	logger *log.Logger

	mu      sync.Mutex
	running map[domain.ID]*task
	wg      sync.WaitGroup
}

func NewSupervisor(logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	root, stop := context.WithCancel(context.Background())
	return &Supervisor{root: root, stop: stop, logger: logger, running: make(map[domain.ID]*task)}
}

// Launch starts fn in its own goroutine. It returns false when a run for id
// is already active or the supervisor is shutting down.
func (s *Supervisor) Launch(id domain.ID, sessionID string, fn func(ctx context.Context) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root.Err() != nil {
		return false
	}
	if _, ok := s.running[id]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(s.root)
	s.running[id] = &task{sessionID: sessionID, cancel: cancel}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("analysis_id=%s session_id=%s msg=run panicked panic=%v", id, sessionID, rec)
			}
		}()
		if err := fn(ctx); err != nil {
			s.logger.Printf("analysis_id=%s session_id=%s msg=run ended err=%v", id, sessionID, err)
		}
	}()
	return true
}

// Cancel aborts the run for id. It reports whether one was active.
func (s *Supervisor) Cancel(id domain.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.running[id]
	if ok {
		t.cancel()
	}
	return ok
}

// CancelSession aborts every run of a session and returns how many.
func (s *Supervisor) CancelSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.running {
		if t.sessionID == sessionID {
			t.cancel()
			n++
		}
	}
	return n
}

func (s *Supervisor) IsRunning(id domain.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Shutdown cancels all runs and waits for them until ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stop()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
