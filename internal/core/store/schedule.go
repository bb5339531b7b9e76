package store

import (
	"log/slog"
	"time"
)

// Pending is a delayed deletion armed by ScheduleDelete. It fires on its own
// timer, independent of the request that armed it.
type Pending struct {
	id       uint64
	path     string
	deadline time.Time
	timer    *time.Timer
	done     chan struct{}
	result   Result
}

// Path returns the artifact the deletion targets.
func (p *Pending) Path() string { return p.path }

// Deadline returns when the deletion fires.
func (p *Pending) Deadline() time.Time { return p.deadline }

// Done is closed once the deletion has run or was cancelled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the deletion outcome. Valid after Done is closed; a
// cancelled deletion reports OutcomeAbsent with a zero Err.
func (p *Pending) Result() Result { return p.result }

// ScheduleDelete arms a one-shot deletion of path after the configured DeleteDelay.
func (s *Store) ScheduleDelete(path string) *Pending {
	return s.ScheduleDeleteAfter(path, s.cfg.DeleteDelay)
}

// ScheduleDeleteAfter arms a one-shot deletion of path after delay. A file that
// is already gone when the timer fires is a no-op.
func (s *Store) ScheduleDeleteAfter(path string, delay time.Duration) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	p := &Pending{
		id:       s.nextID,
		path:     path,
		deadline: s.now().Add(delay),
		done:     make(chan struct{}),
	}
	s.pending[p.id] = p
	p.timer = time.AfterFunc(delay, func() { s.fire(p.id) })

	s.log.Debug("Deletion scheduled", slog.String("path", path), slog.Duration("delay", delay))

	return p
}

// Cancel aborts a pending deletion. It returns false if the deletion already ran.
func (s *Store) Cancel(p *Pending) bool {
	s.mu.Lock()
	if _, ok := s.pending[p.id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, p.id)
	p.timer.Stop()
	s.mu.Unlock()

	p.result = Result{Path: p.path, Outcome: OutcomeAbsent}
	close(p.done)

	s.log.Debug("Deletion cancelled", slog.String("path", p.path))

	return true
}

// CancelPath aborts every pending deletion of path and returns how many were cancelled.
func (s *Store) CancelPath(path string) int {
	s.mu.Lock()
	var hits []*Pending
	for _, p := range s.pending {
		if p.path == path {
			hits = append(hits, p)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, p := range hits {
		if s.Cancel(p) {
			n++
		}
	}
	return n
}

// PendingCount returns how many deletions are armed.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) fire(id uint64) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	s.complete(p)
}

func (s *Store) complete(p *Pending) {
	res := s.remove(p.path)
	if res.Outcome == OutcomeDeleted {
		s.log.Info("Artifact removed after delay", slog.String("path", p.path))
	}
	s.report(SourceScheduled, res)

	p.result = res
	close(p.done)
}
