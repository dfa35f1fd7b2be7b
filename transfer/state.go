package transfer

import "sync"

// State is the per-session transfer state: the adaptive size plus unit
// counters. It is created when a session starts and discarded with it.
type State struct {
	size *SizeController

	mu          sync.Mutex
	attempted   int
	outstanding int
	succeeded   int
	failed      int
	skipped     int
	bytes       int64
}

// StateSnapshot is a consistent copy of the State counters.
type StateSnapshot struct {
	UnitSize    int
	Attempted   int
	Outstanding int
	Succeeded   int
	Failed      int
	Skipped     int
	Bytes       int64
}

// NewState wraps a controller.
func NewState(size *SizeController) *State {
	return &State{size: size}
}

// Controller returns the adaptive size controller.
func (s *State) Controller() *SizeController {
	return s.size
}

func (s *State) unitStarted() {
	s.mu.Lock()
	s.outstanding++
	s.mu.Unlock()
}

func (s *State) attemptMade() {
	s.mu.Lock()
	s.attempted++
	s.mu.Unlock()
}

func (s *State) unitFinished(status unitOutcome, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outstanding--
	switch status {
	case outcomeUploaded:
		s.succeeded++
		s.bytes += int64(n)
	case outcomeFailed:
		s.failed++
	case outcomeSkipped:
		s.skipped++
	}
}

// Snapshot returns the current counters.
func (s *State) Snapshot() StateSnapshot {
	size := s.size.Size()
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateSnapshot{
		UnitSize:    size,
		Attempted:   s.attempted,
		Outstanding: s.outstanding,
		Succeeded:   s.succeeded,
		Failed:      s.failed,
		Skipped:     s.skipped,
		Bytes:       s.bytes,
	}
}

type unitOutcome int

const (
	outcomeUploaded unitOutcome = iota
	outcomeFailed
	outcomeSkipped
)
