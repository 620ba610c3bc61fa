package worker

import "sync"

// busyState is the single point of mutation for a worker's busy flag. The
// award handler and the execution completion path both touch the flag, so
// raw field writes from the two call paths are not allowed; every transition
// goes through these methods.
type busyState struct {
	mu   sync.Mutex
	busy bool
}

// Begin marks the worker busy and reports whether it already was. The
// caller decides what an already-busy transition means; this type only
// guarantees the flag cannot be read or written concurrently.
func (s *busyState) Begin() (alreadyBusy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alreadyBusy = s.busy
	s.busy = true
	return alreadyBusy
}

// Clear marks the worker idle.
func (s *busyState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

// Busy reports the current flag.
func (s *busyState) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}
