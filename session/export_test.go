package session

// QueueLen returns number of operations queued while session is opening.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opening == nil {
		return 0
	}
	return len(s.opening.queue)
}
