package retry

// maxRetryIn caps the wait between attempts, in units
const maxRetryIn = 60

// sequence walks the Fibonacci numbers 1, 1, 2, 3, 5, ... and then stays at
// its ceiling
type sequence struct {
	prev, next int
	ceiling    int
}

func newSequence(ceiling int) *sequence {
	return &sequence{prev: 0, next: 1, ceiling: ceiling}
}

func (s *sequence) step() int {
	if s.next >= s.ceiling {
		return s.ceiling
	}
	n := s.next
	s.prev, s.next = s.next, s.prev+s.next
	return n
}
