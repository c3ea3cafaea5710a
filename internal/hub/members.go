package hub

// memberSet is an insertion-ordered set of connections. Order is join order,
// which makes peer lists and signal target resolution deterministic.
type memberSet struct {
	order []*Conn
	index map[*Conn]int
}

func newMemberSet() *memberSet {
	return &memberSet{index: make(map[*Conn]int)}
}

func (s *memberSet) add(c *Conn) bool {
	if _, ok := s.index[c]; ok {
		return false
	}
	s.index[c] = len(s.order)
	s.order = append(s.order, c)
	return true
}

func (s *memberSet) remove(c *Conn) bool {
	i, ok := s.index[c]
	if !ok {
		return false
	}
	delete(s.index, c)
	copy(s.order[i:], s.order[i+1:])
	s.order[len(s.order)-1] = nil
	s.order = s.order[:len(s.order)-1]
	for j := i; j < len(s.order); j++ {
		s.index[s.order[j]] = j
	}
	return true
}

func (s *memberSet) has(c *Conn) bool {
	_, ok := s.index[c]
	return ok
}

func (s *memberSet) len() int {
	return len(s.order)
}

// members returns the members in join order. The slice is shared; callers
// must not retain it past the owning lock.
func (s *memberSet) members() []*Conn {
	return s.order
}
