package benor

import (
	"fmt"
	"sync"

	"github.com/usernamenenad/benor-quic/core"
)

// RoundStore buffers protocol messages per round, one R bucket and one P
// bucket each, keyed by sender so the last message per (sender, round,
// phase) wins. The transport reader records while the round loop reads.
type RoundStore struct {
	mu      sync.RWMutex
	buckets map[core.Round]*roundBucket
}

type roundBucket struct {
	r map[core.NodeId]core.Value
	p map[core.NodeId]core.Value
}

func NewRoundStore() *RoundStore {
	return &RoundStore{
		buckets: make(map[core.Round]*roundBucket),
	}
}

func (s *RoundStore) Record(msg core.Message) error {
	m, ok := msg.(*Message)
	if !ok {
		return fmt.Errorf("unsupported message type: %T", msg)
	}
	if !m.Value.IsBinary() {
		return fmt.Errorf("message value %s is not a binary estimate", m.Value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[m.Round]
	if !ok {
		b = &roundBucket{
			r: make(map[core.NodeId]core.Value),
			p: make(map[core.NodeId]core.Value),
		}
		s.buckets[m.Round] = b
	}

	switch m.Phase {
	case core.PhaseR:
		b.r[m.From] = m.Value
	case core.PhaseP:
		b.p[m.From] = m.Value
	default:
		return fmt.Errorf("invalid phase %d", m.Phase)
	}
	return nil
}

func (s *RoundStore) Read(round core.Round, phase core.Phase) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[round]
	if !ok {
		return nil, nil
	}

	bucket := b.r
	if phase == core.PhaseP {
		bucket = b.p
	}

	msgs := make([]core.Message, 0, len(bucket))
	for from, value := range bucket {
		msgs = append(msgs, &Message{Phase: phase, From: from, Round: round, Value: value})
	}
	return msgs, nil
}

func (s *RoundStore) Prune(before core.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for round := range s.buckets {
		if round+1 < before {
			delete(s.buckets, round)
		}
	}
}

// Len returns the number of retained round buckets.
func (s *RoundStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}
