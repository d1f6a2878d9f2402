package benor

import (
	"sync"

	"github.com/usernamenenad/benor-quic/core"
)

// Health is what the thin status surface reports about a node.
type Health int

const (
	HealthHealthy Health = iota
	HealthFaulty
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthFaulty:
		return "faulty"
	default:
		return "unknown"
	}
}

// State is the node's consensus state. The round loop is its only writer;
// reads from other goroutines go through the accessors or BenOr.Snapshot.
type State struct {
	mu      sync.RWMutex
	value   core.Value
	round   core.Round
	decided bool
	stopped bool
}

func NewState(initial core.Value) *State {
	return &State{value: initial}
}

func (s *State) Value() core.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

func (s *State) Round() core.Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round
}

func (s *State) Decided() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decided
}

func (s *State) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// adopt records the outcome of a round's Resolve step. Once decided, the
// estimate is frozen: later calls cannot change it or revert the flag.
func (s *State) adopt(value core.Value, decided bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decided {
		return
	}
	s.value = value
	s.decided = decided
}

// advanceRound increments the round counter and returns the new round.
func (s *State) advanceRound() core.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round++
	return s.round
}

func (s *State) markStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *State) snapshot() (core.Value, core.Round, bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.round, s.decided, s.stopped
}

// Snapshot is the externally observable copy of a node's consensus state.
type Snapshot struct {
	NodeId  core.NodeId `json:"nodeId"`
	Value   core.Value  `json:"value"`
	Round   uint64      `json:"round"`
	Decided bool        `json:"decided"`
	Stopped bool        `json:"stopped"`
	Faulty  bool        `json:"faulty"`
}
