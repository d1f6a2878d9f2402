package benor

import (
	"fmt"

	"github.com/usernamenenad/benor-quic/core"
)

// Message is one Ben-Or protocol message. Messages are immutable once
// created and uniquely identified by (From, Round, Phase); a well-behaved
// sender emits at most one message per (round, phase).
type Message struct {
	Phase core.Phase
	From  core.NodeId
	Round core.Round
	Value core.Value
}

func (m *Message) String() string {
	return fmt.Sprintf("%s{from=%s round=%d value=%s}", m.Phase, m.From, m.Round, m.Value)
}
