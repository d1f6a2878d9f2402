package benor

import (
	"errors"
	"fmt"
	"time"

	"github.com/usernamenenad/benor-quic/core"
)

// DefaultWindow is the round window used when no window function is
// supplied: how long a node waits in each phase for peer messages.
const DefaultWindow = 250 * time.Millisecond

// Config describes one node's view of the cluster.
type Config struct {
	// N is the total number of peers, including this node.
	N uint64

	// F is the number of peers assumed faulty (silent, non-responsive).
	F uint64

	// Window returns the collection window for the given round. Messages
	// arriving after the window closes are not counted for that round.
	Window func(round core.Round) time.Duration
}

func NewConfig(n, f uint64, window func(core.Round) time.Duration) (*Config, error) {
	if n == 0 {
		return nil, errors.New("cluster needs at least one node")
	}
	if f >= n {
		return nil, fmt.Errorf("fault count %d must be smaller than cluster size %d", f, n)
	}
	if window == nil {
		window = func(core.Round) time.Duration { return DefaultWindow }
	}
	return &Config{N: n, F: f, Window: window}, nil
}

// DecideThreshold is the number of same-valued P messages required to
// safely fix a final value: N - F.
func (c *Config) DecideThreshold() uint64 {
	return c.N - c.F
}

// AdoptThreshold is the number of same-valued P messages required to safely
// adopt a value as the next estimate: F + 1.
func (c *Config) AdoptThreshold() uint64 {
	return c.F + 1
}

// BoundViolated reports whether the configured fault count exceeds the N/2
// bound under which termination is guaranteed. A node running with the
// bound violated keeps cycling rounds and never reports a decision; safety
// is preserved, only liveness is forfeited. This is the single authoritative
// check: the decision engine and the snapshot path both go through it.
func (c *Config) BoundViolated() bool {
	return 2*c.F > c.N
}
