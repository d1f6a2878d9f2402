package benor

import "github.com/usernamenenad/benor-quic/core"

// ProposeFromR computes the P-phase proposal from one round's R messages:
// a value reported by an absolute majority of the cluster, or a coin flip
// when neither value clears N/2.
func ProposeFromR(msgs []core.Message, n uint64, coin core.Coin) core.Value {
	c0, c1 := countByValue(msgs)
	switch {
	case 2*c0 > n:
		return core.ValueZero
	case 2*c1 > n:
		return core.ValueOne
	default:
		return coin.Flip()
	}
}

// ResolveFromP computes the round outcome from one round's P messages.
//
// A value backed by N-F peers is final; one backed by F+1 peers becomes the
// next estimate; otherwise the next estimate is a coin flip. The two
// thresholds come from the standard quorum-intersection argument. A
// single-node cluster decides immediately with its value unchanged.
func ResolveFromP(msgs []core.Message, cfg *Config, current core.Value, coin core.Coin) (core.Value, bool) {
	if cfg.N == 1 {
		return current, true
	}

	c0, c1 := countByValue(msgs)

	// Deciding is only permitted while the fault bound holds. With the
	// bound violated the node may still adopt a value backed by F+1 peers,
	// but the termination clause stays disabled for its whole lifetime.
	if !cfg.BoundViolated() {
		switch {
		case c0 >= cfg.DecideThreshold():
			return core.ValueZero, true
		case c1 >= cfg.DecideThreshold():
			return core.ValueOne, true
		}
	}

	switch {
	case c0 >= cfg.AdoptThreshold():
		return core.ValueZero, false
	case c1 >= cfg.AdoptThreshold():
		return core.ValueOne, false
	default:
		return coin.Flip(), false
	}
}

func countByValue(msgs []core.Message) (c0, c1 uint64) {
	for _, raw := range msgs {
		m, ok := raw.(*Message)
		if !ok {
			continue
		}
		switch m.Value {
		case core.ValueZero:
			c0++
		case core.ValueOne:
			c1++
		}
	}
	return c0, c1
}
