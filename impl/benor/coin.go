package benor

import (
	"math/rand/v2"

	"github.com/usernamenenad/benor-quic/core"
)

// RandCoin draws fair bits from math/rand/v2.
type RandCoin struct{}

func (RandCoin) Flip() core.Value {
	if rand.IntN(2) == 0 {
		return core.ValueZero
	}
	return core.ValueOne
}

// FuncCoin adapts a function to core.Coin so tests can script the exact
// sequence of flips.
type FuncCoin func() core.Value

func (f FuncCoin) Flip() core.Value {
	return f()
}
