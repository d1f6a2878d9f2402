package core

// Coin is the random-bit source used to break ties when no value clears a
// threshold. Implementations must return ValueZero or ValueOne with equal
// probability; tests substitute scripted sequences for exact assertions.
type Coin interface {
	Flip() Value
}
