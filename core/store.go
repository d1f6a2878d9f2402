package core

// Store buffers received protocol messages per round and phase.
type Store interface {
	// Record inserts msg into the bucket for its round and phase, creating
	// the bucket if absent. A later message from the same sender for the
	// same (round, phase) replaces the earlier one.
	Record(msg Message) error

	// Read returns the buffered messages for one round and phase, in
	// unspecified order.
	Read(round Round, phase Phase) ([]Message, error)

	// Prune discards every bucket for rounds strictly older than before-1,
	// keeping only the current round and the one immediately preceding it.
	Prune(before Round)
}
