package core

import "context"

type Message interface{}

// Transport is the peer-to-peer boundary layer. Delivery is best-effort,
// fire-and-forget and asynchronous: a peer that cannot be reached is
// skipped, modeling an unreliable or faulty peer.
type Transport interface {
	// Broadcast sends msg to every connected peer. Per-peer delivery
	// failures are swallowed; the returned error is reserved for local
	// failures such as a cancelled context.
	Broadcast(ctx context.Context, msg Message) error

	// Send sends msg to a single peer.
	Send(ctx context.Context, nodeId NodeId, msg Message) error

	// Subscribe returns the channel delivering inbound peer messages.
	Subscribe() <-chan Message

	// WaitForReady blocks until the transport has connectivity to all
	// configured peers. The round driver gates its first round on it.
	WaitForReady()
}
