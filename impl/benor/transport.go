package benor

import (
	"context"
	"fmt"
	"sync"

	"github.com/usernamenenad/benor-quic/core"
)

const inboxSize = 256

// Network is an in-process message fabric connecting a fixed-size set of
// nodes through buffered channels. It models the best-effort envelope of
// the real transports: a slow or silent receiver overflows its inbox and
// loses messages instead of blocking the sender. Tests and the simulator
// run whole clusters on it.
type Network struct {
	expected int

	mu      sync.RWMutex
	inboxes map[core.NodeId]chan core.Message

	readyOnce sync.Once
	readyCh   chan struct{}
}

func NewNetwork(expected int) *Network {
	return &Network{
		expected: expected,
		inboxes:  make(map[core.NodeId]chan core.Message),
		readyCh:  make(chan struct{}),
	}
}

// Join registers a node on the fabric and returns its transport endpoint.
// The readiness gate opens once the expected number of nodes has joined.
func (n *Network) Join(id core.NodeId) *ChanTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.inboxes[id]; !ok {
		n.inboxes[id] = make(chan core.Message, inboxSize)
		if len(n.inboxes) >= n.expected {
			n.readyOnce.Do(func() { close(n.readyCh) })
		}
	}
	return &ChanTransport{net: n, id: id}
}

// ChanTransport is one node's endpoint on a Network.
type ChanTransport struct {
	net *Network
	id  core.NodeId
}

func (t *ChanTransport) Broadcast(ctx context.Context, msg core.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.net.mu.RLock()
	defer t.net.mu.RUnlock()

	for id, inbox := range t.net.inboxes {
		if id == t.id {
			continue
		}
		select {
		case inbox <- msg:
		default:
			// Full inbox: the peer is not draining, drop like a lost packet.
		}
	}
	return nil
}

func (t *ChanTransport) Send(ctx context.Context, nodeId core.NodeId, msg core.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.net.mu.RLock()
	inbox, ok := t.net.inboxes[nodeId]
	t.net.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no route to node %s", nodeId)
	}
	select {
	case inbox <- msg:
	default:
	}
	return nil
}

func (t *ChanTransport) Subscribe() <-chan core.Message {
	t.net.mu.RLock()
	defer t.net.mu.RUnlock()
	return t.net.inboxes[t.id]
}

func (t *ChanTransport) WaitForReady() {
	<-t.net.readyCh
}
