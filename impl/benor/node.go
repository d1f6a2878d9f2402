package benor

import (
	"github.com/usernamenenad/benor-quic/core"
)

// Node carries a participant's identity. The protocol is leaderless, so
// identity is all a peer ever needs to know about another.
type Node struct {
	id core.NodeId
}

func NewNode(id core.NodeId) *Node {
	return &Node{id: id}
}

func (n *Node) GetNodeId() core.NodeId {
	return n.id
}
