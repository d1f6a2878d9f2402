package core

import "strconv"

// NodeId identifies a peer. Ids are small integers assigned at deployment
// time and travel on the wire as the senderId field.
type NodeId int

func (id NodeId) String() string {
	return strconv.Itoa(int(id))
}

// Round is the consensus round counter. Rounds start at 0 and never regress
// for a given node.
type Round uint64

// Represents a general node data interface
type Node interface {
	GetNodeId() NodeId
}
