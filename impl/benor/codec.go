package benor

import (
	"encoding/json"
	"fmt"

	"github.com/usernamenenad/benor-quic/core"
)

// wireMessage is the JSON peer envelope:
//
//	{"phase":"R","senderId":3,"round":2,"value":0}
//
// with "?" standing in for an unknown value.
type wireMessage struct {
	Phase    core.Phase `json:"phase"`
	SenderId int        `json:"senderId"`
	Round    uint64     `json:"round"`
	Value    core.Value `json:"value"`
}

// Codec serializes and deserializes protocol messages using JSON.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Marshal(msg core.Message) ([]byte, error) {
	m, ok := msg.(*Message)
	if !ok {
		return nil, fmt.Errorf("unsupported message type: %T", msg)
	}
	return json.Marshal(wireMessage{
		Phase:    m.Phase,
		SenderId: int(m.From),
		Round:    uint64(m.Round),
		Value:    m.Value,
	})
}

func (c *Codec) Unmarshal(data []byte) (core.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &Message{
		Phase: w.Phase,
		From:  core.NodeId(w.SenderId),
		Round: core.Round(w.Round),
		Value: w.Value,
	}, nil
}
