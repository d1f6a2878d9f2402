package core

import "fmt"

// Value is a binary consensus estimate. ValueUnknown is the sentinel for a
// node that has no settled estimate, for example a silent node that never
// joined a round.
type Value int8

const (
	ValueZero    Value = 0
	ValueOne     Value = 1
	ValueUnknown Value = -1
)

// IsBinary reports whether v is a settled estimate.
func (v Value) IsBinary() bool {
	return v == ValueZero || v == ValueOne
}

func (v Value) String() string {
	switch v {
	case ValueZero:
		return "0"
	case ValueOne:
		return "1"
	default:
		return "?"
	}
}

// MarshalJSON encodes a value the way the peer envelope carries it:
// the number 0 or 1, or the string "?" for the unknown sentinel.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v {
	case ValueZero:
		return []byte("0"), nil
	case ValueOne:
		return []byte("1"), nil
	default:
		return []byte(`"?"`), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "0":
		*v = ValueZero
	case "1":
		*v = ValueOne
	case `"?"`:
		*v = ValueUnknown
	default:
		return fmt.Errorf("invalid value %q", data)
	}
	return nil
}

// Phase identifies which of the two message exchanges within a round a
// message belongs to. R carries the sender's current estimate, P carries
// the value it chose after evaluating the R-phase responses.
type Phase uint8

const (
	PhaseR Phase = iota
	PhaseP
)

func (p Phase) String() string {
	switch p {
	case PhaseR:
		return "R"
	case PhaseP:
		return "P"
	default:
		return "UNKNOWN"
	}
}

func (p Phase) MarshalJSON() ([]byte, error) {
	switch p {
	case PhaseR:
		return []byte(`"R"`), nil
	case PhaseP:
		return []byte(`"P"`), nil
	default:
		return nil, fmt.Errorf("invalid phase %d", p)
	}
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"R"`:
		*p = PhaseR
	case `"P"`:
		*p = PhaseP
	default:
		return fmt.Errorf("invalid phase %q", data)
	}
	return nil
}
