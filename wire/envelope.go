package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope is the outer Multiplexer message. There is no .proto file to
// generate from in this environment, so the wire shape is produced
// directly with protowire's primitives rather than generated code.
type Envelope struct {
	ID         uint64
	From       uint64
	To         uint64 // optional, 0 = absent
	HasTo      bool
	Type       MessageType
	Timestamp  uint32
	References uint64 // optional, 0 = absent
	HasRefs    bool
	Workflow   []byte // optional
	Message    []byte // optional
}

const (
	envFieldID         protowire.Number = 1
	envFieldFrom       protowire.Number = 2
	envFieldTo         protowire.Number = 3
	envFieldType       protowire.Number = 4
	envFieldTimestamp  protowire.Number = 5
	envFieldReferences protowire.Number = 6
	envFieldWorkflow   protowire.Number = 7
	envFieldMessage    protowire.Number = 8
)

// Marshal encodes e as a protobuf-wire message.
func (e *Envelope) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, envFieldID, e.ID)
	b = appendVarintField(b, envFieldFrom, e.From)
	if e.HasTo {
		b = appendVarintField(b, envFieldTo, e.To)
	}
	b = appendVarintField(b, envFieldType, uint64(e.Type))
	b = appendVarintField(b, envFieldTimestamp, uint64(e.Timestamp))
	if e.HasRefs {
		b = appendVarintField(b, envFieldReferences, e.References)
	}
	if len(e.Workflow) > 0 {
		b = appendBytesField(b, envFieldWorkflow, e.Workflow)
	}
	if len(e.Message) > 0 {
		b = appendBytesField(b, envFieldMessage, e.Message)
	}
	return b
}

// UnmarshalEnvelope decodes b, previously produced by Marshal, into an
// Envelope.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	e := &Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: envelope: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case envFieldID:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			e.ID, b = v, b[n:]
		case envFieldFrom:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			e.From, b = v, b[n:]
		case envFieldTo:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			e.To, e.HasTo, b = v, true, b[n:]
		case envFieldType:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			e.Type, b = MessageType(v), b[n:] //nolint:gosec
		case envFieldTimestamp:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			e.Timestamp, b = uint32(v), b[n:] //nolint:gosec
		case envFieldReferences:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			e.References, e.HasRefs, b = v, true, b[n:]
		case envFieldWorkflow:
			v, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			e.Workflow, b = v, b[n:]
		case envFieldMessage:
			v, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			e.Message, b = v, b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("wire: envelope: bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func consumeVarint(b []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("wire: expected varint, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("wire: bad varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(b []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire: expected bytes, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("wire: bad bytes: %w", protowire.ParseError(n))
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}
