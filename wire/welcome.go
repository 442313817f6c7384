package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Welcome is the handshake payload carried in the first envelope (of
// type ConnectionWelcome) each side sends on a new connection.
type Welcome struct {
	ID                   uint64
	Type                 PeerType
	MultiplexerPassword  []byte // optional
}

const (
	welcomeFieldID       protowire.Number = 1
	welcomeFieldType     protowire.Number = 2
	welcomeFieldPassword protowire.Number = 3
)

// Marshal encodes w as a protobuf-wire message.
func (w *Welcome) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, welcomeFieldID, w.ID)
	b = appendVarintField(b, welcomeFieldType, uint64(w.Type))
	if len(w.MultiplexerPassword) > 0 {
		b = appendBytesField(b, welcomeFieldPassword, w.MultiplexerPassword)
	}
	return b
}

// UnmarshalWelcome decodes b, previously produced by Marshal, into a
// Welcome.
func UnmarshalWelcome(b []byte) (*Welcome, error) {
	w := &Welcome{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: welcome: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case welcomeFieldID:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			w.ID, b = v, b[n:]
		case welcomeFieldType:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			w.Type, b = PeerType(v), b[n:] //nolint:gosec
		case welcomeFieldPassword:
			v, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			w.MultiplexerPassword, b = v, b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("wire: welcome: bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return w, nil
}

// EncodeFrame is a convenience that marshals e and wraps it in a frame.
func (e *Envelope) EncodeFrame() []byte {
	return EncodeFrame(e.Marshal())
}
