package wire

// deframerState tracks whether the deframer is waiting on a frame
// header or on the remainder of a frame's contents.
type deframerState int

const (
	preHeader deframerState = iota
	preContents
)

// Deframer is a streaming decoder of length+CRC frames. Push bytes to it
// as they arrive off the wire; each call returns the whole frame
// contents that became decodable as a result, in order.
//
// A Deframer is not safe for concurrent use; callers must serialize
// access (in this module, only the per-channel reader goroutine ever
// touches one).
type Deframer struct {
	buf   *ByteFIFO
	state deframerState

	pendingLength uint32
	pendingCRC    int32
}

// NewDeframer returns an empty Deframer in the PRE_HEADER state.
func NewDeframer() *Deframer {
	return &Deframer{buf: NewByteFIFO(), state: preHeader}
}

// Push appends chunk to the internal buffer and returns every frame's
// contents that can now be fully decoded and validated.
//
// A FrameCorruptedError terminates the session: once returned, the
// Deframer must not be pushed to again; the caller closes the channel.
func (d *Deframer) Push(chunk []byte) ([][]byte, error) {
	d.buf.Push(chunk)

	var out [][]byte
	for {
		switch d.state {
		case preHeader:
			if d.buf.Available() < FrameHeaderSize {
				return out, nil
			}
			header := d.buf.PeekN(FrameHeaderSize)
			d.pendingLength, d.pendingCRC = decodeHeader(header)
			d.buf.Consume(FrameHeaderSize)
			d.state = preContents

		case preContents:
			if d.buf.Available() < int(d.pendingLength) {
				return out, nil
			}
			contents := d.buf.PeekN(int(d.pendingLength))
			d.buf.Consume(int(d.pendingLength))
			d.state = preHeader

			if err := d.validate(contents); err != nil {
				return out, err
			}
			out = append(out, contents)
		}
	}
}

func (d *Deframer) validate(contents []byte) error {
	if got := crc32ieee(contents); got != d.pendingCRC {
		return &FrameCorruptedError{Want: d.pendingCRC, Got: got}
	}
	return nil
}
