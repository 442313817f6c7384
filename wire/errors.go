// Package wire implements the Multiplexer wire protocol: the
// length+CRC32 frame format, a streaming deframer over that format, and
// the Envelope/Welcome message shapes carried inside frames.
package wire

import "fmt"

// FrameHeaderSize is the size in bytes of the length+crc frame header.
const FrameHeaderSize = 8

// FrameTooShortError is returned when a buffer claiming to hold a whole
// frame is shorter than the frame header.
type FrameTooShortError struct {
	Have int
}

func (e *FrameTooShortError) Error() string {
	return fmt.Sprintf("wire: frame too short: have %d bytes, need at least %d", e.Have, FrameHeaderSize)
}

// FrameTooLongError is returned by the fixed-length framing helpers when
// asked to treat a buffer of the wrong length as a single exact frame.
type FrameTooLongError struct {
	Have, Want int
}

func (e *FrameTooLongError) Error() string {
	return fmt.Sprintf("wire: frame too long: have %d bytes, want exactly %d", e.Have, e.Want)
}

// FrameCorruptedError is returned when a frame's contents fail their
// CRC32 check. The session that produced it must be closed; a corrupted
// frame cannot be resynchronised to.
type FrameCorruptedError struct {
	Want, Got int32
}

func (e *FrameCorruptedError) Error() string {
	return fmt.Sprintf("wire: frame corrupted: crc mismatch want=%d got=%d", e.Want, e.Got)
}
