package wire

import (
	"encoding/binary"
	"hash/crc32"
)

// EncodeFrame wraps contents in the wire frame header: a little-endian
// u32 length followed by a little-endian i32 CRC32 (zlib/IEEE) of
// contents, followed by contents itself. The sign bit of the CRC is
// preserved rather than treated as an error — this is a compatibility
// quirk of the reference implementation, not a bug.
func EncodeFrame(contents []byte) []byte {
	frame := make([]byte, FrameHeaderSize+len(contents))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(contents)))
	crc := crc32ieee(contents)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(crc))
	copy(frame[FrameHeaderSize:], contents)
	return frame
}

// DecodeFrame validates that b is exactly one whole frame (header plus
// contents, no trailing bytes) and returns its contents.
func DecodeFrame(b []byte) ([]byte, error) {
	if len(b) < FrameHeaderSize {
		return nil, &FrameTooShortError{Have: len(b)}
	}
	length, _ := decodeHeader(b)
	want := FrameHeaderSize + int(length)
	if len(b) != want {
		return nil, &FrameTooLongError{Have: len(b), Want: want}
	}
	contents := b[FrameHeaderSize:]
	if err := verifyCRC(b, contents); err != nil {
		return nil, err
	}
	return contents, nil
}

// decodeHeader reads the length and crc fields out of an 8-byte header.
func decodeHeader(header []byte) (length uint32, crc int32) {
	length = binary.LittleEndian.Uint32(header[0:4])
	crc = int32(binary.LittleEndian.Uint32(header[4:8])) //nolint:gosec // wire format is signed
	return
}

func verifyCRC(header, contents []byte) error {
	_, want := decodeHeader(header)
	got := crc32ieee(contents)
	if got != want {
		return &FrameCorruptedError{Want: want, Got: got}
	}
	return nil
}

// crc32ieee computes the zlib/IEEE CRC-32 of b as a signed i32, matching
// the wire format's sign-preserving quirk.
func crc32ieee(b []byte) int32 {
	return int32(crc32.ChecksumIEEE(b)) //nolint:gosec // sign bit is part of the wire format
}
