package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	contents := []byte("hello multiplexer")
	frame := EncodeFrame(contents)

	got, err := DecodeFrame(frame)
	require.NoError(t, err)
	require.Equal(t, contents, got)
}

func TestDecodeFrameTooShort(t *testing.T) {
	_, err := DecodeFrame([]byte{1, 2, 3})
	require.Error(t, err)
	var tooShort *FrameTooShortError
	require.ErrorAs(t, err, &tooShort)
}

func TestDecodeFrameTooLong(t *testing.T) {
	frame := EncodeFrame([]byte("abc"))
	_, err := DecodeFrame(append(frame, 0xFF))
	require.Error(t, err)
	var tooLong *FrameTooLongError
	require.ErrorAs(t, err, &tooLong)
}

func TestDecodeFrameCorrupted(t *testing.T) {
	frame := EncodeFrame([]byte("abc"))
	frame[FrameHeaderSize] ^= 0xFF // flip a content byte, crc now mismatches
	_, err := DecodeFrame(frame)
	require.Error(t, err)
	var corrupted *FrameCorruptedError
	require.ErrorAs(t, err, &corrupted)
}

func TestEnvelopeMarshalRoundTrip(t *testing.T) {
	e := &Envelope{
		ID:        42,
		From:      7,
		To:        9,
		HasTo:     true,
		Type:      Ping,
		Timestamp: 1_700_000_000,
		Message:   []byte("payload"),
	}
	got, err := UnmarshalEnvelope(e.Marshal())
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestEnvelopeMarshalRoundTripOptionalsAbsent(t *testing.T) {
	e := &Envelope{ID: 1, From: 2, Type: Heartbit, Timestamp: 123}
	got, err := UnmarshalEnvelope(e.Marshal())
	require.NoError(t, err)
	require.Equal(t, e, got)
	require.False(t, got.HasTo)
	require.False(t, got.HasRefs)
}

func TestWelcomeMarshalRoundTrip(t *testing.T) {
	w := &Welcome{ID: 55, Type: Multiplexer, MultiplexerPassword: []byte("secret")}
	got, err := UnmarshalWelcome(w.Marshal())
	require.NoError(t, err)
	require.Equal(t, w, got)
}
