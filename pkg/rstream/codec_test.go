package rstream

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendFrameOmitsCorrelationForUncorrelatedKeys(t *testing.T) {
	buf := appendFrame(nil, keyPublish, false, 42, []byte{0xAA})
	hdr, err := decodeFrameHeader(buf[4:])
	require.NoError(t, err)
	require.False(t, hdr.hasCorrID)
	require.EqualValues(t, 0, hdr.corrID)
	require.Equal(t, keyPublish, hdr.key)
}

func TestAppendFrameIncludesCorrelationForTrackedKeys(t *testing.T) {
	buf := appendFrame(nil, keyCreateStream, false, 7, []byte{0xBB})
	hdr, err := decodeFrameHeader(buf[4:])
	require.NoError(t, err)
	require.True(t, hdr.hasCorrID)
	require.EqualValues(t, 7, hdr.corrID)
}

func TestAppendFrameCloseAlwaysCorrelated(t *testing.T) {
	// close rides both directions and is always correlated, even though
	// it otherwise behaves like a server-initiated request.
	buf := appendFrame(nil, keyClose, true, 99, nil)
	hdr, err := decodeFrameHeader(buf[4:])
	require.NoError(t, err)
	require.True(t, hdr.hasCorrID)
	require.EqualValues(t, 99, hdr.corrID)
	require.True(t, hdr.isResponse)
}

func TestDecodeFrameHeaderResponseFlag(t *testing.T) {
	buf := appendFrame(nil, keyOpen, true, 3, nil)
	hdr, err := decodeFrameHeader(buf[4:])
	require.NoError(t, err)
	require.True(t, hdr.isResponse)
	require.Equal(t, keyOpen, hdr.key)
}

func TestDecodeFrameHeaderUnknownKey(t *testing.T) {
	buf := appendFrame(nil, commandKey(0x7E), false, 1, nil)
	_, err := decodeFrameHeader(buf[4:])
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestEncodeCommandRoundTrip(t *testing.T) {
	req := &createStreamRequest{stream: "orders", arguments: map[string]string{"max-age": "1h"}}
	buf := encodeCommand(nil, req, 5)

	length := int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	require.Equal(t, length, len(buf)-4)

	hdr, err := decodeFrameHeader(buf[4:])
	require.NoError(t, err)
	require.Equal(t, keyCreateStream, hdr.key)
	require.EqualValues(t, 5, hdr.corrID)
	require.False(t, hdr.isResponse)
}

func TestReadFrameBytesEnforcesFrameMax(t *testing.T) {
	buf := appendFrame(nil, keyHeartbeat, false, 0, nil)
	buf = append(buf, make([]byte, 100)...) // pad so size exceeds a tiny max
	binaryPutSize(buf, uint32(len(buf)-4))
	_, err := readFrameBytes(bytes.NewReader(buf), 4)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameBytesRejectsZeroSize(t *testing.T) {
	_, err := readFrameBytes(bytes.NewReader([]byte{0, 0, 0, 0}), 0)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadFrameBytesPropagatesShortRead(t *testing.T) {
	_, err := readFrameBytes(bytes.NewReader([]byte{0, 0, 0, 5, 1, 2}), 0)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func binaryPutSize(buf []byte, size uint32) {
	buf[0] = byte(size >> 24)
	buf[1] = byte(size >> 16)
	buf[2] = byte(size >> 8)
	buf[3] = byte(size)
}
