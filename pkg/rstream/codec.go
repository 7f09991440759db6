package rstream

import (
	"encoding/binary"
	"sync"

	"github.com/streamrabbit/rstream/internal/wire"
)

// bufPool reuses encode buffers across writes to avoid an allocation per
// outbound frame.
type bufPool struct{ p *sync.Pool }

func newBufPool() bufPool {
	return bufPool{p: &sync.Pool{New: func() interface{} { b := make([]byte, 0, 1<<10); return &b }}}
}

func (p bufPool) get() []byte  { return (*p.p.Get().(*[]byte))[:0] }
func (p bufPool) put(b []byte) { p.p.Put(&b) }

// noCorrelation lists the commands that never carry a 32-bit correlation
// id in either direction.
var noCorrelation = map[commandKey]bool{
	keyPublish:        true,
	keyPublishConfirm: true,
	keyPublishError:   true,
	keyCredit:         true,
	keyStoreOffset:    true,
	keyDeliver:        true,
	keyMetadataUpdate: true,
	keyHeartbeat:      true,
	keyTune:           true,
}

// appendFrame renders key (with the given direction bit), an optional
// correlation id, and body into dst, returning the full length-prefixed
// frame.
func appendFrame(dst []byte, key commandKey, isResponse bool, corrID uint32, body []byte) []byte {
	start := len(dst)
	dst = wire.AppendInt32(dst, 0) // length placeholder, patched below
	k := key
	if isResponse {
		k |= responseFlag
	}
	dst = wire.AppendUint16(dst, uint16(k))
	dst = wire.AppendUint16(dst, protocolVersion)
	if !noCorrelation[key] {
		dst = wire.AppendUint32(dst, corrID)
	}
	dst = append(dst, body...)
	binary.BigEndian.PutUint32(dst[start:start+4], uint32(len(dst)-start-4))
	return dst
}

// encodeCommand encodes a client->server request frame.
func encodeCommand(dst []byte, c command, corrID uint32) []byte {
	body := c.appendTo(nil)
	return appendFrame(dst, c.key(), false, corrID, body)
}

// frameHeader is the decoded envelope of one inbound frame, body still raw.
type frameHeader struct {
	key        commandKey
	isResponse bool
	version    uint16
	corrID     uint32
	hasCorrID  bool
	body       []byte
}

// decodeFrameHeader parses a single whole frame payload (the bytes after
// the 32-bit length prefix have already been read off the wire).
func decodeFrameHeader(buf []byte) (frameHeader, error) {
	var h frameHeader
	if len(buf) < 4 {
		return h, ErrMalformedFrame
	}
	rd := wire.Reader{Src: buf}
	raw := rd.Uint16()
	h.version = rd.Uint16()
	h.isResponse = raw&uint16(responseFlag) != 0
	h.key = commandKey(raw &^ uint16(responseFlag))
	if !validKey(h.key) {
		return h, ErrUnknownCommand
	}
	if !noCorrelation[h.key] {
		h.corrID = rd.Uint32()
		h.hasCorrID = true
	}
	if rd.Err() != nil {
		return h, ErrMalformedFrame
	}
	h.body = rd.Src
	return h, nil
}

func validKey(k commandKey) bool {
	return k >= keyDeclarePublisher && k <= keyHeartbeat
}

// readFrameBytes reads one whole length-prefixed frame from r, enforcing
// maxSize (0 means no limit). It is used by the read loop in io.go, which
// is given the client's configured frame_max when the socket is opened; a
// lower value agreed at tune is not applied to inbound frames.
func readFrameBytes(r frameSource, maxSize uint32) ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := readFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(sizeBuf[:])
	if size == 0 {
		return nil, ErrMalformedFrame
	}
	if maxSize > 0 && size > maxSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, size)
	if _, err := readFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
