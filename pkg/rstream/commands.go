package rstream

import (
	"github.com/streamrabbit/rstream/internal/wire"
)

const protocolVersion uint16 = 1

// command is a request-direction frame body the client can send.
type command interface {
	key() commandKey
	appendTo(dst []byte) []byte
}

// reply is a response or server-initiated-request frame body the client
// can receive.
type reply interface {
	readFrom(src []byte) error
}

// --- peer_properties ---------------------------------------------------

type peerPropertiesRequest struct {
	properties map[string]string
}

func (r *peerPropertiesRequest) key() commandKey { return keyPeerProperties }
func (r *peerPropertiesRequest) appendTo(dst []byte) []byte {
	return wire.AppendStringMap(dst, r.properties)
}

type peerPropertiesResponse struct {
	code       ResponseCode
	properties map[string]string
}

func (r *peerPropertiesResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	r.properties = rd.StringMap()
	return rd.Complete()
}

// --- sasl_handshake ------------------------------------------------------

type saslHandshakeRequest struct{}

func (r *saslHandshakeRequest) key() commandKey             { return keySASLHandshake }
func (r *saslHandshakeRequest) appendTo(dst []byte) []byte { return dst }

type saslHandshakeResponse struct {
	code       ResponseCode
	mechanisms []string
}

func (r *saslHandshakeResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	r.mechanisms = rd.StringArray()
	return rd.Complete()
}

// --- sasl_authenticate ---------------------------------------------------

type saslAuthenticateRequest struct {
	mechanism string
	opaque    []byte
}

func (r *saslAuthenticateRequest) key() commandKey { return keySASLAuthenticate }
func (r *saslAuthenticateRequest) appendTo(dst []byte) []byte {
	dst = wire.AppendString(dst, r.mechanism)
	return wire.AppendBytes(dst, r.opaque)
}

type saslAuthenticateResponse struct {
	code   ResponseCode
	opaque []byte
}

func (r *saslAuthenticateResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	r.opaque = rd.Bytes()
	return rd.Complete()
}

// --- tune (no correlation id either direction) ---------------------------

type tuneFrame struct {
	frameMax  uint32
	heartbeat uint32
}

func (r *tuneFrame) key() commandKey { return keyTune }
func (r *tuneFrame) appendTo(dst []byte) []byte {
	dst = wire.AppendUint32(dst, r.frameMax)
	return wire.AppendUint32(dst, r.heartbeat)
}
func (r *tuneFrame) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.frameMax = rd.Uint32()
	r.heartbeat = rd.Uint32()
	return rd.Complete()
}

// --- open ------------------------------------------------------------------

type openRequest struct {
	vhost string
}

func (r *openRequest) key() commandKey             { return keyOpen }
func (r *openRequest) appendTo(dst []byte) []byte { return wire.AppendString(dst, r.vhost) }

type openResponse struct {
	code       ResponseCode
	properties map[string]string
}

func (r *openResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	r.properties = rd.StringMap()
	return rd.Complete()
}

// --- close: sent by either side, always correlated ------------------------

type closeRequest struct {
	code   ResponseCode
	reason string
}

func (r *closeRequest) key() commandKey { return keyClose }
func (r *closeRequest) appendTo(dst []byte) []byte {
	dst = wire.AppendUint16(dst, uint16(r.code))
	return wire.AppendString(dst, r.reason)
}
func (r *closeRequest) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	r.reason = rd.String()
	return rd.Complete()
}

type closeResponse struct {
	code ResponseCode
}

func (r *closeResponse) key() commandKey             { return keyClose }
func (r *closeResponse) appendTo(dst []byte) []byte { return wire.AppendUint16(dst, uint16(r.code)) }
func (r *closeResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	return rd.Complete()
}

// --- create_stream ----------------------------------------------------------

type createStreamRequest struct {
	stream    string
	arguments map[string]string
}

func (r *createStreamRequest) key() commandKey { return keyCreateStream }
func (r *createStreamRequest) appendTo(dst []byte) []byte {
	dst = wire.AppendString(dst, r.stream)
	return wire.AppendStringMap(dst, r.arguments)
}

type createStreamResponse struct{ code ResponseCode }

func (r *createStreamResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	return rd.Complete()
}

// --- delete_stream ----------------------------------------------------------

type deleteStreamRequest struct{ stream string }

func (r *deleteStreamRequest) key() commandKey             { return keyDeleteStream }
func (r *deleteStreamRequest) appendTo(dst []byte) []byte { return wire.AppendString(dst, r.stream) }

type deleteStreamResponse struct{ code ResponseCode }

func (r *deleteStreamResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	return rd.Complete()
}

// --- declare_publisher --------------------------------------------------

type declarePublisherRequest struct {
	publisherID uint8
	reference   string
	stream      string
}

func (r *declarePublisherRequest) key() commandKey { return keyDeclarePublisher }
func (r *declarePublisherRequest) appendTo(dst []byte) []byte {
	dst = wire.AppendUint8(dst, r.publisherID)
	dst = wire.AppendString(dst, r.reference)
	return wire.AppendString(dst, r.stream)
}

type declarePublisherResponse struct {
	code ResponseCode
	// publisherID is not on the wire; the actor stamps it in from the
	// tracker waiter's payload so the caller learns which id it got.
	publisherID uint8
}

func (r *declarePublisherResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	return rd.Complete()
}

// --- delete_publisher --------------------------------------------------

type deletePublisherRequest struct{ publisherID uint8 }

func (r *deletePublisherRequest) key() commandKey { return keyDeletePublisher }
func (r *deletePublisherRequest) appendTo(dst []byte) []byte {
	return wire.AppendUint8(dst, r.publisherID)
}

type deletePublisherResponse struct{ code ResponseCode }

func (r *deletePublisherResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	return rd.Complete()
}

// --- query_publisher_sequence --------------------------------------------

type queryPublisherSequenceRequest struct {
	reference string
	stream    string
}

func (r *queryPublisherSequenceRequest) key() commandKey { return keyQueryPublisherSequence }
func (r *queryPublisherSequenceRequest) appendTo(dst []byte) []byte {
	dst = wire.AppendString(dst, r.reference)
	return wire.AppendString(dst, r.stream)
}

type queryPublisherSequenceResponse struct {
	code     ResponseCode
	sequence uint64
}

func (r *queryPublisherSequenceResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	r.sequence = rd.Uint64()
	return rd.Complete()
}

// --- publish / publish_confirm / publish_error (no request correlation) --

// Message is a single payload to be appended to a stream under a
// publishing id the caller controls (typically a local monotonic
// counter kept by the publisher-side caller).
type Message struct {
	PublishingID uint64
	Data         []byte
}

type publishRequest struct {
	publisherID uint8
	messages    []Message
}

func (r *publishRequest) key() commandKey { return keyPublish }
func (r *publishRequest) appendTo(dst []byte) []byte {
	dst = wire.AppendUint8(dst, r.publisherID)
	dst = wire.AppendInt32(dst, int32(len(r.messages)))
	for _, m := range r.messages {
		dst = wire.AppendUint64(dst, m.PublishingID)
		dst = wire.AppendBytes(dst, m.Data)
	}
	return dst
}

// PublishConfirm is delivered asynchronously when the broker has
// persisted one or more previously published messages.
type PublishConfirm struct {
	PublisherID   uint8
	PublishingIDs []uint64
}

type publishConfirmFrame struct{ confirm PublishConfirm }

func (r *publishConfirmFrame) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.confirm.PublisherID = rd.Uint8()
	n := rd.Int32()
	for i := int32(0); i < n && rd.Err() == nil; i++ {
		r.confirm.PublishingIDs = append(r.confirm.PublishingIDs, rd.Uint64())
	}
	return rd.Complete()
}

// PublishingError pairs a rejected publishing id with the broker's code.
type PublishingError struct {
	PublishingID uint64
	Code         ResponseCode
}

// PublishError is delivered asynchronously when the broker rejects one or
// more previously published messages.
type PublishError struct {
	PublisherID uint8
	Errors      []PublishingError
}

type publishErrorFrame struct{ err PublishError }

func (r *publishErrorFrame) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.err.PublisherID = rd.Uint8()
	n := rd.Int32()
	for i := int32(0); i < n && rd.Err() == nil; i++ {
		id := rd.Uint64()
		code := ResponseCode(rd.Uint16())
		r.err.Errors = append(r.err.Errors, PublishingError{PublishingID: id, Code: code})
	}
	return rd.Complete()
}

// --- store_offset (fire and forget) --------------------------------------

type storeOffsetRequest struct {
	stream    string
	reference string
	offset    uint64
}

func (r *storeOffsetRequest) key() commandKey { return keyStoreOffset }
func (r *storeOffsetRequest) appendTo(dst []byte) []byte {
	dst = wire.AppendString(dst, r.stream)
	dst = wire.AppendString(dst, r.reference)
	return wire.AppendUint64(dst, r.offset)
}

// --- query_offset ---------------------------------------------------------

type queryOffsetRequest struct {
	stream    string
	reference string
}

func (r *queryOffsetRequest) key() commandKey { return keyQueryOffset }
func (r *queryOffsetRequest) appendTo(dst []byte) []byte {
	dst = wire.AppendString(dst, r.stream)
	return wire.AppendString(dst, r.reference)
}

type queryOffsetResponse struct {
	code   ResponseCode
	offset uint64
}

func (r *queryOffsetResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	r.offset = rd.Uint64()
	return rd.Complete()
}

// --- subscribe --------------------------------------------------------------

// OffsetKind selects where a subscription begins consuming from.
type OffsetKind uint16

const (
	OffsetKindFirst OffsetKind = iota
	OffsetKindLast
	OffsetKindNext
	OffsetKindAbsolute
	OffsetKindTimestamp
)

// OffsetSpec names a starting point for a subscription.
type OffsetSpec struct {
	Kind  OffsetKind
	Value int64 // meaningful for OffsetKindAbsolute and OffsetKindTimestamp
}

type subscribeRequest struct {
	subscriptionID uint8
	stream         string
	offset         OffsetSpec
	credit         uint16
	properties     map[string]string
}

func (r *subscribeRequest) key() commandKey { return keySubscribe }
func (r *subscribeRequest) appendTo(dst []byte) []byte {
	dst = wire.AppendUint8(dst, r.subscriptionID)
	dst = wire.AppendString(dst, r.stream)
	dst = wire.AppendUint16(dst, uint16(r.offset.Kind))
	dst = wire.AppendInt64(dst, r.offset.Value)
	dst = wire.AppendUint16(dst, r.credit)
	return wire.AppendStringMap(dst, r.properties)
}

type subscribeResponse struct {
	code ResponseCode
	// subscriptionID is not on the wire; see declarePublisherResponse.
	subscriptionID uint8
}

func (r *subscribeResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	return rd.Complete()
}

// --- deliver (async) ----------------------------------------------------

// OsirisChunk is the payload container inside a deliver frame.
type OsirisChunk struct {
	Epoch            uint64
	ChunkFirstOffset uint64
	NumRecords       uint32
	CompressionType  CompressionType
	Data             []byte // raw (possibly compressed) record bytes
}

// Delivery is pushed to a subscription's Sink.
type Delivery struct {
	SubscriptionID uint8
	Chunk          OsirisChunk
}

type deliverFrame struct{ delivery Delivery }

func (r *deliverFrame) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.delivery.SubscriptionID = rd.Uint8()
	r.delivery.Chunk.Epoch = rd.Uint64()
	r.delivery.Chunk.ChunkFirstOffset = rd.Uint64()
	r.delivery.Chunk.NumRecords = rd.Uint32()
	r.delivery.Chunk.CompressionType = CompressionType(rd.Uint8())
	r.delivery.Chunk.Data = rd.Bytes()
	return rd.Complete()
}

// --- credit (fire and forget) -----------------------------------------

type creditRequest struct {
	subscriptionID uint8
	credit         uint16
}

func (r *creditRequest) key() commandKey { return keyCredit }
func (r *creditRequest) appendTo(dst []byte) []byte {
	dst = wire.AppendUint8(dst, r.subscriptionID)
	return wire.AppendUint16(dst, r.credit)
}

// --- unsubscribe ---------------------------------------------------------

type unsubscribeRequest struct{ subscriptionID uint8 }

func (r *unsubscribeRequest) key() commandKey { return keyUnsubscribe }
func (r *unsubscribeRequest) appendTo(dst []byte) []byte {
	return wire.AppendUint8(dst, r.subscriptionID)
}

type unsubscribeResponse struct{ code ResponseCode }

func (r *unsubscribeResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.code = ResponseCode(rd.Uint16())
	return rd.Complete()
}

// --- query_metadata -------------------------------------------------------

type queryMetadataRequest struct{ streams []string }

func (r *queryMetadataRequest) key() commandKey { return keyQueryMetadata }
func (r *queryMetadataRequest) appendTo(dst []byte) []byte {
	return wire.AppendStringArray(dst, r.streams)
}

// Broker describes a single node in the cached cluster topology.
type Broker struct {
	Reference uint16
	Host      string
	Port      uint32
}

// StreamMetadata describes a stream's leader/replica placement.
type StreamMetadata struct {
	Name        string
	Code        ResponseCode
	LeaderRef   uint16
	ReplicaRefs []uint16
}

type queryMetadataResponse struct {
	brokers []Broker
	streams []StreamMetadata
}

func (r *queryMetadataResponse) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	nb := rd.Int32()
	for i := int32(0); i < nb && rd.Err() == nil; i++ {
		r.brokers = append(r.brokers, Broker{
			Reference: rd.Uint16(),
			Host:      rd.String(),
			Port:      rd.Uint32(),
		})
	}
	ns := rd.Int32()
	for i := int32(0); i < ns && rd.Err() == nil; i++ {
		sm := StreamMetadata{
			Name:      rd.String(),
			Code:      ResponseCode(rd.Uint16()),
			LeaderRef: rd.Uint16(),
		}
		nr := rd.Int32()
		for j := int32(0); j < nr && rd.Err() == nil; j++ {
			sm.ReplicaRefs = append(sm.ReplicaRefs, rd.Uint16())
		}
		r.streams = append(r.streams, sm)
	}
	return rd.Complete()
}

// internalMetadataRefresh marks a query_metadata request the connection
// issued on its own behalf, in response to a metadata_update push,
// rather than one a caller is waiting on.
type internalMetadataRefresh struct{}

// --- metadata_update (server request, no correlation) ---------------------

type metadataUpdateFrame struct {
	stream string
	code   ResponseCode
}

func (r *metadataUpdateFrame) readFrom(src []byte) error {
	rd := wire.Reader{Src: src}
	r.stream = rd.String()
	r.code = ResponseCode(rd.Uint16())
	return rd.Complete()
}

// --- heartbeat (no fields, no correlation) --------------------------------

type heartbeatFrame struct{}

func (r *heartbeatFrame) key() commandKey             { return keyHeartbeat }
func (r *heartbeatFrame) appendTo(dst []byte) []byte { return dst }
func (r *heartbeatFrame) readFrom(src []byte) error {
	if len(src) != 0 {
		return ErrMalformedFrame
	}
	return nil
}

// decodeReply allocates and decodes the reply type matching key, for
// every response to a tracked request. Server-initiated frames (tune,
// close, metadata_update, deliver, ...) are decoded by their handlers in
// conn.go.
func decodeReply(key commandKey, body []byte) (reply, error) {
	var r reply
	switch key {
	case keyPeerProperties:
		r = &peerPropertiesResponse{}
	case keySASLHandshake:
		r = &saslHandshakeResponse{}
	case keySASLAuthenticate:
		r = &saslAuthenticateResponse{}
	case keyOpen:
		r = &openResponse{}
	case keyClose:
		r = &closeResponse{}
	case keyCreateStream:
		r = &createStreamResponse{}
	case keyDeleteStream:
		r = &deleteStreamResponse{}
	case keyDeclarePublisher:
		r = &declarePublisherResponse{}
	case keyDeletePublisher:
		r = &deletePublisherResponse{}
	case keyQueryPublisherSequence:
		r = &queryPublisherSequenceResponse{}
	case keyQueryOffset:
		r = &queryOffsetResponse{}
	case keySubscribe:
		r = &subscribeResponse{}
	case keyUnsubscribe:
		r = &unsubscribeResponse{}
	case keyQueryMetadata:
		r = &queryMetadataResponse{}
	default:
		return nil, ErrUnknownCommand
	}
	if err := r.readFrom(body); err != nil {
		return nil, err
	}
	return r, nil
}
