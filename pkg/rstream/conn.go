package rstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// State names a point in the connection lifecycle.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateAuthenticating
	StateTuning
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateTuning:
		return "tuning"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// handshakeStep tags a tracker waiter created for one of the connection
// bootstrap round trips, so the generic response dispatcher in
// handleResponse routes it to the handshake continuation instead of to a
// public caller.
type handshakeStep int

const (
	stepPeerProperties handshakeStep = iota
	stepSASLHandshake
	stepSASLAuthenticate
	stepOpen
)

// Conn is one authenticated connection to a RabbitMQ Stream broker. All
// mutable connection state (the state machine, socket, request tracker,
// subscription registry, and metadata cache) is owned exclusively by a
// single actor goroutine started by Dial; every other method reaches it
// only through the mailbox channel, except State, which reads an atomic
// mirror of the state.
type Conn struct {
	cfg cfg

	mailbox chan interface{}
	inbound chan inboundFrame
	ioErrs  chan error
	done    chan struct{}

	stateAtomic int32 // atomic mirror of state, for lock-free fast-path reads

	// Everything below is touched only inside run().
	state            State
	netConn          net.Conn
	bufs             bufPool
	corrSeq          uint32
	nextPublisherID  uint8
	nextSubscription uint8
	tracker          *requestTracker
	subs             *subscriptionRegistry
	meta             *metadataCache
	connectWaiters   []chan error
	frameMax         uint32
	heartbeatSec     uint32
	peerProps        map[string]string
	connProps        map[string]string
	mechanism        saslMechanism
	session          saslSession
	heartbeatTicker  *time.Ticker
	logger           Logger
}

// Dial opens a TCP connection to a RabbitMQ Stream broker and runs the
// full handshake (peer_properties, sasl, tune, open), returning once the
// connection is open or the handshake has definitively failed.
func Dial(ctx context.Context, opts ...Opt) (*Conn, error) {
	c := defaultCfg()
	for _, opt := range opts {
		opt(&c)
	}
	conn := &Conn{
		cfg:          c,
		mailbox:      make(chan interface{}),
		inbound:      make(chan inboundFrame, 16),
		ioErrs:       make(chan error, 1),
		done:         make(chan struct{}),
		bufs:         newBufPool(),
		tracker:      newRequestTracker(),
		subs:         newSubscriptionRegistry(),
		meta:         newMetadataCache(),
		logger:       c.logger,
		frameMax:     c.frameMax,
		heartbeatSec: c.heartbeat,
	}
	go conn.run()
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// State reports the connection's current lifecycle state. Safe to call
// from any goroutine.
func (c *Conn) State() State { return State(atomic.LoadInt32(&c.stateAtomic)) }

// Connect establishes (or re-establishes, after a prior Close) the
// connection. Concurrent Connect calls while a handshake is already in
// flight all resolve together when that handshake completes.
func (c *Conn) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.mailbox <- connectMsg{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close performs a graceful close: it sends a close request, waits for
// the broker's close response, and tears down the socket. Any commands
// still awaiting a reply are failed with ErrClosed.
func (c *Conn) Close(ctx context.Context) error {
	if c.State() != StateOpen {
		return ErrClosed
	}
	reply := make(chan trackerResult, 1)
	select {
	case c.mailbox <- closeMsg{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case res := <-reply:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- mailbox message shapes -------------------------------------------------

type connectMsg struct{ reply chan error }

type closeMsg struct{ reply chan trackerResult }

type callMsg struct {
	cmd     command
	noReply bool
	payload interface{}
	reply   chan trackerResult
}

type declarePublisherMsg struct {
	reference, stream string
	reply             chan trackerResult
}

type subscribeMsg struct {
	stream     string
	offset     OffsetSpec
	credit     uint16
	properties map[string]string
	sink       Sink
	reply      chan trackerResult
}

type metadataSnapshot struct {
	brokers []Broker
	streams []StreamMetadata
}

type metadataSnapshotMsg struct{ reply chan metadataSnapshot }

// --- actor loop --------------------------------------------------------------

func (c *Conn) run() {
	defer close(c.done)
	c.setState(StateClosed)
	for {
		var heartbeatC <-chan time.Time
		if c.heartbeatTicker != nil {
			heartbeatC = c.heartbeatTicker.C
		}
		select {
		case msg := <-c.mailbox:
			c.handleMailbox(msg)
		case fr := <-c.inbound:
			c.handleFrame(fr.header)
		case err := <-c.ioErrs:
			c.handleIOError(err)
		case <-heartbeatC:
			c.sendHeartbeat()
		}
	}
}

func (c *Conn) setState(s State) {
	c.state = s
	atomic.StoreInt32(&c.stateAtomic, int32(s))
	c.logger.Log(LogLevelDebug, "state transition", "state", s.String())
}

func (c *Conn) handleMailbox(msg interface{}) {
	switch m := msg.(type) {
	case connectMsg:
		c.handleConnect(m)
	case closeMsg:
		c.handleClose(m)
	case callMsg:
		c.handleCall(m)
	case declarePublisherMsg:
		c.handleDeclarePublisher(m)
	case subscribeMsg:
		c.handleSubscribe(m)
	case metadataSnapshotMsg:
		m.reply <- metadataSnapshot{brokers: c.meta.brokersSnapshot(), streams: c.meta.streamsSnapshot()}
	}
}

// --- connecting / authenticating / tuning / opening -------------------------

func (c *Conn) handleConnect(m connectMsg) {
	switch c.state {
	case StateOpen:
		m.reply <- nil
		return
	case StateClosed:
		// start a fresh handshake below
	default:
		// a handshake is already in flight: queue behind it
		c.connectWaiters = append(c.connectWaiters, m.reply)
		return
	}

	c.connectWaiters = append(c.connectWaiters, m.reply)
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(context.Background(), c.cfg.connectTimeout)
	defer cancel()
	addr := net.JoinHostPort(c.cfg.host, c.cfg.port)
	nc, err := c.cfg.dialFn(dialCtx, "tcp", addr)
	if err != nil {
		c.failConnect(fmt.Errorf("rstream: dial %s: %w", addr, err))
		return
	}
	if c.cfg.tlsConfig != nil {
		nc = tls.Client(nc, c.cfg.tlsConfig)
	}
	c.netConn = nc
	c.frameMax = c.cfg.frameMax
	c.heartbeatSec = c.cfg.heartbeat
	go readLoop(nc, c.frameMax, c.inbound, c.ioErrs)

	c.logger.Log(LogLevelInfo, "tcp connected", "addr", addr)
	c.setState(StateAuthenticating)
	c.sendHandshake(stepPeerProperties, &peerPropertiesRequest{properties: map[string]string{
		"product":  "rstream",
		"platform": "go",
	}})
}

// sendHandshake writes a handshake-phase request and parks a throwaway
// tracker waiter tagged with step, so the matching response routes to
// advanceHandshake instead of to a public caller.
func (c *Conn) sendHandshake(step handshakeStep, cmd command) {
	corrID := c.nextCorrID()
	if err := c.writeFrame(false, corrID, cmd); err != nil {
		c.failConnect(err)
		return
	}
	c.tracker.push(trackerKey{kind: cmd.key(), corrID: corrID}, make(chan trackerResult, 1), step)
}

func (c *Conn) advanceHandshake(step handshakeStep, resp reply) {
	switch step {
	case stepPeerProperties:
		r := resp.(*peerPropertiesResponse)
		if err := commandErr("peer_properties", r.code); err != nil {
			c.failConnect(err)
			return
		}
		c.peerProps = r.properties
		c.sendHandshake(stepSASLHandshake, &saslHandshakeRequest{})

	case stepSASLHandshake:
		r := resp.(*saslHandshakeResponse)
		if err := commandErr("sasl_handshake", r.code); err != nil {
			c.failConnect(err)
			return
		}
		mech, first, err := c.chooseMechanism(r.mechanisms)
		if err != nil {
			c.failConnect(err)
			return
		}
		c.mechanism, c.session = mech.mech, mech.session
		c.sendHandshake(stepSASLAuthenticate, &saslAuthenticateRequest{
			mechanism: c.mechanism.Name(),
			opaque:    first,
		})

	case stepSASLAuthenticate:
		r := resp.(*saslAuthenticateResponse)
		if r.code != CodeOK {
			c.failConnect(fmt.Errorf("%w: %s", ErrAuthenticationFailed, r.code))
			return
		}
		if len(r.opaque) == 0 {
			// empty body: fully authenticated, await the server's tune
			return
		}
		done, next, err := c.session.Challenge(r.opaque)
		if err != nil {
			c.failConnect(fmt.Errorf("rstream: sasl challenge: %w", err))
			return
		}
		if !done {
			c.sendHandshake(stepSASLAuthenticate, &saslAuthenticateRequest{
				mechanism: c.mechanism.Name(),
				opaque:    next,
			})
			return
		}
		// The mechanism reports completion on a non-empty final body
		// (e.g. the SCRAM server-final message): send open straight away
		// instead of waiting for a tune. No tune has been handled on this
		// path, so armHeartbeat is not called here.
		c.setState(StateOpening)
		c.sendHandshake(stepOpen, &openRequest{vhost: c.cfg.vhost})

	case stepOpen:
		r := resp.(*openResponse)
		if err := commandErr("open", r.code); err != nil {
			c.failConnect(err)
			return
		}
		c.connProps = r.properties
		c.setState(StateOpen)
		c.logger.Log(LogLevelInfo, "connection open", "vhost", c.cfg.vhost)
		c.notifyConnectWaiters(nil)
	}
}

type chosenMechanism struct {
	mech    saslMechanism
	session saslSession
}

// chooseMechanism picks the first of the connection's configured SASL
// mechanisms (SCRAM first if WithSCRAMAuth was used, PLAIN as the
// always-available fallback) that the server actually advertised.
func (c *Conn) chooseMechanism(serverMechs []string) (chosenMechanism, []byte, error) {
	offered := make(map[string]bool, len(serverMechs))
	for _, m := range serverMechs {
		offered[m] = true
	}
	candidates := append(append([]saslMechanism{}, c.cfg.saslMechanisms...), newPlain(c.cfg.username, c.cfg.password))
	for _, cand := range candidates {
		if !offered[cand.Name()] {
			continue
		}
		session, first, err := cand.Authenticate(context.Background())
		if err != nil {
			return chosenMechanism{}, nil, err
		}
		return chosenMechanism{mech: cand, session: session}, first, nil
	}
	return chosenMechanism{}, nil, fmt.Errorf("%w: server offered %v", ErrAuthenticationFailed, serverMechs)
}

func (c *Conn) handleTune(h frameHeader) {
	var t tuneFrame
	if err := t.readFrom(h.body); err != nil {
		c.teardown(ErrMalformedFrame)
		return
	}
	if t.frameMax > 0 && (c.frameMax == 0 || t.frameMax < c.frameMax) {
		c.frameMax = t.frameMax
	}
	if t.heartbeat < c.heartbeatSec {
		c.heartbeatSec = t.heartbeat
	}
	c.setState(StateTuning)
	if err := c.writeFrame(false, 0, &tuneFrame{frameMax: c.frameMax, heartbeat: c.heartbeatSec}); err != nil {
		return
	}
	c.armHeartbeat()
	c.setState(StateOpening)
	c.sendHandshake(stepOpen, &openRequest{vhost: c.cfg.vhost})
}

func (c *Conn) armHeartbeat() {
	if c.heartbeatSec == 0 {
		return
	}
	c.heartbeatTicker = time.NewTicker(time.Duration(c.heartbeatSec) * time.Second)
}

func (c *Conn) sendHeartbeat() {
	if c.netConn == nil {
		return
	}
	_ = c.writeFrame(false, 0, &heartbeatFrame{})
}

func (c *Conn) failConnect(err error) {
	c.logger.Log(LogLevelError, "connect failed", "err", err)
	c.teardownSocket()
	c.setState(StateClosed)
	c.notifyConnectWaiters(err)
}

func (c *Conn) notifyConnectWaiters(err error) {
	for _, ch := range c.connectWaiters {
		ch <- err
	}
	c.connectWaiters = nil
}

// --- command dispatch while open ---------------------------------------------

func (c *Conn) handleCall(m callMsg) {
	if c.state != StateOpen {
		m.reply <- trackerResult{err: ErrClosed}
		return
	}
	var corrID uint32
	if !m.noReply {
		corrID = c.nextCorrID()
	}
	if err := c.writeFrame(false, corrID, m.cmd); err != nil {
		m.reply <- trackerResult{err: err}
		return
	}
	if m.noReply {
		m.reply <- trackerResult{}
		return
	}
	c.tracker.push(trackerKey{kind: m.cmd.key(), corrID: corrID}, m.reply, m.payload)
}

func (c *Conn) handleDeclarePublisher(m declarePublisherMsg) {
	if c.state != StateOpen {
		m.reply <- trackerResult{err: ErrClosed}
		return
	}
	id := c.nextPublisherID
	c.nextPublisherID++
	cmd := &declarePublisherRequest{publisherID: id, reference: m.reference, stream: m.stream}
	corrID := c.nextCorrID()
	if err := c.writeFrame(false, corrID, cmd); err != nil {
		m.reply <- trackerResult{err: err}
		return
	}
	c.tracker.push(trackerKey{kind: keyDeclarePublisher, corrID: corrID}, m.reply, id)
}

func (c *Conn) handleSubscribe(m subscribeMsg) {
	if c.state != StateOpen {
		m.reply <- trackerResult{err: ErrClosed}
		return
	}
	id := c.nextSubscription
	c.nextSubscription++
	cmd := &subscribeRequest{
		subscriptionID: id,
		stream:         m.stream,
		offset:         m.offset,
		credit:         m.credit,
		properties:     m.properties,
	}
	corrID := c.nextCorrID()
	if err := c.writeFrame(false, corrID, cmd); err != nil {
		m.reply <- trackerResult{err: err}
		return
	}
	// Registered before the response arrives: a broker that starts
	// delivering the instant it processes the subscribe must not race
	// the caller's view of the subscription id.
	c.subs.add(id, m.sink)
	c.tracker.push(trackerKey{kind: keySubscribe, corrID: corrID}, m.reply, id)
}

func (c *Conn) handleClose(m closeMsg) {
	if c.state != StateOpen {
		m.reply <- trackerResult{err: ErrClosed}
		return
	}
	corrID := c.nextCorrID()
	if err := c.writeFrame(false, corrID, &closeRequest{code: CodeOK, reason: "normal"}); err != nil {
		m.reply <- trackerResult{err: err}
		return
	}
	c.setState(StateClosing)
	c.tracker.push(trackerKey{kind: keyClose, corrID: corrID}, m.reply, nil)
}

func (c *Conn) nextCorrID() uint32 {
	c.corrSeq++
	return c.corrSeq
}

func (c *Conn) writeFrame(isResponse bool, corrID uint32, body command) error {
	buf := c.bufs.get()
	raw := body.appendTo(nil)
	buf = appendFrame(buf, body.key(), isResponse, corrID, raw)
	_, err := c.netConn.Write(buf)
	c.bufs.put(buf)
	if err != nil {
		c.teardown(fmt.Errorf("%w: %v", ErrConnDead, err))
	}
	return err
}

// --- inbound frame dispatch ---------------------------------------------------

func (c *Conn) handleFrame(h frameHeader) {
	if h.isResponse {
		c.handleResponse(h)
		return
	}
	c.handleServerRequest(h)
}

func (c *Conn) handleResponse(h frameHeader) {
	w, ok := c.tracker.pop(trackerKey{kind: h.key, corrID: h.corrID})
	if !ok {
		c.logger.Log(LogLevelWarn, "unexpected response", "key", h.key.String(), "corr_id", h.corrID)
		return
	}
	resp, err := decodeReply(h.key, h.body)
	if err != nil {
		c.teardown(ErrMalformedFrame)
		return
	}
	if step, ok := w.payload.(handshakeStep); ok {
		c.advanceHandshake(step, resp)
		return
	}
	if h.key == keyQueryMetadata {
		c.meta.merge(resp.(*queryMetadataResponse))
		if _, internal := w.payload.(internalMetadataRefresh); internal {
			return
		}
	}
	if h.key == keyDeclarePublisher {
		if id, ok := w.payload.(uint8); ok {
			resp.(*declarePublisherResponse).publisherID = id
		}
	}
	if h.key == keySubscribe {
		r := resp.(*subscribeResponse)
		if id, ok := w.payload.(uint8); ok {
			r.subscriptionID = id
			if r.code != CodeOK {
				c.subs.remove(id)
			}
		}
	}
	if h.key == keyUnsubscribe {
		if r := resp.(*unsubscribeResponse); r.code == CodeOK {
			if id, ok := w.payload.(uint8); ok {
				c.subs.remove(id)
			}
		}
	}
	if h.key == keyClose {
		c.teardown(ErrClosed)
	}
	w.reply <- trackerResult{resp: resp}
}

func (c *Conn) handleServerRequest(h frameHeader) {
	switch h.key {
	case keyTune:
		c.handleTune(h)
	case keyClose:
		c.handleServerClose(h)
	case keyMetadataUpdate:
		c.handleMetadataUpdate(h)
	case keyPublishConfirm:
		c.handlePublishConfirm(h)
	case keyPublishError:
		c.handlePublishError(h)
	case keyDeliver:
		c.handleDeliver(h)
	case keyHeartbeat:
		// inbound heartbeat is a keepalive no-op
	default:
		c.teardown(ErrUnknownCommand)
	}
}

func (c *Conn) handleServerClose(h frameHeader) {
	var req closeRequest
	if err := req.readFrom(h.body); err != nil {
		c.teardown(ErrMalformedFrame)
		return
	}
	c.logger.Log(LogLevelInfo, "server requested close", "code", req.code, "reason", req.reason)
	c.setState(StateClosing)
	_ = c.writeFrame(true, h.corrID, &closeResponse{code: CodeOK})
	c.teardown(ErrClosed)
}

func (c *Conn) handleMetadataUpdate(h frameHeader) {
	var f metadataUpdateFrame
	if err := f.readFrom(h.body); err != nil {
		c.teardown(ErrMalformedFrame)
		return
	}
	corrID := c.nextCorrID()
	if err := c.writeFrame(false, corrID, &queryMetadataRequest{streams: []string{f.stream}}); err != nil {
		return
	}
	c.tracker.push(trackerKey{kind: keyQueryMetadata, corrID: corrID}, make(chan trackerResult, 1), internalMetadataRefresh{})
}

func (c *Conn) handlePublishConfirm(h frameHeader) {
	var f publishConfirmFrame
	if err := f.readFrom(h.body); err != nil {
		c.teardown(ErrMalformedFrame)
		return
	}
	if c.cfg.confirmHandler != nil {
		c.cfg.confirmHandler(f.confirm)
	}
}

func (c *Conn) handlePublishError(h frameHeader) {
	var f publishErrorFrame
	if err := f.readFrom(h.body); err != nil {
		c.teardown(ErrMalformedFrame)
		return
	}
	if c.cfg.errorHandler != nil {
		c.cfg.errorHandler(f.err)
	}
}

func (c *Conn) handleDeliver(h frameHeader) {
	var f deliverFrame
	if err := f.readFrom(h.body); err != nil {
		c.teardown(ErrMalformedFrame)
		return
	}
	if c.cfg.chunkCompression && f.delivery.Chunk.CompressionType != CompressionNone {
		data, err := decompressChunk(f.delivery.Chunk.CompressionType, f.delivery.Chunk.Data)
		if err != nil {
			c.logger.Log(LogLevelError, "chunk decompress failed", "err", err)
		} else {
			f.delivery.Chunk.Data = data
			f.delivery.Chunk.CompressionType = CompressionNone
		}
	}
	if !c.subs.dispatch(f.delivery) {
		c.logger.Log(LogLevelDebug, "delivery for unknown subscription dropped", "subscription_id", f.delivery.SubscriptionID)
	}
}

// --- teardown ------------------------------------------------------------------

func (c *Conn) handleIOError(err error) {
	if c.state == StateClosed {
		return // stray report from an already-torn-down socket
	}
	wrapped := fmt.Errorf("%w: %v", ErrConnDead, err)
	if errors.Is(err, io.EOF) {
		wrapped = ErrTCPClosed
	}
	if c.state == StateConnecting || c.state == StateAuthenticating {
		c.logger.Log(LogLevelWarn, "peer closed socket during handshake; the stream plugin may be inactive", "err", err)
		c.teardown(ErrTCPClosed)
		return
	}
	c.teardown(wrapped)
}

// teardown closes the socket, drains every pending waiter with err,
// clears subscriptions, and returns the connection to closed. It is the
// single path for every way a connection can stop being open.
func (c *Conn) teardown(err error) {
	handshaking := c.state == StateConnecting || c.state == StateAuthenticating ||
		c.state == StateTuning || c.state == StateOpening
	c.logger.Log(LogLevelWarn, "connection torn down", "err", err, "state", c.state.String())
	c.teardownSocket()
	c.tracker.drain(err)
	c.subs.clear()
	c.setState(StateClosed)
	if handshaking {
		c.notifyConnectWaiters(err)
	}
}

func (c *Conn) teardownSocket() {
	if c.heartbeatTicker != nil {
		c.heartbeatTicker.Stop()
		c.heartbeatTicker = nil
	}
	if c.netConn != nil {
		c.netConn.Close()
		c.netConn = nil
	}
}
