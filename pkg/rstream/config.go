package rstream

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"
)

const (
	defaultHost      = "localhost"
	defaultPort      = 5552
	defaultVHost     = "/"
	defaultUser      = "guest"
	defaultPass      = "guest"
	defaultFrameMax  = 1 << 20 // 1,048,576
	defaultHeartbeat = 60      // seconds
)

// dialFunc matches net.Dialer.DialContext's shape, letting tests
// substitute an in-memory pipe for a real socket.
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type cfg struct {
	host, port       string
	vhost            string
	username         string
	password         string
	frameMax         uint32
	heartbeat        uint32
	dialFn           dialFunc
	tlsConfig        *tls.Config
	logger           Logger
	saslMechanisms   []saslMechanism
	connectTimeout   time.Duration
	chunkCompression bool
	confirmHandler   func(PublishConfirm)
	errorHandler     func(PublishError)
}

func defaultCfg() cfg {
	return cfg{
		host:           defaultHost,
		port:           "5552",
		vhost:          defaultVHost,
		username:       defaultUser,
		password:       defaultPass,
		frameMax:       defaultFrameMax,
		heartbeat:      defaultHeartbeat,
		dialFn:         (&net.Dialer{}).DialContext,
		logger:         nopLogger{},
		connectTimeout: 10 * time.Second,
	}
}

// Opt configures a Conn at Dial time.
type Opt func(*cfg)

// WithHost sets the broker hostname (default "localhost").
func WithHost(host string) Opt { return func(c *cfg) { c.host = host } }

// WithPort sets the broker port (default 5552).
func WithPort(port int) Opt {
	return func(c *cfg) {
		c.port = strconv.Itoa(port)
	}
}

// WithVHost sets the virtual host (default "/").
func WithVHost(vhost string) Opt { return func(c *cfg) { c.vhost = vhost } }

// WithAuth sets the SASL PLAIN username/password (default "guest"/"guest").
func WithAuth(username, password string) Opt {
	return func(c *cfg) { c.username, c.password = username, password }
}

// WithFrameMax sets the client's proposed maximum frame size in bytes
// (default 1,048,576). The effective value is min(client, server).
func WithFrameMax(n uint32) Opt { return func(c *cfg) { c.frameMax = n } }

// WithHeartbeat sets the client's proposed heartbeat interval in seconds
// (default 60). The effective value is min(client, server).
func WithHeartbeat(seconds uint32) Opt { return func(c *cfg) { c.heartbeat = seconds } }

// WithTLSConfig causes Dial to wrap the raw TCP connection in tls.Client
// before the protocol handshake begins. The core otherwise treats the
// socket as an opaque byte stream.
func WithTLSConfig(tc *tls.Config) Opt { return func(c *cfg) { c.tlsConfig = tc } }

// WithLogger installs a Logger; the default discards all output.
func WithLogger(l Logger) Opt { return func(c *cfg) { c.logger = l } }

// WithDialFunc overrides how the core opens its TCP socket; used by
// tests to substitute an in-memory net.Pipe broker.
func WithDialFunc(fn dialFunc) Opt { return func(c *cfg) { c.dialFn = fn } }

// WithConnectTimeout bounds how long dialing the TCP socket may take.
// The protocol handshake after the dial (peer_properties through open)
// is not bounded by it.
func WithConnectTimeout(d time.Duration) Opt { return func(c *cfg) { c.connectTimeout = d } }

// WithSCRAMAuth additionally offers SCRAM-SHA-256 during sasl_handshake,
// used in preference to PLAIN when the server advertises it.
func WithSCRAMAuth(username, password string) Opt {
	return func(c *cfg) {
		c.username, c.password = username, password
		c.saslMechanisms = append(c.saslMechanisms, newScramSHA256(username, password))
	}
}

// WithChunkDecompression has Subscribe's delivered chunks pre-decompressed
// according to their CompressionType before reaching the Sink.
func WithChunkDecompression() Opt { return func(c *cfg) { c.chunkCompression = true } }

// WithPublishConfirmHandler installs the callback invoked whenever the
// broker confirms persistence of previously published messages. It runs
// synchronously on the connection's actor goroutine and must not block.
func WithPublishConfirmHandler(fn func(PublishConfirm)) Opt {
	return func(c *cfg) { c.confirmHandler = fn }
}

// WithPublishErrorHandler installs the callback invoked whenever the
// broker rejects previously published messages. It runs synchronously on
// the connection's actor goroutine and must not block.
func WithPublishErrorHandler(fn func(PublishError)) Opt {
	return func(c *cfg) { c.errorHandler = fn }
}
