package rstream

import "fmt"

// Sentinel errors returned by Conn methods. They are deliberately plain
// values rather than panics: per the core's propagation policy, the
// actor never raises to its callers, it returns tagged results.
var (
	// ErrClosed is returned to a caller that invokes a command while the
	// connection is not open.
	ErrClosed = fmt.Errorf("rstream: connection closed")

	// ErrConnDead wraps the cause returned to every tracker waiter and
	// connect waiter when a socket write fails, or a read fails for a
	// reason other than the peer closing the socket.
	ErrConnDead = fmt.Errorf("rstream: connection lost")

	// ErrTCPClosed is returned to every pending waiter when the remote end
	// closes the socket (the read loop sees EOF), and to connect waiters
	// for any read failure during connecting or authenticating.
	ErrTCPClosed = fmt.Errorf("rstream: tcp connection closed by peer")

	// ErrMalformedFrame is fatal for the connection: a frame could not be
	// decoded (truncated input, invalid length prefix, or corrupt body).
	ErrMalformedFrame = fmt.Errorf("rstream: malformed frame")

	// ErrUnknownCommand is fatal for the connection: a frame arrived with
	// an unrecognized command key.
	ErrUnknownCommand = fmt.Errorf("rstream: unknown command key")

	// ErrFrameTooLarge is fatal for the connection: an inbound frame's
	// length prefix exceeds the client's configured frame_max.
	ErrFrameTooLarge = fmt.Errorf("rstream: frame exceeds frame_max")

	// ErrInvalidArgument is returned locally, without touching the wire,
	// when a caller passes a value violating a command precondition.
	ErrInvalidArgument = fmt.Errorf("rstream: invalid argument")

	// ErrAuthenticationFailed is returned to connect_waiters when SASL
	// authentication fails.
	ErrAuthenticationFailed = fmt.Errorf("rstream: sasl authentication failed")
)

// maxStreamNameLen is the precondition bound on stream names: violating
// it is rejected locally with ErrInvalidArgument, never sent to the
// broker.
const maxStreamNameLen = 255

// validateStreamName enforces the stream_name precondition: a byte
// string no longer than maxStreamNameLen.
func validateStreamName(stream string) error {
	if len(stream) > maxStreamNameLen {
		return ErrInvalidArgument
	}
	return nil
}

// CommandError is the non-OK response code returned by the broker for a
// command that otherwise completed its round trip. The connection stays
// open.
type CommandError struct {
	Command string
	Code    ResponseCode
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("rstream: %s failed: %s", e.Command, e.Code)
}

// Unwrap lets callers match CommandError against a specific ResponseCode
// with errors.Is when the code itself is a sentinel-like value.
func (e *CommandError) Unwrap() error { return e.Code }
