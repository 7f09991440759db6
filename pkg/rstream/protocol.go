package rstream

import "fmt"

// commandKey identifies a command on the wire. The high bit (responseFlag)
// distinguishes a response frame from a request frame; the low 15 bits
// name the command.
type commandKey uint16

const responseFlag commandKey = 0x8000

const (
	keyDeclarePublisher       commandKey = 0x01
	keyPublish                commandKey = 0x02
	keyPublishConfirm         commandKey = 0x03
	keyPublishError           commandKey = 0x04
	keyQueryPublisherSequence commandKey = 0x05
	keyDeletePublisher        commandKey = 0x06
	keySubscribe              commandKey = 0x07
	keyDeliver                commandKey = 0x08
	keyCredit                 commandKey = 0x09
	keyStoreOffset            commandKey = 0x0A
	keyQueryOffset            commandKey = 0x0B
	keyUnsubscribe            commandKey = 0x0C
	keyCreateStream           commandKey = 0x0D
	keyDeleteStream           commandKey = 0x0E
	keyQueryMetadata          commandKey = 0x0F
	keyMetadataUpdate         commandKey = 0x10
	keyPeerProperties         commandKey = 0x11
	keySASLHandshake          commandKey = 0x12
	keySASLAuthenticate       commandKey = 0x13
	keyTune                   commandKey = 0x14
	keyOpen                   commandKey = 0x15
	keyClose                  commandKey = 0x16
	keyHeartbeat              commandKey = 0x17
)

func (k commandKey) String() string {
	switch k {
	case keyDeclarePublisher:
		return "declare_publisher"
	case keyPublish:
		return "publish"
	case keyPublishConfirm:
		return "publish_confirm"
	case keyPublishError:
		return "publish_error"
	case keyQueryPublisherSequence:
		return "query_publisher_sequence"
	case keyDeletePublisher:
		return "delete_publisher"
	case keySubscribe:
		return "subscribe"
	case keyDeliver:
		return "deliver"
	case keyCredit:
		return "credit"
	case keyStoreOffset:
		return "store_offset"
	case keyQueryOffset:
		return "query_offset"
	case keyUnsubscribe:
		return "unsubscribe"
	case keyCreateStream:
		return "create_stream"
	case keyDeleteStream:
		return "delete_stream"
	case keyQueryMetadata:
		return "query_metadata"
	case keyMetadataUpdate:
		return "metadata_update"
	case keyPeerProperties:
		return "peer_properties"
	case keySASLHandshake:
		return "sasl_handshake"
	case keySASLAuthenticate:
		return "sasl_authenticate"
	case keyTune:
		return "tune"
	case keyOpen:
		return "open"
	case keyClose:
		return "close"
	case keyHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint16(k))
	}
}

// ResponseCode is the 16-bit status code carried by command responses.
// It implements error so it can be compared with errors.Is and returned
// directly when non-OK.
type ResponseCode uint16

const (
	CodeOK                              ResponseCode = 0x01
	CodeStreamDoesNotExist              ResponseCode = 0x02
	CodeSubscriptionIDAlreadyExists     ResponseCode = 0x03
	CodeSubscriptionIDDoesNotExist      ResponseCode = 0x04
	CodeStreamAlreadyExists             ResponseCode = 0x05
	CodeStreamNotAvailable              ResponseCode = 0x06
	CodeSASLMechanismNotSupported       ResponseCode = 0x07
	CodeAuthenticationFailure           ResponseCode = 0x08
	CodeSASLError                       ResponseCode = 0x09
	CodeSASLChallenge                   ResponseCode = 0x0A
	CodeSASLAuthenticationFailureLoop   ResponseCode = 0x0B
	CodeVirtualHostAccessFailure        ResponseCode = 0x0C
	CodeUnknownFrame                    ResponseCode = 0x0D
	CodeFrameTooLarge                   ResponseCode = 0x0E
	CodeInternalError                   ResponseCode = 0x0F
	CodeAccessRefused                   ResponseCode = 0x10
	CodePreconditionFailed              ResponseCode = 0x11
	CodePublisherDoesNotExist           ResponseCode = 0x12
	CodeNoOffset                        ResponseCode = 0x13
)

func (c ResponseCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeStreamDoesNotExist:
		return "stream_does_not_exist"
	case CodeSubscriptionIDAlreadyExists:
		return "subscription_id_already_exists"
	case CodeSubscriptionIDDoesNotExist:
		return "subscription_id_does_not_exist"
	case CodeStreamAlreadyExists:
		return "stream_already_exists"
	case CodeStreamNotAvailable:
		return "stream_not_available"
	case CodeSASLMechanismNotSupported:
		return "sasl_mechanism_not_supported"
	case CodeAuthenticationFailure:
		return "authentication_failure"
	case CodeSASLError:
		return "sasl_error"
	case CodeSASLChallenge:
		return "sasl_challenge"
	case CodeSASLAuthenticationFailureLoop:
		return "sasl_authentication_failure_loopback"
	case CodeVirtualHostAccessFailure:
		return "virtual_host_access_failure"
	case CodeUnknownFrame:
		return "unknown_frame"
	case CodeFrameTooLarge:
		return "frame_too_large"
	case CodeInternalError:
		return "internal_error"
	case CodeAccessRefused:
		return "access_refused"
	case CodePreconditionFailed:
		return "precondition_failed"
	case CodePublisherDoesNotExist:
		return "publisher_does_not_exist"
	case CodeNoOffset:
		return "no_offset"
	default:
		return fmt.Sprintf("unknown_code(0x%02x)", uint16(c))
	}
}

// Error lets ResponseCode be used directly as an error value, e.g. as the
// Unwrap target of CommandError.
func (c ResponseCode) Error() string { return c.String() }

// commandErr turns a non-OK response code into a *CommandError, or nil
// for CodeOK.
func commandErr(cmd string, code ResponseCode) error {
	if code == CodeOK {
		return nil
	}
	return &CommandError{Command: cmd, Code: code}
}
