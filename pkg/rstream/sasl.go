package rstream

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// saslSession is the per-authentication-attempt state a mechanism hands
// back from Authenticate; Challenge is called once per non-empty opaque
// body the server sends back.
type saslSession interface {
	// Challenge consumes the server's non-empty opaque reply and returns
	// whether authentication is now complete and what, if anything, the
	// client should write next.
	Challenge(serverResponse []byte) (done bool, clientWrite []byte, err error)
}

// saslMechanism is a pluggable SASL mechanism offered during
// sasl_handshake.
type saslMechanism interface {
	Name() string
	Authenticate(ctx context.Context) (saslSession, []byte, error)
}

// --- PLAIN -----------------------------------------------------------------

type plainMechanism struct{ username, password string }

func newPlain(username, password string) saslMechanism {
	return &plainMechanism{username: username, password: password}
}

func (p *plainMechanism) Name() string { return "PLAIN" }

func (p *plainMechanism) Authenticate(context.Context) (saslSession, []byte, error) {
	// \0username\0password, per RFC 4616.
	first := []byte("\x00" + p.username + "\x00" + p.password)
	return plainSession{}, first, nil
}

type plainSession struct{}

func (plainSession) Challenge([]byte) (bool, []byte, error) { return true, nil, nil }

// --- SCRAM-SHA-256 ----------------------------------------------------------

type scramSHA256Mechanism struct{ username, password string }

func newScramSHA256(username, password string) saslMechanism {
	return &scramSHA256Mechanism{username: username, password: password}
}

func (s *scramSHA256Mechanism) Name() string { return "SCRAM-SHA-256" }

func (s *scramSHA256Mechanism) Authenticate(context.Context) (saslSession, []byte, error) {
	nonce, err := clientNonce()
	if err != nil {
		return nil, nil, err
	}
	sess := &scramSession{
		username:    s.username,
		password:    s.password,
		clientNonce: nonce,
		step:        0,
	}
	sess.clientFirstBare = "n=" + saslEscape(s.username) + ",r=" + nonce
	first := "n,," + sess.clientFirstBare
	return sess, []byte(first), nil
}

type scramSession struct {
	username, password string
	clientNonce        string
	clientFirstBare    string
	authMessage        string
	saltedPassword     []byte
	step               int
}

func (sess *scramSession) Challenge(serverResponse []byte) (bool, []byte, error) {
	switch sess.step {
	case 0:
		sess.step = 1
		fields, err := parseScram(string(serverResponse))
		if err != nil {
			return false, nil, err
		}
		serverNonce := fields["r"]
		if !strings.HasPrefix(serverNonce, sess.clientNonce) {
			return false, nil, fmt.Errorf("rstream: scram server nonce does not extend client nonce")
		}
		salt, err := base64.StdEncoding.DecodeString(fields["s"])
		if err != nil {
			return false, nil, fmt.Errorf("rstream: scram salt: %w", err)
		}
		iterations, err := strconv.Atoi(fields["i"])
		if err != nil || iterations <= 0 {
			return false, nil, fmt.Errorf("rstream: scram iteration count: %w", err)
		}

		sess.saltedPassword = pbkdf2.Key([]byte(sess.password), salt, iterations, sha256.Size, sha256.New)

		clientFinalNoProof := "c=biws,r=" + serverNonce
		sess.authMessage = sess.clientFirstBare + "," + string(serverResponse) + "," + clientFinalNoProof

		clientKey := hmacSHA256(sess.saltedPassword, []byte("Client Key"))
		storedKey := sha256.Sum256(clientKey)
		clientSignature := hmacSHA256(storedKey[:], []byte(sess.authMessage))
		clientProof := xorBytes(clientKey, clientSignature)

		final := clientFinalNoProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
		return false, []byte(final), nil

	case 1:
		sess.step = 2
		fields, err := parseScram(string(serverResponse))
		if err != nil {
			return false, nil, err
		}
		serverSig, err := base64.StdEncoding.DecodeString(fields["v"])
		if err != nil {
			return false, nil, fmt.Errorf("rstream: scram server signature: %w", err)
		}
		serverKey := hmacSHA256(sess.saltedPassword, []byte("Server Key"))
		expected := hmacSHA256(serverKey, []byte(sess.authMessage))
		if subtle.ConstantTimeCompare(serverSig, expected) != 1 {
			return false, nil, fmt.Errorf("rstream: scram server signature mismatch")
		}
		return true, nil, nil

	default:
		return true, nil, nil
	}
}

func hmacSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func clientNonce() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func saslEscape(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

func parseScram(s string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("rstream: malformed scram field %q", part)
		}
		fields[kv[0]] = kv[1]
	}
	return fields, nil
}
