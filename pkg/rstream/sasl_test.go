package rstream

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
)

func TestPlainMechanismFirstMessage(t *testing.T) {
	mech := newPlain("guest", "guest")
	require.Equal(t, "PLAIN", mech.Name())

	session, first, err := mech.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "\x00guest\x00guest", string(first))

	done, next, err := session.Challenge(nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Nil(t, next)
}

// scramServer replays the server half of RFC 5802 against the client
// mechanism under test, so the exchange can be driven to completion
// without a real broker.
type scramServer struct {
	password       string
	clientNonce    string
	serverNonce    string
	salt           []byte
	iterations     int
	saltedPassword []byte
	clientFirstBare string
	serverFirst     string
}

func newScramServer(password string) *scramServer {
	return &scramServer{password: password, iterations: 4096}
}

func (s *scramServer) firstResponse(clientFirst string) string {
	// clientFirst is "n,,n=<user>,r=<nonce>"
	bare := strings.SplitN(clientFirst, ",,", 2)[1]
	s.clientFirstBare = bare
	for _, part := range strings.Split(bare, ",") {
		if strings.HasPrefix(part, "r=") {
			s.clientNonce = part[2:]
		}
	}
	extra := make([]byte, 12)
	_, _ = rand.Read(extra)
	s.serverNonce = s.clientNonce + base64.RawURLEncoding.EncodeToString(extra)
	s.salt = make([]byte, 16)
	_, _ = rand.Read(s.salt)
	s.saltedPassword = pbkdf2.Key([]byte(s.password), s.salt, s.iterations, sha256.Size, sha256.New)
	s.serverFirst = "r=" + s.serverNonce + ",s=" + base64.StdEncoding.EncodeToString(s.salt) + ",i=4096"
	return s.serverFirst
}

func (s *scramServer) finalResponse(clientFinal string) (string, bool) {
	fields, _ := parseScram(clientFinal)
	clientFinalNoProof := "c=biws,r=" + s.serverNonce
	authMessage := s.clientFirstBare + "," + s.serverFirst + "," + clientFinalNoProof

	clientKey := hmacSHA256(s.saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	clientSignature := hmacSHA256(storedKey[:], []byte(authMessage))
	expectedProof := xorBytes(clientKey, clientSignature)

	proof, err := base64.StdEncoding.DecodeString(fields["p"])
	if err != nil || !hmac.Equal(proof, expectedProof) {
		return "", false
	}

	serverKey := hmacSHA256(s.saltedPassword, []byte("Server Key"))
	serverSignature := hmacSHA256(serverKey, []byte(authMessage))
	return "v=" + base64.StdEncoding.EncodeToString(serverSignature), true
}

func TestScramSHA256FullExchange(t *testing.T) {
	mech := newScramSHA256("guest", "guest")
	require.Equal(t, "SCRAM-SHA-256", mech.Name())

	session, first, err := mech.Authenticate(context.Background())
	require.NoError(t, err)

	server := newScramServer("guest")
	serverFirst := server.firstResponse(string(first))

	done, clientFinal, err := session.Challenge([]byte(serverFirst))
	require.NoError(t, err)
	require.False(t, done)

	serverFinal, ok := server.finalResponse(string(clientFinal))
	require.True(t, ok, "server rejected the client's proof")

	done, next, err := session.Challenge([]byte(serverFinal))
	require.NoError(t, err)
	require.True(t, done)
	require.Nil(t, next)
}

func TestScramSHA256RejectsTamperedServerSignature(t *testing.T) {
	mech := newScramSHA256("guest", "guest")
	session, first, err := mech.Authenticate(context.Background())
	require.NoError(t, err)

	server := newScramServer("guest")
	serverFirst := server.firstResponse(string(first))

	_, clientFinal, err := session.Challenge([]byte(serverFirst))
	require.NoError(t, err)

	serverFinal, ok := server.finalResponse(string(clientFinal))
	require.True(t, ok)
	tampered := strings.Replace(serverFinal, "v=", "v=AAAA", 1)

	_, _, err = session.Challenge([]byte(tampered))
	require.Error(t, err)
}

func TestScramSHA256RejectsNonExtendingServerNonce(t *testing.T) {
	mech := newScramSHA256("guest", "guest")
	session, _, err := mech.Authenticate(context.Background())
	require.NoError(t, err)

	_, _, err = session.Challenge([]byte("r=not-a-real-nonce,s=" + base64.StdEncoding.EncodeToString([]byte("salt")) + ",i=4096"))
	require.Error(t, err)
}
