// Package scram implements the SCRAM-SHA-256 exchange (RFC 5802, RFC 7677)
// used by the ReQL handshake, both the client and the server side.
package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultIterations = 4096
	saltLen           = 16
	nonceLen          = 18
	channelBinding    = "biws" // base64("n,,")
)

var (
	ErrAuthFailed      = errors.New("wrong password")
	ErrUnknownUser     = errors.New("unknown user")
	ErrMalformed       = errors.New("malformed SCRAM message")
	ErrNonceMismatch   = errors.New("nonce mismatch")
	ErrServerSignature = errors.New("invalid server signature")
)

// Credentials are the secrets a server stores for a user.
type Credentials struct {
	Salt       []byte
	Iterations int
	StoredKey  []byte
	ServerKey  []byte
}

// NewCredentials derives credentials from a password with a random salt.
func NewCredentials(password string, iterations int) (Credentials, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return Credentials{}, err
	}
	salted := saltPassword(password, salt, iterations)
	return Credentials{
		Salt:       salt,
		Iterations: iterations,
		StoredKey:  hash(hmacSum(salted, "Client Key")),
		ServerKey:  hmacSum(salted, "Server Key"),
	}, nil
}

func saltPassword(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
}

func hmacSum(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func hash(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xor(a, b []byte) []byte {
	out := make([]byte, min(len(a), len(b)))
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func newNonce() (string, error) {
	b := make([]byte, nonceLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// escapeUser escapes ',' and '=' in a username as SCRAM requires.
func escapeUser(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	return strings.ReplaceAll(s, ",", "=2C")
}

func unescapeUser(s string) string {
	s = strings.ReplaceAll(s, "=2C", ",")
	return strings.ReplaceAll(s, "=3D", "=")
}

// parseAttrs splits "a=1,b=2" into attributes. Values may contain '='.
func parseAttrs(msg string) (map[byte]string, error) {
	attrs := make(map[byte]string)
	for _, part := range strings.Split(msg, ",") {
		if len(part) < 2 || part[1] != '=' {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, msg)
		}
		attrs[part[0]] = part[2:]
	}
	return attrs, nil
}

// Client runs the client side of one exchange.
type Client struct {
	user     string
	password string
	nonce    string

	clientFirstBare string
	serverKey       []byte
	authMessage     string
}

func NewClient(user, password string) (*Client, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	return &Client{user: user, password: password, nonce: nonce}, nil
}

// FirstMessage returns client-first-message: "n,,n=user,r=nonce".
func (c *Client) FirstMessage() string {
	c.clientFirstBare = "n=" + escapeUser(c.user) + ",r=" + c.nonce
	return "n,," + c.clientFirstBare
}

// FinalMessage answers server-first-message with client-final-message.
func (c *Client) FinalMessage(serverFirst string) (string, error) {
	attrs, err := parseAttrs(serverFirst)
	if err != nil {
		return "", err
	}
	nonce, salt64, iter64 := attrs['r'], attrs['s'], attrs['i']
	if !strings.HasPrefix(nonce, c.nonce) || len(nonce) == len(c.nonce) {
		return "", ErrNonceMismatch
	}
	salt, err := base64.StdEncoding.DecodeString(salt64)
	if err != nil {
		return "", fmt.Errorf("%w: salt: %v", ErrMalformed, err)
	}
	iterations, err := strconv.Atoi(iter64)
	if err != nil || iterations <= 0 {
		return "", fmt.Errorf("%w: iteration count %q", ErrMalformed, iter64)
	}

	withoutProof := "c=" + channelBinding + ",r=" + nonce
	c.authMessage = c.clientFirstBare + "," + serverFirst + "," + withoutProof

	salted := saltPassword(c.password, salt, iterations)
	clientKey := hmacSum(salted, "Client Key")
	signature := hmacSum(hash(clientKey), c.authMessage)
	c.serverKey = hmacSum(salted, "Server Key")

	proof := base64.StdEncoding.EncodeToString(xor(clientKey, signature))
	return withoutProof + ",p=" + proof, nil
}

// Verify checks server-final-message "v=signature".
func (c *Client) Verify(serverFinal string) error {
	attrs, err := parseAttrs(serverFinal)
	if err != nil {
		return err
	}
	if e, ok := attrs['e']; ok {
		return fmt.Errorf("%w: %s", ErrAuthFailed, e)
	}
	sig, err := base64.StdEncoding.DecodeString(attrs['v'])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !hmac.Equal(sig, hmacSum(c.serverKey, c.authMessage)) {
		return ErrServerSignature
	}
	return nil
}

// ServerSession runs the server side of one exchange.
type ServerSession struct {
	User string

	creds           Credentials
	nonce           string
	clientFirstBare string
	serverFirst     string
}

// StartServer reads client-first-message and returns server-first-message.
func StartServer(clientFirst string, lookup func(user string) (Credentials, bool)) (*ServerSession, string, error) {
	gs2, bare, ok := strings.Cut(clientFirst, ",,")
	if !ok || (gs2 != "n" && gs2 != "y") {
		return nil, "", fmt.Errorf("%w: unsupported channel binding in %q", ErrMalformed, clientFirst)
	}
	attrs, err := parseAttrs(bare)
	if err != nil {
		return nil, "", err
	}
	user := unescapeUser(attrs['n'])
	clientNonce := attrs['r']
	if clientNonce == "" {
		return nil, "", fmt.Errorf("%w: missing nonce", ErrMalformed)
	}
	creds, ok := lookup(user)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownUser, user)
	}
	serverNonce, err := newNonce()
	if err != nil {
		return nil, "", err
	}
	s := &ServerSession{
		User:            user,
		creds:           creds,
		nonce:           clientNonce + serverNonce,
		clientFirstBare: bare,
	}
	s.serverFirst = fmt.Sprintf("r=%s,s=%s,i=%d", s.nonce, base64.StdEncoding.EncodeToString(creds.Salt), creds.Iterations)
	return s, s.serverFirst, nil
}

// Finish verifies client-final-message and returns server-final-message.
func (s *ServerSession) Finish(clientFinal string) (string, error) {
	withoutProof, proof64, ok := strings.Cut(clientFinal, ",p=")
	if !ok {
		return "", fmt.Errorf("%w: missing proof", ErrMalformed)
	}
	attrs, err := parseAttrs(withoutProof)
	if err != nil {
		return "", err
	}
	if attrs['r'] != s.nonce {
		return "", ErrNonceMismatch
	}
	proof, err := base64.StdEncoding.DecodeString(proof64)
	if err != nil {
		return "", fmt.Errorf("%w: proof: %v", ErrMalformed, err)
	}
	authMessage := s.clientFirstBare + "," + s.serverFirst + "," + withoutProof
	clientKey := xor(proof, hmacSum(s.creds.StoredKey, authMessage))
	if !hmac.Equal(hash(clientKey), s.creds.StoredKey) {
		return "", ErrAuthFailed
	}
	return "v=" + base64.StdEncoding.EncodeToString(hmacSum(s.creds.ServerKey, authMessage)), nil
}
