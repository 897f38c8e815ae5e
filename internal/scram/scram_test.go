package scram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lookupFor(user string, creds Credentials) func(string) (Credentials, bool) {
	return func(u string) (Credentials, bool) {
		return creds, u == user
	}
}

func TestExchange(t *testing.T) {
	creds, err := NewCredentials("s3cret", 64)
	require.NoError(t, err)

	c, err := NewClient("ad,min", "s3cret")
	require.NoError(t, err)
	first := c.FirstMessage()
	require.Contains(t, first, "n=ad=2Cmin")

	s, serverFirst, err := StartServer(first, lookupFor("ad,min", creds))
	require.NoError(t, err)
	require.Equal(t, "ad,min", s.User)

	final, err := c.FinalMessage(serverFirst)
	require.NoError(t, err)

	serverFinal, err := s.Finish(final)
	require.NoError(t, err)
	require.NoError(t, c.Verify(serverFinal))
}

func TestWrongPassword(t *testing.T) {
	creds, err := NewCredentials("right", 64)
	require.NoError(t, err)

	c, err := NewClient("admin", "wrong")
	require.NoError(t, err)
	s, serverFirst, err := StartServer(c.FirstMessage(), lookupFor("admin", creds))
	require.NoError(t, err)
	final, err := c.FinalMessage(serverFirst)
	require.NoError(t, err)

	_, err = s.Finish(final)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestUnknownUser(t *testing.T) {
	creds, err := NewCredentials("x", 64)
	require.NoError(t, err)
	c, err := NewClient("bob", "x")
	require.NoError(t, err)
	_, _, err = StartServer(c.FirstMessage(), lookupFor("admin", creds))
	require.ErrorIs(t, err, ErrUnknownUser)
}

func TestClientRejectsForeignNonce(t *testing.T) {
	c, err := NewClient("admin", "")
	require.NoError(t, err)
	c.FirstMessage()
	_, err = c.FinalMessage("r=somebodyelse,s=c2FsdA==,i=4096")
	require.ErrorIs(t, err, ErrNonceMismatch)
}

func TestClientRejectsBadServerSignature(t *testing.T) {
	creds, err := NewCredentials("pw", 64)
	require.NoError(t, err)
	c, err := NewClient("admin", "pw")
	require.NoError(t, err)
	_, serverFirst, err := StartServer(c.FirstMessage(), lookupFor("admin", creds))
	require.NoError(t, err)
	_, err = c.FinalMessage(serverFirst)
	require.NoError(t, err)
	require.ErrorIs(t, c.Verify("v=AAAA"), ErrServerSignature)
}
