package reql_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/reql"
	"github.com/andreyvit/reql/testserver"
)

func TestDialWithBackoff_Connects(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn, err := reql.DialWithBackoff(testCtx(t), reql.ConnectOpts{Address: srv.Addr()}, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestDialWithBackoff_AuthIsPermanent(t *testing.T) {
	srv := startServer(t, testserver.Options{AdminPassword: "s3cret"})
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Hour), 5)

	started := time.Now()
	_, err := reql.DialWithBackoff(testCtx(t), reql.ConnectOpts{Address: srv.Addr(), Password: "nope"}, b)
	require.True(t, reql.IsAuthError(err), "got %v", err)
	require.Less(t, time.Since(started), time.Minute)
}

func TestDialWithBackoff_GivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 2)
	_, err = reql.DialWithBackoff(testCtx(t), reql.ConnectOpts{Address: addr, Timeout: time.Second}, b)
	var ce *reql.ConnectionError
	require.True(t, errors.As(err, &ce), "got %v", err)
	require.Equal(t, reql.ConnErrTransport, ce.Kind)
}
