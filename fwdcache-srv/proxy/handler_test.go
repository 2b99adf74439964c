package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearDeadlineFailsConn refuses to clear its read deadline.
type clearDeadlineFailsConn struct {
	net.Conn
}

func (c clearDeadlineFailsConn) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return errors.New("deadline unsupported")
	}
	return c.Conn.SetReadDeadline(t)
}

func TestSessionClosesWhenDeadlineCannotBeCleared(t *testing.T) {
	p := newTestProxy(t, nil)
	t.Cleanup(func() { assert.NoError(t, p.Stop()) })

	clientSide, proxySide := net.Pipe()
	defer clientSide.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.handleConnection(context.Background(), clearDeadlineFailsConn{proxySide})
	}()

	require.NoError(t, clientSide.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := io.WriteString(clientSide, getRequest("http://example.com/"))
	require.NoError(t, err)

	data, err := io.ReadAll(clientSide)
	require.NoError(t, err)
	assert.Empty(t, data, "no request is served without a working deadline")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "awaiting-request", stateAwaitingRequest.String())
	assert.Equal(t, "dispatching", stateDispatching.String())
	assert.Equal(t, "writing-response", stateWritingResponse.String())
	assert.Equal(t, "closed", stateClosed.String())
}
