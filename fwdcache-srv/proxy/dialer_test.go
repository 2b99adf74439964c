package proxy

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyDialError(t *testing.T) {
	opErr := func(err error) error {
		return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", err)}
	}

	tests := []struct {
		name string
		err  error
		code string
	}{
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}, ErrCodeDNSResolutionFailed},
		{"deadline", context.DeadlineExceeded, ErrCodeConnectionTimeout},
		{"net timeout", &net.OpError{Op: "dial", Net: "tcp", Err: timeoutError{}}, ErrCodeConnectionTimeout},
		{"refused", opErr(syscall.ECONNREFUSED), ErrCodeConnectionRefused},
		{"net unreachable", opErr(syscall.ENETUNREACH), ErrCodeNetworkUnreachable},
		{"host unreachable", opErr(syscall.EHOSTUNREACH), ErrCodeNetworkUnreachable},
		{"other", errors.New("socks connect failed"), ErrCodeDialFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyDialError("example.com", tt.err)
			assert.Equal(t, tt.code, err.Code)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	dnsErr := classifyDialError("nowhere.invalid", &net.DNSError{Err: "no such host", Name: "nowhere.invalid"})
	assert.Equal(t, "could not resolve host: nowhere.invalid", dnsErr.Description)
	assert.Equal(t, 502, StatusForError(dnsErr))
}

func TestDialerConnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	d, err := NewDialer(2*time.Second, nil, "")
	require.NoError(t, err)

	port := ln.Addr().(*net.TCPAddr).Port
	conn, err := d.Dial(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	conn.Close()
}

func TestDialerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d, err := NewDialer(2*time.Second, nil, "")
	require.NoError(t, err)

	_, err = d.Dial(context.Background(), "127.0.0.1", port)
	require.Error(t, err)
	code, _ := codeOf(err)
	assert.Equal(t, ErrCodeConnectionRefused, code)
}

func TestNewDialerSOCKS5(t *testing.T) {
	d, err := NewDialer(time.Second, nil, "127.0.0.1:1080")
	require.NoError(t, err)
	assert.NotNil(t, d.socks)
	assert.Equal(t, "127.0.0.1:1080", d.via)
}
