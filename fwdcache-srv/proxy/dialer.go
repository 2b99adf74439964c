package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
	xproxy "golang.org/x/net/proxy"
)

// Dialer opens outbound TCP connections, directly or through an upstream
// SOCKS5 proxy, and classifies failures as coded network errors.
type Dialer struct {
	timeout time.Duration
	direct  *net.Dialer
	socks   xproxy.ContextDialer
	via     string
}

// NewDialer returns a Dialer. resolver may be nil for the default resolver;
// socksAddr may be empty for direct connections.
func NewDialer(timeout time.Duration, resolver *net.Resolver, socksAddr string) (*Dialer, error) {
	d := &Dialer{
		timeout: timeout,
		direct:  &net.Dialer{Timeout: timeout, Resolver: resolver},
	}
	if socksAddr == "" {
		return d, nil
	}

	dialer, err := xproxy.SOCKS5("tcp", socksAddr, nil, d.direct)
	if err != nil {
		return nil, NewProxyError(ErrCodeSOCKS5DialerFailed, "failed to create SOCKS5 dialer for "+socksAddr, err)
	}
	contextDialer, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return nil, NewProxyError(ErrCodeSOCKS5DialerFailed, "SOCKS5 dialer does not support contexts", nil)
	}
	d.socks = contextDialer
	d.via = socksAddr
	return d, nil
}

// Dial connects to host:port within the configured timeout.
func (d *Dialer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if d.socks != nil {
		logger.Debug("SOCKS5 proxy forwarding to %s via %s", addr, d.via)
		conn, err = d.socks.DialContext(ctx, "tcp", addr)
	} else {
		logger.Trace("Dialing %s", addr)
		conn, err = d.direct.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, classifyDialError(host, err)
	}
	return conn, nil
}

func classifyDialError(host string, err error) *Error {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return NewProxyError(ErrCodeDNSResolutionFailed, "could not resolve host: "+host, err)
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return NewProxyError(ErrCodeConnectionTimeout, fmt.Sprintf("connection to %s timed out", host), err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return NewProxyError(ErrCodeConnectionRefused, "connection refused by "+host, err)
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return NewProxyError(ErrCodeNetworkUnreachable, "network unreachable for host: "+host, err)
	default:
		return NewProxyError(ErrCodeDialFailed, "could not connect to "+host, err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
