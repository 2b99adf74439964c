package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/fwdcache/fwdcache-srv/httpmsg"
	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
)

// connectEstablished is the exact reply to a successful CONNECT.
const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// TunnelManager runs CONNECT requests: validate the authority, refuse
// self-loops, dial, acknowledge and relay bytes until either side closes
// or the tunnel stays idle for the timeout.
type TunnelManager struct {
	dialer  *Dialer
	guard   *SelfLoopGuard
	blocked *DomainMatcher
	timeout time.Duration
	port    int // the only port CONNECT may reach
}

// NewTunnelManager wires a TunnelManager. blocked may be nil. A tunnel
// with no traffic in either direction for timeout is closed; zero disables
// that.
func NewTunnelManager(dialer *Dialer, guard *SelfLoopGuard, blocked *DomainMatcher, timeout time.Duration) *TunnelManager {
	return &TunnelManager{dialer: dialer, guard: guard, blocked: blocked, timeout: timeout, port: tunnelPort}
}

// Open validates req and connects to its target. On success the caller
// owns the returned connection.
func (m *TunnelManager) Open(ctx context.Context, req *httpmsg.Request) (net.Conn, string, int, error) {
	host, port, err := ParseAuthority(req.Target)
	if err != nil {
		return nil, "", 0, err
	}
	if port != m.port {
		return nil, host, port, NewProxyError(ErrCodeInvalidTunnelPort,
			fmt.Sprintf("invalid port: CONNECT is only allowed to port %d", m.port), nil)
	}
	if domain, ok := m.blocked.Match(host); ok {
		return nil, host, port, NewProxyError(ErrCodeBlocklistMatch, "Host "+host+" is blocked ("+domain+")", nil)
	}
	if err := m.guard.Check(host, port); err != nil {
		return nil, host, port, err
	}
	conn, err := m.dialer.Dial(ctx, host, port)
	if err != nil {
		return nil, host, port, err
	}
	return conn, host, port, nil
}

// Establish writes the 200 reply and relays between client and upstream
// until one direction finishes. pending holds client bytes read past the
// CONNECT request; they are sent upstream first. Both connections are
// closed on return. It returns bytes sent upstream and bytes sent to the
// client, not counting the reply.
func (m *TunnelManager) Establish(ctx context.Context, client, upstream net.Conn, pending []byte) (up, down int64, err error) {
	if _, err := io.WriteString(idleConn{Conn: client, timeout: m.timeout}, connectEstablished); err != nil {
		closeTunnel(client, upstream)
		return 0, 0, err
	}
	if len(pending) > 0 {
		n, err := idleConn{Conn: upstream, timeout: m.timeout}.Write(pending)
		up += int64(n)
		if err != nil {
			closeTunnel(client, upstream)
			return up, 0, err
		}
	}

	n1, n2 := m.relay(ctx, client, upstream)
	return up + n1, n2, nil
}

// relay copies in both directions. The first direction to finish closes
// both connections, which ends the other.
func (m *TunnelManager) relay(ctx context.Context, client, upstream net.Conn) (up, down int64) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var once sync.Once
	shutdown := func() {
		once.Do(func() { closeTunnel(client, upstream) })
	}
	stop := context.AfterFunc(ctx, shutdown)
	defer stop()

	activity := newTunnelActivity()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		n, err := m.pipe(upstream, client, activity)
		up = n
		if err != nil && !isClosedConnError(err) {
			logger.Debug("TCP tunnel copy error (client to target): %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		n, err := m.pipe(client, upstream, activity)
		down = n
		if err != nil && !isClosedConnError(err) {
			logger.Debug("TCP tunnel copy error (target to client): %v", err)
		}
	}()
	wg.Wait()
	shutdown()
	logger.Debug("TCP tunnel closed (%d bytes up, %d bytes down)", up, down)
	return up, down
}

// tunnelActivity records when bytes last crossed a tunnel in either
// direction.
type tunnelActivity struct {
	last atomic.Int64
}

func newTunnelActivity() *tunnelActivity {
	a := &tunnelActivity{}
	a.touch()
	return a
}

func (a *tunnelActivity) touch() {
	a.last.Store(time.Now().UnixNano())
}

func (a *tunnelActivity) idleFor() time.Duration {
	return time.Since(time.Unix(0, a.last.Load()))
}

// pipe copies src to dst with a pooled buffer. Each read waits at most the
// tunnel timeout; a read that times out while the other direction moved
// data recently is retried, so only a tunnel idle both ways is ended.
func (m *TunnelManager) pipe(dst, src net.Conn, activity *tunnelActivity) (int64, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	wire := idleConn{Conn: dst, timeout: m.timeout}
	var written int64
	for {
		if m.timeout > 0 {
			if err := src.SetReadDeadline(time.Now().Add(m.timeout)); err != nil {
				return written, err
			}
		}
		n, err := src.Read(*buf)
		if n > 0 {
			activity.touch()
			wn, werr := wire.Write((*buf)[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			activity.touch()
		}
		if err != nil {
			if isTimeout(err) && activity.idleFor() < m.timeout {
				continue
			}
			if errors.Is(err, io.EOF) {
				return written, nil
			}
			return written, err
		}
	}
}

func closeTunnel(client io.Closer, upstream net.Conn) {
	if err := upstream.Close(); err != nil && !isClosedConnError(err) {
		logger.Debug("Error closing tunnel upstream: %v", err)
	}
	if err := client.Close(); err != nil && !isClosedConnError(err) {
		logger.Debug("Error closing tunnel client: %v", err)
	}
}

func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}
