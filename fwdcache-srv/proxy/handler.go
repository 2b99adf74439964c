package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/fwdcache/fwdcache-srv/accesslog"
	"github.com/codefionn/fwdcache/fwdcache-srv/cache"
	"github.com/codefionn/fwdcache/fwdcache-srv/httpmsg"
	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
)

// sessionState is where a client connection is in its request cycle.
type sessionState int

const (
	stateAwaitingRequest sessionState = iota
	stateDispatching
	stateWritingResponse
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitingRequest:
		return "awaiting-request"
	case stateDispatching:
		return "dispatching"
	case stateWritingResponse:
		return "writing-response"
	default:
		return "closed"
	}
}

// session serves the requests of one client connection in order.
type session struct {
	p          *Proxy
	conn       *trackedConn
	reader     *httpmsg.Reader
	id         string
	connID     int64
	clientIP   string
	clientPort int
	state      sessionState
}

// handleConnection runs a session until the client leaves, a request fails
// or persistence ends. conn is closed on return.
func (p *Proxy) handleConnection(ctx context.Context, raw net.Conn) {
	id := uuid.NewString()
	clientIP, clientPort := splitRemoteAddr(raw.RemoteAddr())

	connID, err := p.Collector.StartConnection(ctx, id, clientIP, "", 0, "http")
	if err != nil {
		logger.Debug("%s", logger.WithRequestID(id, "Failed to record connection start: %v", err))
	}

	conn := newTrackedConn(ctx, raw, p.Collector, connID)
	s := &session{
		p:          p,
		conn:       conn,
		reader:     httpmsg.NewReader(conn, httpmsg.DefaultMaxHeaderBytes),
		id:         id,
		connID:     connID,
		clientIP:   clientIP,
		clientPort: clientPort,
	}
	defer func() {
		s.state = stateClosed
		if err := conn.Close(); err != nil && !isClosedConnError(err) {
			logger.Debug("%s", logger.WithRequestID(id, "Error closing client connection: %v", err))
		}
	}()

	logger.Debug("%s", logger.WithRequestID(id, "Accepted connection from %s:%d", clientIP, clientPort))
	s.serve(ctx)
}

func (s *session) serve(ctx context.Context) {
	for ctx.Err() == nil {
		s.state = stateAwaitingRequest
		if err := s.conn.SetReadDeadline(time.Now().Add(s.p.timeout)); err != nil {
			s.conn.SetCloseReason("deadline error")
			return
		}

		req, err := s.reader.ReadRequest()
		if err != nil {
			s.readFailed(ctx, err)
			return
		}
		if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
			s.conn.SetCloseReason("deadline error")
			return
		}
		logger.Debug("%s", logger.WithRequestID(s.id, "Request: %s", req.RequestLine()))

		if !s.handle(ctx, req) {
			return
		}
	}
	s.conn.SetCloseReason("proxy stopped")
}

// readFailed ends the session after ReadRequest returned err. Only a
// malformed request gets an answer.
func (s *session) readFailed(ctx context.Context, err error) {
	switch {
	case errors.Is(err, io.EOF):
		s.conn.SetCloseReason("client closed")
	case isTimeout(err):
		logger.Debug("%s", logger.WithRequestID(s.id, "Idle timeout, closing connection"))
		s.conn.SetCloseReason("idle timeout")
	case httpmsg.IsParseError(err):
		s.conn.SetCloseReason("malformed request")
		s.fail(ctx, nil, accesslog.CacheNone, err)
	default:
		if !isClosedConnError(err) {
			logger.Debug("%s", logger.WithRequestID(s.id, "Read error: %v", err))
		}
		s.conn.SetCloseReason("read error")
	}
}

// handle answers one request and reports whether the connection stays open.
func (s *session) handle(ctx context.Context, req *httpmsg.Request) bool {
	s.state = stateDispatching

	switch req.Method {
	case "CONNECT":
		s.handleConnect(ctx, req)
		return false
	case "GET", "HEAD", "POST":
	default:
		s.fail(ctx, req, accesslog.CacheNone,
			NewProxyError(ErrCodeMethodNotSupported, "Method not supported: "+req.Method, nil))
		return false
	}

	target, err := ResolveTarget(req)
	if err != nil {
		s.fail(ctx, req, accesslog.CacheNone, err)
		return false
	}
	s.recordRequest(ctx, req, target.URL())

	if domain, ok := s.p.blocked.Match(target.Host); ok {
		s.recordBlocked(ctx, target.Host, domain)
		s.fail(ctx, req, accesslog.CacheNone,
			NewProxyError(ErrCodeBlocklistMatch, "Host "+target.Host+" is blocked ("+domain+")", nil))
		return false
	}

	status := accesslog.CacheNone
	key := ""
	if req.Method == "GET" {
		key = cache.NormalizeURL(target.URL())
		cached, ok := s.p.cache.Get(key)
		s.recordCacheLookup(ctx, key, ok)
		if ok {
			logger.Debug("%s", logger.WithRequestID(s.id, "Cache hit for %s", key))
			return s.respond(ctx, req, accesslog.CacheHit, cached)
		}
		status = accesslog.CacheMiss
	}

	origin, err := s.p.dispatcher.Dispatch(ctx, req, target)
	if err != nil {
		return s.dispatchFailed(ctx, req, status, err)
	}
	defer func() {
		if err := origin.Close(); err != nil {
			logger.Debug("%s", logger.WithRequestID(s.id, "Error closing origin connection: %v", err))
		}
	}()
	return s.relay(ctx, req, status, key, origin)
}

// dispatchFailed answers a request whose origin exchange failed before any
// byte reached the client. An unreachable origin ends the request, not the
// connection.
func (s *session) dispatchFailed(ctx context.Context, req *httpmsg.Request, status accesslog.CacheStatus, err error) bool {
	keepAlive := IsNetworkError(err) && wantsKeepAlive(req)
	s.failWith(ctx, req, status, err, keepAlive)
	return keepAlive
}

// respond writes a complete response, as served from the cache.
func (s *session) respond(ctx context.Context, req *httpmsg.Request, status accesslog.CacheStatus, resp *httpmsg.Response) bool {
	keepAlive := wantsKeepAlive(req) && resp.StatusCode != 101
	out := s.p.transformer.ForClient(resp, req.Method, keepAlive)
	if err := s.write(out); err != nil {
		s.conn.SetCloseReason("write error")
		s.logAccess(req.RequestLine(), status, out.StatusCode, 0)
		return false
	}
	s.logAccess(req.RequestLine(), status, out.StatusCode, int64(len(out.Body)))
	s.recordResponse(ctx, out.StatusCode, int64(len(out.Body)))

	if !keepAlive {
		s.conn.SetCloseReason("connection close")
	}
	return keepAlive
}

// relay sends the origin's response to the client while its body arrives
// and stores it in the cache when it qualifies. An unframed body is first
// buffered up to the object size limit so it can be sent with a
// Content-Length; a longer one is streamed and the connection is closed to
// end it.
func (s *session) relay(ctx context.Context, req *httpmsg.Request, status accesslog.CacheStatus, key string, origin *OriginResponse) bool {
	head := origin.Head
	body := origin.Body
	keepAlive := wantsKeepAlive(req) && head.StatusCode != 101

	if origin.Unframed() {
		limit := s.p.cache.MaxObjectSize()
		buf, err := io.ReadAll(io.LimitReader(body, limit+1))
		if err != nil {
			return s.dispatchFailed(ctx, req, status, err)
		}
		if int64(len(buf)) <= limit {
			resp := *head
			resp.Body = buf
			if status == accesslog.CacheMiss {
				s.store(key, req, &resp)
			}
			return s.respond(ctx, req, status, &resp)
		}
		body = io.MultiReader(bytes.NewReader(buf), body)
		keepAlive = false
	}

	var capture *bodyCapture
	if status == accesslog.CacheMiss && s.p.cache.MayStore(req, head) {
		capture = &bodyCapture{limit: s.p.cache.MaxObjectSize()}
		body = newTeeReader(body, capture.add)
	}

	out := s.p.transformer.ForClientStream(head, keepAlive)
	s.state = stateWritingResponse
	wire := idleConn{Conn: s.conn, timeout: s.p.timeout}
	if _, err := out.WriteTo(wire); err != nil {
		if !isClosedConnError(err) {
			logger.Debug("%s", logger.WithRequestID(s.id, "Failed to write response head: %v", err))
		}
		s.conn.SetCloseReason("write error")
		s.logAccess(req.RequestLine(), status, out.StatusCode, 0)
		return false
	}

	n, err := copyBuffer(wire, body)
	s.logAccess(req.RequestLine(), status, out.StatusCode, n)
	s.recordResponse(ctx, out.StatusCode, n)
	if err != nil {
		// The head is out, so the only way left to signal failure is to close.
		logger.Debug("%s", logger.WithRequestID(s.id, "Response relay ended after %d bytes: %v", n, err))
		s.conn.SetCloseReason("relay error")
		return false
	}

	if capture != nil && !capture.overflow {
		resp := *head
		resp.Body = capture.Bytes()
		s.store(key, req, &resp)
	}
	if !keepAlive {
		s.conn.SetCloseReason("connection close")
	}
	return keepAlive
}

func (s *session) store(key string, req *httpmsg.Request, resp *httpmsg.Response) {
	if s.p.cache.IsCacheable(req, resp) && s.p.cache.Put(key, resp) {
		logger.Debug("%s", logger.WithRequestID(s.id, "Cached %s (%d bytes)", key, len(resp.Body)))
	}
}

// handleConnect opens a tunnel for req. The connection carries raw bytes
// afterwards, so the session ends with the tunnel.
func (s *session) handleConnect(ctx context.Context, req *httpmsg.Request) {
	upstream, host, port, err := s.p.tunnels.Open(ctx, req)
	if err != nil {
		if code, _ := codeOf(err); code == ErrCodeBlocklistMatch {
			s.recordBlocked(ctx, host, "blocklist")
		}
		s.fail(ctx, req, accesslog.CacheNone, err)
		return
	}
	s.recordRequest(ctx, req, req.Target)
	logger.Debug("%s", logger.WithRequestID(s.id, "Tunnel to %s established", net.JoinHostPort(host, strconv.Itoa(port))))
	s.logAccess(req.RequestLine(), accesslog.CacheNone, 200, 0)

	_ = s.conn.SetDeadline(time.Time{})
	s.state = stateWritingResponse
	s.conn.SetCloseReason("tunnel closed")
	up, down, err := s.p.tunnels.Establish(ctx, s.conn, upstream, s.reader.Detach())
	if err != nil {
		logger.Debug("%s", logger.WithRequestID(s.id, "Tunnel to %s failed: %v", host, err))
		return
	}
	logger.Debug("%s", logger.WithRequestID(s.id, "Tunnel to %s finished (%d bytes up, %d bytes down)", host, up, down))
}

// fail answers with the error response for err and marks the connection
// for closing. req is nil when the request could not be parsed.
func (s *session) fail(ctx context.Context, req *httpmsg.Request, status accesslog.CacheStatus, err error) {
	s.failWith(ctx, req, status, err, false)
}

func (s *session) failWith(ctx context.Context, req *httpmsg.Request, status accesslog.CacheStatus, err error, keepAlive bool) {
	resp := ErrorResponseFor(err)
	if keepAlive {
		resp.Headers.Set("Connection", "keep-alive")
	}
	requestLine := ""
	if req != nil {
		requestLine = req.RequestLine()
	}
	logger.Debug("%s", logger.WithRequestID(s.id, "%d for %q: %v", resp.StatusCode, requestLine, err))

	if s.connID > 0 {
		errorType := ErrCodeInternalError
		if code, ok := codeOf(err); ok {
			errorType = code
		} else if httpmsg.IsParseError(err) {
			errorType = ErrCodeMalformedRequest
		}
		if recErr := s.p.Collector.RecordError(ctx, s.connID, errorType, err.Error()); recErr != nil {
			logger.Debug("Failed to record error: %v", recErr)
		}
	}

	var written int64
	if writeErr := s.write(resp); writeErr == nil {
		written = int64(len(resp.Body))
	}
	s.logAccess(requestLine, status, resp.StatusCode, written)
	s.recordResponse(ctx, resp.StatusCode, int64(len(resp.Body)))
	if keepAlive {
		return
	}
	if reason, _ := s.conn.closeReason.Load().(string); reason == "" {
		s.conn.SetCloseReason("error " + strconv.Itoa(resp.StatusCode))
	}
}

func (s *session) write(resp *httpmsg.Response) error {
	s.state = stateWritingResponse
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.p.timeout)); err != nil {
		return err
	}
	_, err := resp.WriteTo(s.conn)
	if err != nil && !isClosedConnError(err) {
		logger.Debug("%s", logger.WithRequestID(s.id, "Failed to write response: %v", err))
	}
	return err
}

func (s *session) logAccess(requestLine string, cacheStatus accesslog.CacheStatus, status int, bytes int64) {
	err := s.p.accessLog.Log(accesslog.Entry{
		ClientIP:    s.clientIP,
		ClientPort:  s.clientPort,
		Cache:       cacheStatus,
		RequestLine: requestLine,
		Status:      status,
		Bytes:       bytes,
		Time:        time.Now(),
	})
	if err != nil {
		logger.Warn("Failed to write access log: %v", err)
	}
}

func (s *session) recordRequest(ctx context.Context, req *httpmsg.Request, url string) {
	if s.connID <= 0 {
		return
	}
	length, _ := req.ContentLength()
	host := req.Header("Host")
	if err := s.p.Collector.RecordHTTPRequest(ctx, s.connID, req.Method, url, host, req.Header("User-Agent"), length); err != nil {
		logger.Debug("Failed to record HTTP request: %v", err)
	}
}

func (s *session) recordResponse(ctx context.Context, statusCode int, bodyBytes int64) {
	if s.connID <= 0 {
		return
	}
	if err := s.p.Collector.RecordHTTPResponse(ctx, s.connID, statusCode, bodyBytes); err != nil {
		logger.Debug("Failed to record HTTP response: %v", err)
	}
}

func (s *session) recordCacheLookup(ctx context.Context, key string, hit bool) {
	if s.connID <= 0 {
		return
	}
	if err := s.p.Collector.RecordCacheLookup(ctx, s.connID, key, hit); err != nil {
		logger.Debug("Failed to record cache lookup: %v", err)
	}
}

func (s *session) recordBlocked(ctx context.Context, host, reason string) {
	logger.Info("%s", logger.WithRequestID(s.id, "Blocked request from %s to %s (%s)", s.clientIP, host, reason))
	if err := s.p.Collector.RecordBlockedRequest(ctx, s.clientIP, host, reason); err != nil {
		logger.Debug("Failed to record blocked request: %v", err)
	}
}

// wantsKeepAlive reports whether the client asked to reuse the connection.
// HTTP/1.1 persists unless told to close; HTTP/1.0 only on keep-alive.
func wantsKeepAlive(req *httpmsg.Request) bool {
	h := req.Headers
	if h.HasToken("Connection", "close") || h.HasToken("Proxy-Connection", "close") {
		return false
	}
	if req.Version == "HTTP/1.0" {
		return h.HasToken("Connection", "keep-alive") || h.HasToken("Proxy-Connection", "keep-alive")
	}
	return true
}

func splitRemoteAddr(addr net.Addr) (string, int) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}
