package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/codefionn/fwdcache/fwdcache-srv/httpmsg"
	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
)

// Dispatcher forwards one request to its origin over a fresh connection and
// hands back the response as it arrives.
type Dispatcher struct {
	dialer         *Dialer
	guard          *SelfLoopGuard
	transformer    *Transformer
	timeout        time.Duration
	maxHeaderBytes int
}

// NewDispatcher wires a Dispatcher. timeout bounds every single wait on the
// origin: each write, and each read of the response.
func NewDispatcher(dialer *Dialer, guard *SelfLoopGuard, transformer *Transformer, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		dialer:         dialer,
		guard:          guard,
		transformer:    transformer,
		timeout:        timeout,
		maxHeaderBytes: httpmsg.DefaultMaxHeaderBytes,
	}
}

// OriginResponse is an origin's final response whose body is still being
// read from the origin connection. Close releases that connection.
type OriginResponse struct {
	Head *httpmsg.Response
	Body io.Reader

	unframed bool
	conn     net.Conn
	stop     func() bool
}

// Unframed reports whether the body has neither a Content-Length nor a
// Transfer-Encoding, so only the origin closing ends it.
func (o *OriginResponse) Unframed() bool {
	return o.unframed
}

// Close releases the origin connection. It is safe to call more than once.
func (o *OriginResponse) Close() error {
	o.stop()
	if err := o.conn.Close(); err != nil && !isClosedConnError(err) {
		return err
	}
	return nil
}

// Dispatch sends req to target and returns the origin's final response
// once its head has arrived. Interim 1xx responses are consumed. Errors,
// including those later returned by the body, are *Error values carrying
// the network or policy classification. The caller must Close the result.
func (d *Dispatcher) Dispatch(ctx context.Context, req *httpmsg.Request, target Target) (*OriginResponse, error) {
	if err := d.guard.Check(target.Host, target.Port); err != nil {
		return nil, err
	}

	conn, err := d.dialer.Dial(ctx, target.Host, target.Port)
	if err != nil {
		return nil, err
	}
	// Closing the connection unblocks reads when the client goes away.
	origin := &OriginResponse{
		conn: conn,
		stop: context.AfterFunc(ctx, func() { _ = conn.Close() }),
	}
	ok := false
	defer func() {
		if ok {
			return
		}
		if closeErr := origin.Close(); closeErr != nil {
			logger.Debug("Error closing origin connection to %s: %v", target.Address(), closeErr)
		}
	}()

	wire := idleConn{Conn: conn, timeout: d.timeout}
	out := d.transformer.ForOrigin(req, target)
	if _, err := out.WriteTo(wire); err != nil {
		return nil, d.classifyIOError(ErrCodeUpstreamWriteFailed, target, err)
	}
	logger.Trace("Forwarded %s %s to %s", out.Method, out.Target, target.Address())

	reader := httpmsg.NewResponseReader(wire, req.Method, d.maxHeaderBytes)
	for {
		head, body, err := reader.ReadResponseHead()
		if err != nil {
			return nil, d.classifyIOError(ErrCodeUpstreamReadFailed, target, err)
		}
		// 101 ends the exchange; other 1xx precede the real response.
		if head.StatusCode >= 200 || head.StatusCode == 101 {
			_, hasLength := head.Headers.Lookup("Content-Length")
			_, hasEncoding := head.Headers.Lookup("Transfer-Encoding")
			origin.Head = head
			origin.Body = &originBody{r: body, d: d, target: target}
			origin.unframed = httpmsg.BodyAllowed(req.Method, head.StatusCode) && !hasLength && !hasEncoding
			ok = true
			return origin, nil
		}
		logger.Debug("Skipping interim %d response from %s", head.StatusCode, target.Address())
	}
}

// originBody classifies errors met while reading a response body.
type originBody struct {
	r      io.Reader
	d      *Dispatcher
	target Target
}

func (b *originBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = b.d.classifyIOError(ErrCodeUpstreamReadFailed, b.target, err)
	}
	return n, err
}

func (d *Dispatcher) classifyIOError(code string, target Target, err error) error {
	switch {
	case isTimeout(err):
		return NewProxyError(ErrCodeUpstreamReadTimeout,
			fmt.Sprintf("Gateway Timeout: %s sent no data for %s", target.Host, d.timeout), err)
	case httpmsg.IsParseError(err):
		return NewProxyError(ErrCodeMalformedResponse, "invalid response from "+target.Host, err)
	case errors.Is(err, io.EOF):
		return NewProxyError(code, target.Host+" closed the connection without a response", err)
	default:
		return NewProxyError(code, GetErrorDescription(code), err)
	}
}
