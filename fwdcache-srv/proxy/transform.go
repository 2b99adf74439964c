package proxy

import (
	"strconv"

	"github.com/codefionn/fwdcache/fwdcache-srv/httpmsg"
)

// Transformer rewrites messages crossing the proxy. Inputs are never
// modified; new values are returned.
type Transformer struct {
	via string
}

// NewTransformer returns a Transformer that identifies the proxy as proxyID
// in Via headers.
func NewTransformer(proxyID string) *Transformer {
	return &Transformer{via: "1.1 " + proxyID}
}

// ForOrigin builds the request sent to target. Each origin connection
// carries one request, so Connection is always close.
func (t *Transformer) ForOrigin(req *httpmsg.Request, target Target) *httpmsg.Request {
	headers := req.Headers.Clone()
	headers.Remove("Proxy-Connection")
	headers.Remove("Keep-Alive")
	headers.Set("Connection", "close")
	t.appendVia(&headers)
	headers.Set("Host", target.HostHeader())

	return &httpmsg.Request{
		Method:  req.Method,
		Target:  target.Path,
		Version: req.Version,
		Headers: headers,
		Body:    req.Body,
	}
}

// ForClient builds the response sent back to the client for a request made
// with method. Connection reflects the persistence decision. A body whose
// length was only known from the origin closing gets a Content-Length.
func (t *Transformer) ForClient(resp *httpmsg.Response, method string, keepAlive bool) *httpmsg.Response {
	out := t.ForClientStream(resp, keepAlive)
	if httpmsg.BodyAllowed(method, resp.StatusCode) {
		_, hasLength := out.Headers.Lookup("Content-Length")
		_, hasEncoding := out.Headers.Lookup("Transfer-Encoding")
		if !hasLength && !hasEncoding {
			out.Headers.Set("Content-Length", strconv.Itoa(len(resp.Body)))
		}
	}
	out.Body = resp.Body
	return out
}

// ForClientStream builds the head sent to the client ahead of a body that
// is relayed while it arrives. Body framing stays as the origin sent it.
func (t *Transformer) ForClientStream(head *httpmsg.Response, keepAlive bool) *httpmsg.Response {
	headers := head.Headers.Clone()
	headers.Remove("Keep-Alive")
	if keepAlive {
		headers.Set("Connection", "keep-alive")
	} else {
		headers.Set("Connection", "close")
	}
	t.appendVia(&headers)

	return &httpmsg.Response{
		Version:    head.Version,
		StatusCode: head.StatusCode,
		Reason:     head.Reason,
		Headers:    headers,
	}
}

func (t *Transformer) appendVia(headers *httpmsg.Headers) {
	if existing, ok := headers.Lookup("Via"); ok && existing != "" {
		headers.Set("Via", existing+", "+t.via)
		return
	}
	headers.Set("Via", t.via)
}
