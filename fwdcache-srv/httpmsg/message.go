package httpmsg

import (
	"strconv"
	"strings"
)

// TargetForm is the shape of a request target.
type TargetForm int

const (
	OriginForm    TargetForm = iota // /path?query
	AbsoluteForm                    // scheme://host[:port]/path
	AuthorityForm                   // host:port, CONNECT only
)

func (f TargetForm) String() string {
	switch f {
	case OriginForm:
		return "origin-form"
	case AbsoluteForm:
		return "absolute-form"
	default:
		return "authority-form"
	}
}

// FormOf classifies target by shape only; the URL itself is not validated.
func FormOf(target string) TargetForm {
	switch {
	case strings.HasPrefix(target, "/"):
		return OriginForm
	case strings.Contains(target, "://"):
		return AbsoluteForm
	default:
		return AuthorityForm
	}
}

// Request is a parsed HTTP/1.x request. It is not modified after parsing;
// the proxy builds new values when it needs a different shape.
type Request struct {
	Method  string
	Target  string
	Version string
	Headers Headers
	Body    []byte
}

// Form returns the shape of the request target.
func (r *Request) Form() TargetForm {
	return FormOf(r.Target)
}

// Header returns the first value of name, case-insensitively.
func (r *Request) Header(name string) string {
	return r.Headers.Get(name)
}

// ContentLength returns the declared body length, if any.
func (r *Request) ContentLength() (int64, bool) {
	return contentLength(r.Headers)
}

// HasBody reports whether the request declares a non-zero Content-Length.
func (r *Request) HasBody() bool {
	n, ok := r.ContentLength()
	return ok && n > 0
}

// RequestLine returns "METHOD target VERSION".
func (r *Request) RequestLine() string {
	return r.Method + " " + r.Target + " " + r.Version
}

// Response is a parsed or synthesized HTTP/1.x response.
type Response struct {
	Version    string
	StatusCode int
	Reason     string
	Headers    Headers
	Body       []byte
}

// Header returns the first value of name, case-insensitively.
func (r *Response) Header(name string) string {
	return r.Headers.Get(name)
}

// ContentLength returns the declared body length, if any.
func (r *Response) ContentLength() (int64, bool) {
	return contentLength(r.Headers)
}

// HasBody reports whether this response carries a body when answering a
// request with the given method. HEAD requests and 1xx, 204 and 304
// responses never do, whatever Content-Length says. Pass "" when the
// request method is unknown.
func (r *Response) HasBody(requestMethod string) bool {
	if !BodyAllowed(requestMethod, r.StatusCode) {
		return false
	}
	if n, ok := r.ContentLength(); ok {
		return n > 0
	}
	return len(r.Body) > 0
}

// BodyAllowed reports whether a response with status to a request with
// method may carry a body at all.
func BodyAllowed(method string, status int) bool {
	if strings.EqualFold(method, "HEAD") {
		return false
	}
	if status >= 100 && status < 200 {
		return false
	}
	return status != 204 && status != 304
}

// contentLength returns the parsed Content-Length. Repeated identical values
// are accepted; anything unparsable reports absent.
func contentLength(h Headers) (int64, bool) {
	n, ok, err := parseContentLength(h)
	if err != nil {
		return 0, false
	}
	return n, ok
}

func parseContentLength(h Headers) (int64, bool, error) {
	values := h.Values("Content-Length")
	if len(values) == 0 {
		return 0, false, nil
	}
	var result int64 = -1
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || n < 0 {
				return 0, false, parseErr(MalformedHeader, "invalid Content-Length %q", value)
			}
			if result >= 0 && n != result {
				return 0, false, parseErr(MalformedHeader, "conflicting Content-Length values")
			}
			result = n
		}
	}
	return result, true, nil
}
