package httpmsg

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

const defaultVersion = "HTTP/1.1"

// StatusText returns the reason phrase for code, or "Unknown Status".
func StatusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown Status"
}

// BuildRequest serializes an HTTP/1.1 request. Headers are written in order
// and unchanged; callers that send a body also set Content-Length.
func BuildRequest(method, target string, headers Headers, body []byte) []byte {
	req := Request{Method: method, Target: target, Version: defaultVersion, Headers: headers, Body: body}
	return req.Bytes()
}

// BuildResponse serializes an HTTP/1.1 response using the reason phrase from
// the status table.
func BuildResponse(statusCode int, headers Headers, body []byte) []byte {
	resp := Response{StatusCode: statusCode, Headers: headers, Body: body}
	return resp.Bytes()
}

// Bytes returns the wire form of the request.
func (r *Request) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = r.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo writes the wire form of the request to w.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	version := r.Version
	if version == "" {
		version = defaultVersion
	}
	var buf bytes.Buffer
	buf.Grow(len(r.Method) + len(r.Target) + len(version) + r.Headers.size() + len(r.Body) + 8)
	buf.WriteString(r.Method)
	buf.WriteByte(' ')
	buf.WriteString(r.Target)
	buf.WriteByte(' ')
	buf.WriteString(version)
	buf.Write(crlf)
	writeHeaders(&buf, r.Headers)
	buf.Write(r.Body)
	return buf.WriteTo(w)
}

// Bytes returns the wire form of the response.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = r.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo writes the wire form of the response to w. An empty Reason is
// filled from the status table.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	version := r.Version
	if version == "" {
		version = defaultVersion
	}
	reason := r.Reason
	if reason == "" {
		reason = StatusText(r.StatusCode)
	}
	var buf bytes.Buffer
	buf.Grow(len(version) + len(reason) + r.Headers.size() + len(r.Body) + 16)
	buf.WriteString(version)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(r.StatusCode))
	buf.WriteByte(' ')
	buf.WriteString(reason)
	buf.Write(crlf)
	writeHeaders(&buf, r.Headers)
	buf.Write(r.Body)
	return buf.WriteTo(w)
}

func writeHeaders(buf *bytes.Buffer, headers Headers) {
	for _, hdr := range headers {
		buf.WriteString(hdr.Name)
		buf.WriteString(": ")
		buf.WriteString(hdr.Value)
		buf.Write(crlf)
	}
	buf.Write(crlf)
}
