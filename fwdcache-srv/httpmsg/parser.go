package httpmsg

import (
	"bytes"
	"strconv"
	"strings"
)

var (
	crlf     = []byte("\r\n")
	crlfcrlf = []byte("\r\n\r\n")
)

// ParseRequest parses one complete request from data.
//
// A body is taken only when Content-Length is present; if fewer bytes than
// declared are available the result is IncompleteMessage rather than a
// truncated body. Bytes beyond the declared length are ignored.
func ParseRequest(data []byte) (*Request, error) {
	headerEnd, err := findHeaderEnd(data)
	if err != nil {
		return nil, err
	}
	req, err := parseRequestHead(data[:headerEnd])
	if err != nil {
		return nil, err
	}
	length, err := requestBodyLength(req.Headers)
	if err != nil {
		return nil, err
	}
	body, err := sliceBody(data[headerEnd:], length)
	if err != nil {
		return nil, err
	}
	req.Body = body
	return req, nil
}

// ParseResponse parses one complete response from data. requestMethod is the
// method of the request being answered ("" if unknown); HEAD, 1xx, 204 and
// 304 never have a body. Without Content-Length the remaining bytes are the
// body, as for a response delimited by connection close.
func ParseResponse(data []byte, requestMethod string) (*Response, error) {
	headerEnd, err := findHeaderEnd(data)
	if err != nil {
		return nil, err
	}
	resp, err := parseResponseHead(data[:headerEnd])
	if err != nil {
		return nil, err
	}
	length, closeDelimited, err := responseBodyLength(requestMethod, resp)
	if err != nil {
		return nil, err
	}
	rest := data[headerEnd:]
	if closeDelimited {
		if len(rest) > 0 {
			resp.Body = bytes.Clone(rest)
		}
		return resp, nil
	}
	body, err := sliceBody(rest, length)
	if err != nil {
		return nil, err
	}
	resp.Body = body
	return resp, nil
}

// findHeaderEnd returns the offset just past the CRLFCRLF terminator.
func findHeaderEnd(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, parseErr(IncompleteMessage, "empty input")
	}
	idx := bytes.Index(data, crlfcrlf)
	if idx < 0 {
		return 0, parseErr(IncompleteMessage, "header terminator not found")
	}
	return idx + len(crlfcrlf), nil
}

func sliceBody(rest []byte, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if int64(len(rest)) < length {
		return nil, parseErr(IncompleteMessage, "body has %d of %d bytes", len(rest), length)
	}
	return bytes.Clone(rest[:length]), nil
}

// splitHead splits a header block (terminator included) into the start line
// and parsed headers.
func splitHead(head []byte) (string, Headers, error) {
	head = bytes.TrimSuffix(head, crlfcrlf)
	lines := bytes.Split(head, crlf)
	startLine := string(lines[0])

	headers := make(Headers, 0, len(lines)-1)
	for _, line := range lines[1:] {
		hdr, err := parseHeaderLine(line)
		if err != nil {
			return "", nil, err
		}
		headers = append(headers, hdr)
	}
	return startLine, headers, nil
}

func parseHeaderLine(line []byte) (Header, error) {
	if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
		return Header{}, parseErr(MalformedHeader, "obsolete line folding")
	}
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return Header{}, parseErr(MalformedHeader, "missing colon in %q", truncate(line))
	}
	name := string(line[:colon])
	if name == "" || strings.ContainsAny(name, " \t") {
		return Header{}, parseErr(MalformedHeader, "invalid header name %q", name)
	}
	value := strings.Trim(string(line[colon+1:]), " \t")
	return Header{Name: name, Value: value}, nil
}

func parseRequestHead(head []byte) (*Request, error) {
	startLine, headers, err := splitHead(head)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(startLine, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, parseErr(MalformedStartLine, "%q", startLine)
	}
	if !validVersion(parts[2]) {
		return nil, parseErr(MalformedStartLine, "unsupported version %q", parts[2])
	}
	return &Request{
		Method:  parts[0],
		Target:  parts[1],
		Version: parts[2],
		Headers: headers,
	}, nil
}

func parseResponseHead(head []byte) (*Response, error) {
	startLine, headers, err := splitHead(head)
	if err != nil {
		return nil, err
	}
	version, rest, ok := strings.Cut(startLine, " ")
	if !ok || !validVersion(version) {
		return nil, parseErr(MalformedStartLine, "%q", startLine)
	}
	code, reason, _ := strings.Cut(rest, " ")
	if len(code) != 3 {
		return nil, parseErr(MalformedStartLine, "status code %q is not three digits", code)
	}
	status, err := strconv.Atoi(code)
	if err != nil || code[0] == '+' || code[0] == '-' {
		return nil, parseErr(MalformedStartLine, "status code %q is not numeric", code)
	}
	if status < 100 || status > 599 {
		return nil, parseErr(InvalidStatusCode, "%d", status)
	}
	return &Response{
		Version:    version,
		StatusCode: status,
		Reason:     reason,
		Headers:    headers,
	}, nil
}

// validVersion accepts HTTP/1.0 and HTTP/1.1.
func validVersion(v string) bool {
	return v == "HTTP/1.1" || v == "HTTP/1.0"
}

func requestBodyLength(h Headers) (int64, error) {
	if _, ok := h.Lookup("Transfer-Encoding"); ok {
		return 0, parseErr(MalformedHeader, "transfer-encoded request bodies are not supported")
	}
	n, _, err := parseContentLength(h)
	return n, err
}

// responseBodyLength returns the body length, or closeDelimited when the body
// runs until the origin closes the connection.
func responseBodyLength(method string, resp *Response) (length int64, closeDelimited bool, err error) {
	if !BodyAllowed(method, resp.StatusCode) {
		return 0, false, nil
	}
	if _, chunked := resp.Headers.Lookup("Transfer-Encoding"); chunked {
		// Relayed verbatim; the origin connection is always closed after one exchange.
		return 0, true, nil
	}
	n, ok, err := parseContentLength(resp.Headers)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, true, nil
	}
	return n, false, nil
}

func truncate(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
