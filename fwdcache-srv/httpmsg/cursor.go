package httpmsg

import (
	"bytes"
	"errors"
	"io"
)

// DefaultMaxHeaderBytes bounds the header block of a single message.
const DefaultMaxHeaderBytes = 64 << 10

type cursorKind int

const (
	requestCursor cursorKind = iota
	responseCursor
)

// Cursor frames one message at a time out of a byte stream. Bytes are fed as
// they arrive; the header terminator search resumes where the previous feed
// stopped and the body is counted against Content-Length, so buffered data is
// never rescanned.
type Cursor struct {
	kind           cursorKind
	method         string // request method, response cursors only
	maxHeaderBytes int

	buf      []byte
	scanFrom int

	headersComplete bool
	headerEnd       int
	contentLength   int64 // -1 while unknown or close-delimited
	closeDelimited  bool
	bytesRead       int64
	complete        bool

	req  *Request
	resp *Response
}

// NewRequestCursor returns a cursor that frames client requests.
func NewRequestCursor(maxHeaderBytes int) *Cursor {
	return &Cursor{kind: requestCursor, maxHeaderBytes: maxHeaderBytes, contentLength: -1}
}

// NewResponseCursor returns a cursor that frames the response to a request
// made with method.
func NewResponseCursor(method string, maxHeaderBytes int) *Cursor {
	return &Cursor{kind: responseCursor, method: method, maxHeaderBytes: maxHeaderBytes, contentLength: -1}
}

// HeadersComplete reports whether the header terminator has been seen.
func (c *Cursor) HeadersComplete() bool { return c.headersComplete }

// ContentLength returns the expected body length, or -1 when unknown or
// delimited by connection close.
func (c *Cursor) ContentLength() int64 { return c.contentLength }

// BytesRead returns the number of body bytes framed so far.
func (c *Cursor) BytesRead() int64 { return c.bytesRead }

// Complete reports whether a whole message is framed.
func (c *Cursor) Complete() bool { return c.complete }

// Buffered reports whether any bytes are held, framed or not.
func (c *Cursor) Buffered() bool { return len(c.buf) > 0 }

// Feed appends p and advances the framing state. It returns true once a
// whole message is available.
func (c *Cursor) Feed(p []byte) (bool, error) {
	c.buf = append(c.buf, p...)
	return c.advance()
}

// Finish is called when the stream reports EOF. Close-delimited bodies are
// complete at this point; anything else partially read is IncompleteMessage.
func (c *Cursor) Finish() error {
	if c.complete {
		return nil
	}
	if c.headersComplete && c.closeDelimited {
		c.complete = true
		return nil
	}
	if len(c.buf) == 0 {
		return io.EOF
	}
	return parseErr(IncompleteMessage, "connection closed after %d bytes", len(c.buf))
}

// Request returns the framed request. Valid only on a complete request cursor.
func (c *Cursor) Request() *Request {
	if !c.complete || c.req == nil {
		return nil
	}
	req := *c.req
	req.Body = c.body()
	return &req
}

// Response returns the framed response. Valid only on a complete response cursor.
func (c *Cursor) Response() *Response {
	if !c.complete || c.resp == nil {
		return nil
	}
	resp := *c.resp
	resp.Body = c.body()
	return &resp
}

// Reset discards the framed message and keeps any bytes that followed it,
// ready for the next message on the same stream.
func (c *Cursor) Reset() {
	var rest []byte
	if c.complete && !c.closeDelimited {
		end := c.headerEnd + int(c.contentLength)
		rest = bytes.Clone(c.buf[end:])
	}
	*c = Cursor{
		kind:           c.kind,
		method:         c.method,
		maxHeaderBytes: c.maxHeaderBytes,
		buf:            rest,
		contentLength:  -1,
	}
}

func (c *Cursor) body() []byte {
	if c.bytesRead == 0 {
		return nil
	}
	return bytes.Clone(c.buf[c.headerEnd : c.headerEnd+int(c.bytesRead)])
}

func (c *Cursor) advance() (bool, error) {
	if c.complete {
		return true, nil
	}
	if !c.headersComplete {
		if c.kind == requestCursor {
			// Stray CRLFs between requests are ignored
			for bytes.HasPrefix(c.buf, crlf) {
				c.buf = c.buf[len(crlf):]
				c.scanFrom = 0
			}
		}
		start := max(c.scanFrom-len(crlfcrlf)+1, 0)
		idx := bytes.Index(c.buf[start:], crlfcrlf)
		if idx < 0 {
			c.scanFrom = len(c.buf)
			if c.maxHeaderBytes > 0 && len(c.buf) > c.maxHeaderBytes {
				return false, parseErr(HeaderTooLarge, "more than %d bytes without header terminator", c.maxHeaderBytes)
			}
			return false, nil
		}
		c.headerEnd = start + idx + len(crlfcrlf)
		if c.maxHeaderBytes > 0 && c.headerEnd > c.maxHeaderBytes {
			return false, parseErr(HeaderTooLarge, "header block is %d bytes", c.headerEnd)
		}
		if err := c.parseHead(); err != nil {
			return false, err
		}
		c.headersComplete = true
	}

	available := int64(len(c.buf) - c.headerEnd)
	if c.closeDelimited {
		c.bytesRead = available
		return false, nil
	}
	c.bytesRead = min(available, c.contentLength)
	if available >= c.contentLength {
		c.complete = true
	}
	return c.complete, nil
}

func (c *Cursor) parseHead() error {
	head := c.buf[:c.headerEnd]
	switch c.kind {
	case requestCursor:
		req, err := parseRequestHead(head)
		if err != nil {
			return err
		}
		length, err := requestBodyLength(req.Headers)
		if err != nil {
			return err
		}
		c.req = req
		c.contentLength = length
	default:
		resp, err := parseResponseHead(head)
		if err != nil {
			return err
		}
		length, closeDelimited, err := responseBodyLength(c.method, resp)
		if err != nil {
			return err
		}
		c.resp = resp
		c.closeDelimited = closeDelimited
		if closeDelimited {
			c.contentLength = -1
		} else {
			c.contentLength = length
		}
	}
	return nil
}

// IsParseError reports whether err is a framing or syntax error from this package.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
