package httpmsg

import (
	"bytes"
	"errors"
	"io"
)

const readChunkSize = 4096

// Reader reads successive messages from one stream. Bytes read past the end
// of a message stay buffered for the next call.
type Reader struct {
	src    io.Reader
	cursor *Cursor
	chunk  []byte
}

// NewReader returns a Reader of client requests over src. maxHeaderBytes <= 0
// disables the limit.
func NewReader(src io.Reader, maxHeaderBytes int) *Reader {
	return &Reader{
		src:    src,
		cursor: NewRequestCursor(maxHeaderBytes),
		chunk:  make([]byte, readChunkSize),
	}
}

// NewResponseReader returns a Reader of the responses to one request made
// with method. Several responses are read when the origin sends interim
// 1xx responses first.
func NewResponseReader(src io.Reader, method string, maxHeaderBytes int) *Reader {
	return &Reader{
		src:    src,
		cursor: NewResponseCursor(method, maxHeaderBytes),
		chunk:  make([]byte, readChunkSize),
	}
}

// ReadRequest blocks until a whole request is framed. It returns io.EOF when
// the stream ends cleanly between requests.
func (r *Reader) ReadRequest() (*Request, error) {
	r.cursor.Reset()
	if err := readMessage(r.src, r.cursor, r.chunk); err != nil {
		return nil, err
	}
	return r.cursor.Request(), nil
}

// ReadResponse reads the next response from a Reader made by
// NewResponseReader.
func (r *Reader) ReadResponse() (*Response, error) {
	r.cursor.Reset()
	if err := readMessage(r.src, r.cursor, r.chunk); err != nil {
		return nil, err
	}
	return r.cursor.Response(), nil
}

// ReadResponseHead reads the next response head from a Reader made by
// NewResponseReader and returns the body as a stream. A body that arrived
// with the head is served from memory and the Reader stays usable, which is
// how interim 1xx responses are skipped. Otherwise the body is read from the
// underlying stream and the Reader must not be used again.
func (r *Reader) ReadResponseHead() (*Response, io.Reader, error) {
	r.cursor.Reset()
	if err := readHead(r.src, r.cursor, r.chunk); err != nil {
		return nil, nil, err
	}
	c := r.cursor
	if c.complete {
		resp := c.Response()
		body := bytes.NewReader(resp.Body)
		resp.Body = nil
		return resp, body, nil
	}
	head := *c.resp
	pending := bytes.Clone(c.buf[c.headerEnd:])
	c.buf = nil
	return &head, &bodyReader{src: r.src, pending: pending, remaining: c.contentLength}, nil
}

// Buffered reports whether bytes of a following message are already held.
func (r *Reader) Buffered() bool {
	return r.cursor.Buffered()
}

// Detach returns the bytes held past the last framed message and empties
// the reader. It is used when the stream stops carrying HTTP messages.
func (r *Reader) Detach() []byte {
	r.cursor.Reset()
	rest := r.cursor.buf
	r.cursor.buf = nil
	return rest
}

// ReadResponse reads one response to a request made with method. A body
// without Content-Length is read until src reports EOF.
func ReadResponse(src io.Reader, method string, maxHeaderBytes int) (*Response, error) {
	cursor := NewResponseCursor(method, maxHeaderBytes)
	if err := readMessage(src, cursor, make([]byte, readChunkSize)); err != nil {
		return nil, err
	}
	return cursor.Response(), nil
}

// readHead feeds cursor until the header block is parsed.
func readHead(src io.Reader, cursor *Cursor, chunk []byte) error {
	if _, err := cursor.advance(); err != nil || cursor.headersComplete {
		return err
	}
	for {
		n, readErr := src.Read(chunk)
		if n > 0 {
			if _, err := cursor.Feed(chunk[:n]); err != nil {
				return err
			}
			if cursor.headersComplete {
				return nil
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return cursor.Finish()
			}
			return readErr
		}
	}
}

// bodyReader streams a body that did not fully arrive with its head.
// remaining is -1 for a body delimited by the end of the stream.
type bodyReader struct {
	src       io.Reader
	pending   []byte
	remaining int64
}

func (b *bodyReader) Read(p []byte) (int, error) {
	if b.remaining == 0 {
		return 0, io.EOF
	}
	if b.remaining > 0 && int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}

	var n int
	var err error
	if len(b.pending) > 0 {
		n = copy(p, b.pending)
		b.pending = b.pending[n:]
	} else {
		n, err = b.src.Read(p)
	}

	if b.remaining > 0 {
		b.remaining -= int64(n)
		if b.remaining > 0 && errors.Is(err, io.EOF) {
			err = parseErr(IncompleteMessage, "connection closed with %d body bytes missing", b.remaining)
		}
	}
	return n, err
}

func readMessage(src io.Reader, cursor *Cursor, chunk []byte) error {
	done, err := cursor.advance()
	if err != nil || done {
		return err
	}
	for {
		n, readErr := src.Read(chunk)
		if n > 0 {
			done, err := cursor.Feed(chunk[:n])
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return cursor.Finish()
			}
			return readErr
		}
	}
}
