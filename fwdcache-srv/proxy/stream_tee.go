package proxy

import (
	"bytes"
	"io"
)

// teeReader passes each chunk read from r to cb. Once cb returns false it
// is not called again; reads carry on untouched.
type teeReader struct {
	r    io.Reader
	cb   func([]byte) bool
	done bool
}

func newTeeReader(r io.Reader, cb func([]byte) bool) io.Reader {
	return &teeReader{r: r, cb: cb}
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 && !t.done && t.cb != nil {
		t.done = !t.cb(p[:n])
	}
	return n, err
}

// bodyCapture collects a streamed body for the cache while it stays within
// limit bytes.
type bodyCapture struct {
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func (c *bodyCapture) add(p []byte) bool {
	if int64(c.buf.Len()+len(p)) > c.limit {
		c.overflow = true
		c.buf = bytes.Buffer{}
		return false
	}
	c.buf.Write(p)
	return true
}

// Bytes returns the captured body, or nil after an overflow.
func (c *bodyCapture) Bytes() []byte {
	if c.overflow {
		return nil
	}
	return c.buf.Bytes()
}
