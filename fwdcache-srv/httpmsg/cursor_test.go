package httpmsg

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorByteAtATime(t *testing.T) {
	t.Parallel()

	raw := []byte("POST /x HTTP/1.1\r\nHost: a\r\nContent-Length: 4\r\n\r\nbody")
	c := NewRequestCursor(DefaultMaxHeaderBytes)

	var done bool
	var err error
	for i, b := range raw {
		done, err = c.Feed([]byte{b})
		require.NoError(t, err)
		if i < len(raw)-1 {
			assert.False(t, done, "complete early at byte %d", i)
		}
		if i == len(raw)-5 {
			assert.True(t, c.HeadersComplete())
			assert.EqualValues(t, 4, c.ContentLength())
			assert.EqualValues(t, 0, c.BytesRead())
		}
	}
	require.True(t, done)
	assert.EqualValues(t, 4, c.BytesRead())

	req := c.Request()
	require.NotNil(t, req)
	assert.Equal(t, "/x", req.Target)
	assert.Equal(t, "body", string(req.Body))
}

func TestCursorKeepsFollowingRequest(t *testing.T) {
	t.Parallel()

	c := NewRequestCursor(0)
	done, err := c.Feed([]byte("GET /1 HTTP/1.1\r\n\r\nGET /2 HTTP/1.1\r\n\r\nGET /3"))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, "/1", c.Request().Target)

	c.Reset()
	done, err = c.Feed(nil)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, "/2", c.Request().Target)

	c.Reset()
	done, err = c.Feed([]byte(" HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, "/3", c.Request().Target)
}

func TestCursorSkipsLeadingCRLF(t *testing.T) {
	t.Parallel()

	c := NewRequestCursor(0)
	done, err := c.Feed([]byte("\r\n\r\nGET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "GET", c.Request().Method)
}

func TestCursorHeaderTooLarge(t *testing.T) {
	t.Parallel()

	c := NewRequestCursor(32)
	_, err := c.Feed([]byte("GET / HTTP/1.1\r\nX-Long: " + strings.Repeat("a", 64)))
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestCursorMalformedReportedAtTerminator(t *testing.T) {
	t.Parallel()

	c := NewRequestCursor(0)
	done, err := c.Feed([]byte("INVALID REQUEST\r\n"))
	require.NoError(t, err)
	assert.False(t, done)

	_, err = c.Feed([]byte("\r\n"))
	assert.ErrorIs(t, err, ErrMalformedStartLine)
}

func TestCursorResponseCloseDelimited(t *testing.T) {
	t.Parallel()

	c := NewResponseCursor("GET", 0)
	done, err := c.Feed([]byte("HTTP/1.1 200 OK\r\n\r\npart one "))
	require.NoError(t, err)
	assert.False(t, done)
	assert.EqualValues(t, -1, c.ContentLength())

	_, err = c.Feed([]byte("part two"))
	require.NoError(t, err)
	require.NoError(t, c.Finish())

	resp := c.Response()
	require.NotNil(t, resp)
	assert.Equal(t, "part one part two", string(resp.Body))
}

func TestCursorResponseHeadNoBody(t *testing.T) {
	t.Parallel()

	c := NewResponseCursor("HEAD", 0)
	done, err := c.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 500\r\n\r\n"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Nil(t, c.Response().Body)
}

func TestCursorFinish(t *testing.T) {
	t.Parallel()

	empty := NewRequestCursor(0)
	assert.ErrorIs(t, empty.Finish(), io.EOF)

	partial := NewRequestCursor(0)
	_, err := partial.Feed([]byte("GET / HT"))
	require.NoError(t, err)
	assert.ErrorIs(t, partial.Finish(), ErrIncompleteMessage)
}

func TestReaderSequentialRequests(t *testing.T) {
	t.Parallel()

	stream := "GET /a HTTP/1.1\r\nHost: x\r\n\r\n" +
		"POST /b HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc" +
		"GET /c HTTP/1.0\r\n\r\n"
	r := NewReader(iotest.OneByteReader(strings.NewReader(stream)), DefaultMaxHeaderBytes)

	var targets []string
	for {
		req, err := r.ReadRequest()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		targets = append(targets, req.Target)
		if req.Target == "/b" {
			assert.Equal(t, "abc", string(req.Body))
		}
	}
	assert.Equal(t, []string{"/a", "/b", "/c"}, targets)
	assert.False(t, r.Buffered())
}

func TestReaderTruncatedRequest(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc"), 0)
	_, err := r.ReadRequest()
	assert.ErrorIs(t, err, ErrIncompleteMessage)
}

func TestReadResponse(t *testing.T) {
	t.Parallel()

	resp, err := ReadResponse(bytes.NewReader([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhitrailing")), "GET", 0)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(resp.Body))

	resp, err = ReadResponse(strings.NewReader("HTTP/1.0 200 OK\r\n\r\nall of it"), "GET", 0)
	require.NoError(t, err)
	assert.Equal(t, "all of it", string(resp.Body))

	_, err = ReadResponse(strings.NewReader("HTTP/1.1 700 Nope\r\n\r\n"), "GET", 0)
	assert.ErrorIs(t, err, ErrInvalidStatusCode)

	_, err = ReadResponse(strings.NewReader(""), "GET", 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestResponseReaderInterimResponses(t *testing.T) {
	t.Parallel()

	stream := "HTTP/1.1 100 Continue\r\n\r\n" +
		"HTTP/1.1 103 Early Hints\r\nLink: </style.css>\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\ndone"
	r := NewResponseReader(iotest.OneByteReader(strings.NewReader(stream)), "POST", DefaultMaxHeaderBytes)

	var codes []int
	for {
		resp, err := r.ReadResponse()
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
		if resp.StatusCode >= 200 {
			assert.Equal(t, "done", string(resp.Body))
			break
		}
		assert.Empty(t, resp.Body)
	}
	assert.Equal(t, []int{100, 103, 200}, codes)
}

func TestReaderDetach(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n\x16\x03\x01hello"), 0)
	req, err := r.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, "CONNECT", req.Method)

	// The whole input fits in one read, so the TLS bytes are already held.
	assert.Equal(t, []byte("\x16\x03\x01hello"), r.Detach())
	assert.False(t, r.Buffered())
}

func TestResponseReaderStreamsBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stream string
		method string
		body   string
		err    error
	}{
		{"content length", "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhellotrailing", "GET", "hello", nil},
		{"close delimited", "HTTP/1.0 200 OK\r\n\r\nuntil the end", "GET", "until the end", nil},
		{"head", "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n", "HEAD", "", nil},
		{"truncated", "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nshort", "GET", "short", ErrIncompleteMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResponseReader(iotest.OneByteReader(strings.NewReader(tt.stream)), tt.method, 0)
			head, body, err := r.ReadResponseHead()
			require.NoError(t, err)
			assert.Equal(t, 200, head.StatusCode)
			assert.Nil(t, head.Body)

			data, err := io.ReadAll(body)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.body, string(data))
		})
	}
}

func TestResponseReaderHeadSkipsInterim(t *testing.T) {
	t.Parallel()

	stream := "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	r := NewResponseReader(strings.NewReader(stream), "GET", 0)

	interim, body, err := r.ReadResponseHead()
	require.NoError(t, err)
	assert.Equal(t, 100, interim.StatusCode)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Empty(t, data)

	final, body, err := r.ReadResponseHead()
	require.NoError(t, err)
	assert.Equal(t, 200, final.StatusCode)
	data, err = io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}
