package httpmsg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		method  string
		target  string
		version string
		form    TargetForm
		body    string
	}{
		{
			name:    "origin_form",
			raw:     "GET /index.html?q=1 HTTP/1.1\r\nHost: example.com\r\n\r\n",
			method:  "GET",
			target:  "/index.html?q=1",
			version: "HTTP/1.1",
			form:    OriginForm,
		},
		{
			name:    "absolute_form",
			raw:     "GET http://example.com:8080/a HTTP/1.0\r\n\r\n",
			method:  "GET",
			target:  "http://example.com:8080/a",
			version: "HTTP/1.0",
			form:    AbsoluteForm,
		},
		{
			name:    "authority_form",
			raw:     "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n",
			method:  "CONNECT",
			target:  "example.com:443",
			version: "HTTP/1.1",
			form:    AuthorityForm,
		},
		{
			name:    "post_with_body",
			raw:     "POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello",
			method:  "POST",
			target:  "/submit",
			version: "HTTP/1.1",
			form:    OriginForm,
			body:    "hello",
		},
		{
			name:    "method_case_preserved",
			raw:     "get / HTTP/1.1\r\n\r\n",
			method:  "get",
			target:  "/",
			version: "HTTP/1.1",
			form:    OriginForm,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, err := ParseRequest([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.method, req.Method)
			assert.Equal(t, tt.target, req.Target)
			assert.Equal(t, tt.version, req.Version)
			assert.Equal(t, tt.form, req.Form())
			assert.Equal(t, tt.body, string(req.Body))
			assert.Equal(t, tt.body != "", req.HasBody())
		})
	}
}

func TestParseRequestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty_input", "", ErrIncompleteMessage},
		{"no_terminator", "GET / HTTP/1.1\r\nHost: a\r\n", ErrIncompleteMessage},
		{"two_tokens", "INVALID REQUEST\r\n\r\n", ErrMalformedStartLine},
		{"four_tokens", "GET / HTTP/1.1 extra\r\n\r\n", ErrMalformedStartLine},
		{"double_space", "GET  / HTTP/1.1\r\n\r\n", ErrMalformedStartLine},
		{"blank_start_line", "\r\n\r\n", ErrMalformedStartLine},
		{"bad_version", "GET / HTTP/2.0\r\n\r\n", ErrMalformedStartLine},
		{"header_without_colon", "GET / HTTP/1.1\r\nHost example.com\r\n\r\n", ErrMalformedHeader},
		{"header_name_with_space", "GET / HTTP/1.1\r\nBad Name: x\r\n\r\n", ErrMalformedHeader},
		{"folded_header", "GET / HTTP/1.1\r\nA: b\r\n c\r\n\r\n", ErrMalformedHeader},
		{"bad_content_length", "POST / HTTP/1.1\r\nContent-Length: abc\r\n\r\n", ErrMalformedHeader},
		{"negative_content_length", "POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n", ErrMalformedHeader},
		{"conflicting_content_length", "POST / HTTP/1.1\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\nab", ErrMalformedHeader},
		{"chunked_request", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n", ErrMalformedHeader},
		{"short_body", "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc", ErrIncompleteMessage},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseRequest([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsParseError(err))
		})
	}
}

func TestParseRequestIgnoresTrailingBytes(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest([]byte("POST / HTTP/1.1\r\nContent-Length: 2\r\n\r\nokGET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(req.Body))
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	resp, err := ParseResponse([]byte("HTTP/1.1 404 Not Found\r\nContent-Type: text/plain\r\nContent-Length: 4\r\n\r\nnope"), "GET")
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1", resp.Version)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "Not Found", resp.Reason)
	assert.Equal(t, "nope", string(resp.Body))
	assert.True(t, resp.HasBody("GET"))
}

func TestParseResponseReasonWithSpaces(t *testing.T) {
	t.Parallel()

	resp, err := ParseResponse([]byte("HTTP/1.1 421 Misdirected Request\r\n\r\n"), "GET")
	require.NoError(t, err)
	assert.Equal(t, "Misdirected Request", resp.Reason)

	resp, err = ParseResponse([]byte("HTTP/1.0 200\r\n\r\n"), "GET")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Empty(t, resp.Reason)
}

func TestParseResponseCloseDelimitedBody(t *testing.T) {
	t.Parallel()

	resp, err := ParseResponse([]byte("HTTP/1.0 200 OK\r\n\r\nuntil close"), "GET")
	require.NoError(t, err)
	assert.Equal(t, "until close", string(resp.Body))
	assert.True(t, resp.HasBody("GET"))
}

func TestParseResponseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrIncompleteMessage},
		{"not_http", "FOO 200 OK\r\n\r\n", ErrMalformedStartLine},
		{"two_digit_code", "HTTP/1.1 20 OK\r\n\r\n", ErrMalformedStartLine},
		{"alpha_code", "HTTP/1.1 2x0 OK\r\n\r\n", ErrMalformedStartLine},
		{"code_too_low", "HTTP/1.1 099 Low\r\n\r\n", ErrInvalidStatusCode},
		{"code_too_high", "HTTP/1.1 600 High\r\n\r\n", ErrInvalidStatusCode},
		{"header_without_colon", "HTTP/1.1 200 OK\r\nbroken\r\n\r\n", ErrMalformedHeader},
		{"short_body", "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nabc", ErrIncompleteMessage},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseResponse([]byte(tt.raw), "GET")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResponseHasBody(t *testing.T) {
	t.Parallel()

	withLength := func(status int) *Response {
		return &Response{StatusCode: status, Headers: Headers{{Name: "Content-Length", Value: "1000"}}}
	}

	assert.False(t, withLength(200).HasBody("HEAD"))
	assert.False(t, withLength(200).HasBody("head"))
	assert.True(t, withLength(200).HasBody("GET"))
	assert.True(t, withLength(200).HasBody(""))
	assert.False(t, withLength(204).HasBody("GET"))
	assert.False(t, withLength(304).HasBody("GET"))
	assert.False(t, withLength(100).HasBody("GET"))
	assert.False(t, withLength(199).HasBody("GET"))

	zero := &Response{StatusCode: 200, Headers: Headers{{Name: "Content-Length", Value: "0"}}}
	assert.False(t, zero.HasBody("GET"))
}

func TestParseResponseHeadIgnoresContentLength(t *testing.T) {
	t.Parallel()

	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\n")
	resp, err := ParseResponse(raw, "HEAD")
	require.NoError(t, err)
	assert.Nil(t, resp.Body)
	assert.False(t, resp.HasBody("HEAD"))

	_, err = ParseResponse(raw, "GET")
	assert.True(t, errors.Is(err, ErrIncompleteMessage))

	resp, err = ParseResponse([]byte("HTTP/1.1 204 No Content\r\nContent-Length: 10\r\n\r\n"), "GET")
	require.NoError(t, err)
	assert.False(t, resp.HasBody("GET"))
}

func TestParseErrorMessage(t *testing.T) {
	t.Parallel()

	_, err := ParseRequest([]byte("GET / HTTP/1.1\r\nnocolon\r\n\r\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed header")
	assert.Contains(t, err.Error(), "nocolon")
	assert.Equal(t, "incomplete message", ErrIncompleteMessage.Error())
}
