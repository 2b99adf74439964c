package proxy

import (
	"testing"

	"github.com/codefionn/fwdcache/fwdcache-srv/httpmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
		host   string
		want   Target
	}{
		{
			name:   "absolute form",
			target: "http://Example.COM/index.html?q=1",
			want:   Target{Scheme: "http", Host: "example.com", Port: 80, Path: "/index.html?q=1"},
		},
		{
			name:   "absolute form with port",
			target: "http://example.com:8080",
			want:   Target{Scheme: "http", Host: "example.com", Port: 8080, Path: "/"},
		},
		{
			name:   "absolute form wins over host header",
			target: "http://a.example/x",
			host:   "b.example",
			want:   Target{Scheme: "http", Host: "a.example", Port: 80, Path: "/x"},
		},
		{
			name:   "origin form uses host header",
			target: "/path",
			host:   "example.com:8081",
			want:   Target{Scheme: "http", Host: "example.com", Port: 8081, Path: "/path"},
		},
		{
			name:   "ipv6 host header",
			target: "/",
			host:   "[::1]:9000",
			want:   Target{Scheme: "http", Host: "::1", Port: 9000, Path: "/"},
		},
		{
			name:   "internationalized host",
			target: "http://bücher.example/",
			want:   Target{Scheme: "http", Host: "xn--bcher-kva.example", Port: 80, Path: "/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &httpmsg.Request{Method: "GET", Target: tt.target, Version: "HTTP/1.1"}
			if tt.host != "" {
				req.Headers.Add("Host", tt.host)
			}
			got, err := ResolveTarget(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTargetErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		host   string
		code   string
	}{
		{name: "missing host", target: "/", code: ErrCodeMissingHost},
		{name: "https absolute form", target: "https://example.com/", code: ErrCodeInvalidTarget},
		{name: "bad port", target: "http://example.com:99999/", code: ErrCodeInvalidTarget},
		{name: "bad host header port", target: "/", host: "example.com:x", code: ErrCodeInvalidTarget},
		{name: "authority form", target: "example.com:80", code: ErrCodeInvalidTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &httpmsg.Request{Method: "GET", Target: tt.target, Version: "HTTP/1.1"}
			if tt.host != "" {
				req.Headers.Add("Host", tt.host)
			}
			_, err := ResolveTarget(req)
			require.Error(t, err)
			code, ok := codeOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, 400, StatusForError(err))
		})
	}
}

func TestTargetHostHeader(t *testing.T) {
	assert.Equal(t, "example.com", Target{Scheme: "http", Host: "example.com", Port: 80}.HostHeader())
	assert.Equal(t, "example.com:8080", Target{Scheme: "http", Host: "example.com", Port: 8080}.HostHeader())
	assert.Equal(t, "[::1]", Target{Scheme: "http", Host: "::1", Port: 80}.HostHeader())
	assert.Equal(t, "[::1]:8080", Target{Scheme: "http", Host: "::1", Port: 8080}.HostHeader())
	assert.Equal(t, "http://example.com:8080/a", Target{Scheme: "http", Host: "example.com", Port: 8080, Path: "/a"}.URL())
}

func TestParseAuthority(t *testing.T) {
	host, port, err := ParseAuthority("Example.com:443")
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 443, port)

	host, port, err = ParseAuthority("[2001:db8::1]:443")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", host)
	assert.Equal(t, 443, port)

	tests := []struct {
		target string
		code   string
	}{
		{"example.com", ErrCodeInvalidTunnelPort},
		{"example.com:abc", ErrCodeInvalidTunnelPort},
		{"example.com:0", ErrCodeInvalidTunnelPort},
		{"https://example.com:443", ErrCodeInvalidAuthority},
		{"example.com:443/path", ErrCodeInvalidAuthority},
		{"user@example.com:443", ErrCodeInvalidAuthority},
		{":443", ErrCodeInvalidAuthority},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			_, _, err := ParseAuthority(tt.target)
			require.Error(t, err)
			code, _ := codeOf(err)
			assert.Equal(t, tt.code, code)
		})
	}
}
