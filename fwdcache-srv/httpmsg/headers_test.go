package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadersCaseInsensitive(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	assert.NoError(t, err)
	assert.Equal(t, "example.com", req.Header("Host"))
	assert.Equal(t, "example.com", req.Header("host"))
	assert.Equal(t, "example.com", req.Header("HOST"))
	assert.Empty(t, req.Header("Accept"))
}

func TestHeadersDuplicatesPreserved(t *testing.T) {
	t.Parallel()

	h := Headers{
		{Name: "Set-Cookie", Value: "a=1"},
		{Name: "X-Other", Value: "x"},
		{Name: "set-cookie", Value: "b=2"},
	}
	assert.Equal(t, "a=1", h.Get("SET-COOKIE"))
	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("Set-Cookie"))

	_, ok := h.Lookup("Missing")
	assert.False(t, ok)
}

func TestHeadersSet(t *testing.T) {
	t.Parallel()

	h := Headers{
		{Name: "Connection", Value: "keep-alive"},
		{Name: "Host", Value: "a"},
		{Name: "connection", Value: "Upgrade"},
	}
	h.Set("CONNECTION", "close")
	assert.Equal(t, Headers{
		{Name: "Connection", Value: "close"},
		{Name: "Host", Value: "a"},
	}, h)

	h.Set("Via", "1.1 proxy")
	assert.Equal(t, "1.1 proxy", h[len(h)-1].Value)
}

func TestHeadersRemove(t *testing.T) {
	t.Parallel()

	h := Headers{
		{Name: "Proxy-Connection", Value: "keep-alive"},
		{Name: "Host", Value: "a"},
		{Name: "proxy-connection", Value: "close"},
	}
	h.Remove("Proxy-Connection")
	assert.Equal(t, Headers{{Name: "Host", Value: "a"}}, h)

	var empty Headers
	empty.Remove("Host")
	assert.Empty(t, empty)
}

func TestHeadersHasToken(t *testing.T) {
	t.Parallel()

	h := Headers{{Name: "Connection", Value: "Keep-Alive, Upgrade"}}
	assert.True(t, h.HasToken("connection", "keep-alive"))
	assert.True(t, h.HasToken("Connection", "upgrade"))
	assert.False(t, h.HasToken("Connection", "close"))
}

func TestHeadersClone(t *testing.T) {
	t.Parallel()

	h := Headers{{Name: "A", Value: "1"}}
	c := h.Clone()
	c.Set("A", "2")
	assert.Equal(t, "1", h.Get("A"))
	assert.Nil(t, Headers(nil).Clone())
}
