package httpmsg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderSetGetDel(t *testing.T) {
	h := NewHeader()
	h.Set("content-type", "application/json")
	assert.Equal(t, "application/json", h.Get("Content-Type"))

	h.Add("X-Trace", "a")
	h.Add("x-trace", "b")
	assert.Equal(t, []string{"a", "b"}, h["X-Trace"])

	h.Del("Content-Type")
	assert.Empty(t, h.Get("Content-Type"))
}

func TestCanonicalHeaderKey(t *testing.T) {
	assert.Equal(t, "Content-Type", CanonicalHeaderKey("content-type"))
	assert.Equal(t, "X-Forwarded-For", CanonicalHeaderKey("x-FORWARDED-for"))
}

func TestBuildRequestDefaults(t *testing.T) {
	req, err := BuildRequest("GET", "/widgets", "example.com", nil, nil)
	require.NoError(t, err)

	s := string(req)
	assert.Contains(t, s, "GET /widgets HTTP/1.1\r\n")
	assert.Contains(t, s, "Host: example.com\r\n")
	assert.Contains(t, s, "User-Agent: tjs/1.0\r\n")
	assert.Contains(t, s, "\r\n\r\n")
}

func TestBuildRequestWithBodySetsContentLength(t *testing.T) {
	body := []byte(`{"ok":true}`)
	req, err := BuildRequest("POST", "/widgets", "example.com", nil, body)
	require.NoError(t, err)

	s := string(req)
	assert.Contains(t, s, "Content-Length: 11\r\n")
	assert.True(t, bytes.HasSuffix(req, body))
}

func TestBuildRequestRejectsInvalidHeaderValue(t *testing.T) {
	h := NewHeader()
	h.Set("X-Bad", "line1\r\nline2")
	_, err := BuildRequest("GET", "/", "example.com", h, nil)
	assert.Error(t, err)
}

func TestBuildResponseDefaults(t *testing.T) {
	resp, err := BuildResponse(200, "OK", nil, []byte("hi"))
	require.NoError(t, err)

	s := string(resp)
	assert.Contains(t, s, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, s, "Content-Length: 2\r\n")
	assert.True(t, bytes.HasSuffix(resp, []byte("hi")))
}
