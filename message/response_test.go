package message_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/httpd/header"
	"github.com/badu/httpd/message"
)

func TestWriteResponseBufferedBodySetsContentLength(t *testing.T) {
	resp := message.NewResponse(200, []byte("hello world"))

	var buf strings.Builder
	require.NoError(t, message.WriteResponse(&buf, resp, message.MethodGET))

	out := buf.String()
	assert.Contains(t, out, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, out, "Content-Length: 11\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\nhello world"))
}

func TestWriteResponseChunkedBodyWhenLengthUnknown(t *testing.T) {
	body := message.StreamingBody(strings.NewReader("abc"), nil, -1)
	resp := &message.Response{Status: 200, Header: header.New(), Body: body}

	var buf strings.Builder
	require.NoError(t, message.WriteResponse(&buf, resp, message.MethodGET))

	out := buf.String()
	assert.Contains(t, out, "Transfer-Encoding: chunked\r\n")
	assert.Contains(t, out, "3\r\nabc\r\n0\r\n\r\n")
}

func TestWriteResponseHeadSuppressesBody(t *testing.T) {
	resp := message.NewResponse(200, []byte("hello"))

	var buf strings.Builder
	require.NoError(t, message.WriteResponse(&buf, resp, message.MethodHEAD))

	out := buf.String()
	assert.Contains(t, out, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"))
}

func TestWriteResponseSetsDateWhenAbsent(t *testing.T) {
	resp := message.NewResponse(204, nil)

	var buf strings.Builder
	require.NoError(t, message.WriteResponse(&buf, resp, message.MethodGET))

	assert.Contains(t, buf.String(), "Date: ")
}

func TestReasonPhraseKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "OK", message.ReasonPhrase(200))
	assert.Equal(t, "Not Found", message.ReasonPhrase(404))
	assert.Equal(t, "Client Error", message.ReasonPhrase(499))
}
