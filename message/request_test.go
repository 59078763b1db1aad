package message_test

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/httpd/header"
	"github.com/badu/httpd/httperr"
	"github.com/badu/httpd/message"
)

func TestReadRequestSimpleGET(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	req, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	assert.Equal(t, message.MethodGET, req.Method)
	assert.Equal(t, "/", req.Target)
	assert.Equal(t, 1, req.ProtoMajor)
	assert.Equal(t, 1, req.ProtoMinor)
	assert.Equal(t, "x", req.Host)
	assert.False(t, req.Close)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestReadRequestWithContentLengthBody(t *testing.T) {
	raw := "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nabcde"
	req, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	assert.EqualValues(t, 5, req.Body.Len())
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(body))
}

func TestReadRequestHTTP10DefaultsToClose(t *testing.T) {
	raw := "GET / HTTP/1.0\r\n\r\n"
	req, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.True(t, req.Close)
}

func TestReadRequestHTTP11MissingHostIsMalformed(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n\r\n"
	_, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
	var he *httperr.Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, httperr.KindMalformed, he.Kind)
}

func TestReadRequestOversizedLineIsTooLarge(t *testing.T) {
	raw := "GET /" + strings.Repeat("a", 9000) + " HTTP/1.1\r\nHost: x\r\n\r\n"
	_, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
	var he *httperr.Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, httperr.KindTooLarge, he.Kind)
}

func TestReadRequestConflictingFramingIsMalformed(t *testing.T) {
	raw := "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\nabcde"
	_, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
	var he *httperr.Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, httperr.KindMalformed, he.Kind)
}

func TestReadRequestDisagreeingContentLengthIsMalformed(t *testing.T) {
	raw := "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nabcde"
	_, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
}

func TestReadRequestObsoleteLineFoldingRejected(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nX-Folded: one\r\n two\r\n\r\n"
	_, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
	var he *httperr.Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, httperr.KindMalformed, he.Kind)
}

func TestReadRequestChunkedBody(t *testing.T) {
	raw := "POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	req, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.EqualValues(t, -1, req.Body.Len())

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
}

func TestReadRequestChunkedBodyTrailerPopulatedAfterDrain(t *testing.T) {
	raw := "POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\nX-Checksum: abc\r\n\r\n"
	req, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	require.NotNil(t, req.Trailer)

	// Before the body is drained, the chunked terminator (and its
	// trailers) haven't been read yet.
	assert.Empty(t, req.Trailer.Get("X-Checksum"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	// req.Trailer is the same header the reader filled in place while
	// draining, so it now reflects the trailer fields sent after the
	// terminating 0-size chunk.
	assert.Equal(t, "abc", req.Trailer.Get("X-Checksum"))
}

func TestReadRequestUnsupportedTransferEncodingIs501(t *testing.T) {
	raw := "POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: gzip\r\n\r\n"
	_, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
	var he *httperr.Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, httperr.KindUnsupported, he.Kind)
	assert.Equal(t, 501, he.Status)
}

func TestReadRequestHeaderOrderIsPreserved(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nX-B: 1\r\nX-A: 2\r\n\r\n"
	req, err := message.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, []string{header.Host, "X-B", "X-A"}, req.Header.Keys())
}
