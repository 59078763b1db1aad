package header_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/httpd/header"
)

func TestAddPreservesInsertionOrder(t *testing.T) {
	h := header.New()
	h.Add("X-B", "1")
	h.Add("X-A", "2")
	h.Add("X-B", "3")

	require.Equal(t, []string{"X-B", "X-A"}, h.Keys())
	require.Equal(t, []string{"1", "3"}, h.Values("x-b"))
}

func TestSetReplacesExistingValues(t *testing.T) {
	h := header.New()
	h.Add("Accept", "text/plain")
	h.Add("Accept", "text/html")
	h.Set("Accept", "application/json")

	require.Equal(t, []string{"application/json"}, h.Values("Accept"))
	require.Equal(t, 1, h.Len())
}

func TestGetIsCaseInsensitive(t *testing.T) {
	h := header.New()
	h.Add("content-type", "text/plain")

	assert.Equal(t, "text/plain", h.Get("Content-Type"))
	assert.Equal(t, "text/plain", h.Get("CONTENT-TYPE"))
}

func TestFirstSpellingIsRetainedOnWrite(t *testing.T) {
	h := header.New()
	h.Add("x-request-id", "abc")
	h.Add("X-Request-Id", "def")

	var buf strings.Builder
	require.NoError(t, h.WriteTo(&buf, nil))
	assert.Equal(t, "x-request-id: abc\r\nx-request-id: def\r\n", buf.String())
}

func TestWriteToExcludesKeys(t *testing.T) {
	h := header.New()
	h.Add("Content-Length", "5")
	h.Add("Connection", "close")

	var buf strings.Builder
	require.NoError(t, h.WriteTo(&buf, map[string]bool{"content-length": true}))
	assert.Equal(t, "Connection: close\r\n", buf.String())
}

func TestDelRemovesEntry(t *testing.T) {
	h := header.New()
	h.Add("A", "1")
	h.Add("B", "2")
	h.Add("C", "3")

	h.Del("B")

	require.Equal(t, []string{"A", "C"}, h.Keys())
	assert.False(t, h.Has("b"))
}

func TestCloneIsIndependent(t *testing.T) {
	h := header.New()
	h.Add("A", "1")

	clone := h.Clone()
	clone.Add("A", "2")

	assert.Equal(t, []string{"1"}, h.Values("A"))
	assert.Equal(t, []string{"1", "2"}, clone.Values("A"))
}

func TestValidFieldNameRejectsSeparators(t *testing.T) {
	assert.True(t, header.ValidFieldName("X-Foo"))
	assert.False(t, header.ValidFieldName(""))
	assert.False(t, header.ValidFieldName("X Foo"))
	assert.False(t, header.ValidFieldName("X:Foo"))
}

func TestValidFieldValueRejectsControlChars(t *testing.T) {
	assert.True(t, header.ValidFieldValue("hello world"))
	assert.False(t, header.ValidFieldValue("hello\x00world"))
}

func TestTrimOWS(t *testing.T) {
	assert.Equal(t, "value", header.TrimOWS("  value\t"))
}
