package middleware_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/httpd/header"
	"github.com/badu/httpd/message"
	"github.com/badu/httpd/middleware"
)

type testLogger struct{ lines []string }

func (l *testLogger) Printf(format string, args ...any) {
	l.lines = append(l.lines, format)
}

func TestLogging_WrapsAndLogs(t *testing.T) {
	logger := &testLogger{}
	h := middleware.Logging(logger, func(*message.Request) *message.Response {
		return message.NewResponse(200, []byte("ok"))
	})

	resp := h(&message.Request{Method: message.MethodGET, Target: "/"})
	assert.Equal(t, 200, resp.Status)
	require.Len(t, logger.lines, 1)
}

func TestFileServer_ServesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))

	h := middleware.FileServer(dir)
	resp := h(&message.Request{Method: message.MethodGET, Target: "/index.html"})
	require.Equal(t, 200, resp.Status)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get(header.ContentType))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(body))
}

func TestFileServer_MissingFileIs404(t *testing.T) {
	dir := t.TempDir()
	h := middleware.FileServer(dir)
	resp := h(&message.Request{Method: message.MethodGET, Target: "/missing.html"})
	assert.Equal(t, 404, resp.Status)
}

func TestFileServer_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "public")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("nope"), 0o644))

	h := middleware.FileServer(sub)
	resp := h(&message.Request{Method: message.MethodGET, Target: "/../secret.txt"})
	assert.Equal(t, 404, resp.Status)
}

func TestFileServer_MethodNotAllowed(t *testing.T) {
	dir := t.TempDir()
	h := middleware.FileServer(dir)
	resp := h(&message.Request{Method: message.MethodPOST, Target: "/x"})
	assert.Equal(t, 405, resp.Status)
}
