package middleware

import (
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/badu/httpd/header"
	"github.com/badu/httpd/message"
	"github.com/badu/httpd/router"
)

// FileServer returns a router.Handler serving files rooted at dir, in the
// shape of the teacher's filetransport.fileHandler.ServeHTTP: the request
// target is cleaned with path.Clean (rejecting ".." traversal the same way
// path.Clean always collapses it) and joined under dir, the response
// Content-Type is guessed from the file extension, and Content-Length is
// always the known file size (the codec's streaming chunked path is never
// needed here — spec §4.1's "known-length byte sequence" framing covers a
// static file exactly).
//
// Only GET and HEAD are served; anything else yields a plain 405, mirroring
// the router's own MethodNotAllowed shape without going through it (a
// static handler is a leaf Handler, not itself a router).
func FileServer(dir string) router.Handler {
	return func(req *message.Request) *message.Response {
		if req.Method != message.MethodGET && req.Method != message.MethodHEAD {
			resp := message.NewResponse(405, []byte("method not allowed"))
			resp.Header.Set(header.Allow, "GET, HEAD")
			return resp
		}

		upath := req.Target
		if i := strings.IndexAny(upath, "?#"); i >= 0 {
			upath = upath[:i]
		}
		if !strings.HasPrefix(upath, "/") {
			upath = "/" + upath
		}
		cleaned := path.Clean(upath)

		full := filepath.Join(dir, filepath.FromSlash(cleaned))
		if !strings.HasPrefix(full, filepath.Clean(dir)+string(filepath.Separator)) && full != filepath.Clean(dir) {
			return message.NewResponse(404, []byte("not found"))
		}

		f, err := os.Open(full)
		if err != nil {
			return message.NewResponse(404, []byte("not found"))
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			return message.NewResponse(404, []byte("not found"))
		}

		resp := &message.Response{Status: 200, Header: header.New()}
		if ct := mime.TypeByExtension(filepath.Ext(full)); ct != "" {
			resp.Header.Set(header.ContentType, ct)
		}
		resp.Header.Set(header.ContentLength, strconv.FormatInt(info.Size(), 10))

		if req.Method == message.MethodHEAD {
			resp.Body = message.BufferedBody(nil)
			return resp
		}

		data, err := io.ReadAll(f)
		if err != nil {
			return message.NewResponse(500, []byte("internal server error"))
		}
		resp.Body = message.BufferedBody(data)
		return resp
	}
}
