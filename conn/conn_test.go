package conn_test

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/httpd/conn"
	"github.com/badu/httpd/header"
	"github.com/badu/httpd/message"
	"github.com/badu/httpd/router"
	"github.com/badu/httpd/timeout"
)

func helloRouter() *router.Router {
	b := router.NewBuilder()
	b.Handle(message.MethodGET, "/", func(*message.Request) *message.Response {
		return message.NewResponse(200, []byte("hello world"))
	})
	b.Handle(message.MethodPOST, "/echo", func(req *message.Request) *message.Response {
		body, err := message.Materialize(req.Body, 1<<20)
		if err != nil {
			return message.NewResponse(500, nil)
		}
		return message.NewResponse(200, body)
	})
	return b.Freeze()
}

func newDriverPair(t *testing.T) (*conn.Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	c := conn.New(1, server, conn.Config{
		Timeouts: timeout.Default(),
		Router:   helloRouter(),
	})
	return c, client
}

func TestConn_SimpleGET(t *testing.T) {
	c, client := newDriverPair(t)
	defer client.Close()

	go func() {
		io.WriteString(client, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	}()

	done := make(chan conn.Disposition, 1)
	go func() { done <- c.ServeOnce() }()

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", line)

	disp := <-done
	assert.Equal(t, conn.DispositionKeepAlive, disp)
}

func TestConn_EchoPOST(t *testing.T) {
	c, client := newDriverPair(t)
	defer client.Close()

	go func() {
		io.WriteString(client, "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nabcde")
	}()

	done := make(chan conn.Disposition, 1)
	go func() { done <- c.ServeOnce() }()

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", line)

	for {
		l, err := br.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
	}
	body := make([]byte, 5)
	_, err = io.ReadFull(br, body)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(body))

	<-done
}

func TestConn_HTTP10Closes(t *testing.T) {
	c, client := newDriverPair(t)
	defer client.Close()

	go func() {
		io.WriteString(client, "GET / HTTP/1.0\r\n\r\n")
	}()

	done := make(chan conn.Disposition, 1)
	go func() { done <- c.ServeOnce() }()

	br := bufio.NewReader(client)
	_, err := br.ReadString('\n')
	require.NoError(t, err)

	select {
	case disp := <-done:
		assert.Equal(t, conn.DispositionClose, disp)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeOnce did not return")
	}
}

func TestConn_HandlerForcedCloseOnChunkedResponse(t *testing.T) {
	server, client := net.Pipe()
	b := router.NewBuilder()
	b.Handle(message.MethodGET, "/stream", func(*message.Request) *message.Response {
		resp := &message.Response{
			Status: 200,
			Header: header.New(),
			Body:   message.StreamingBody(strings.NewReader("hello"), nil, -1),
		}
		resp.Header.Set(header.Connection, "close")
		return resp
	})
	c := conn.New(1, server, conn.Config{
		Timeouts: timeout.Default(),
		Router:   b.Freeze(),
	})
	defer client.Close()

	go func() {
		io.WriteString(client, "GET /stream HTTP/1.1\r\nHost: x\r\n\r\n")
	}()

	done := make(chan conn.Disposition, 1)
	go func() { done <- c.ServeOnce() }()

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", line)

	sawConnectionClose := false
	for {
		l, err := br.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
		if strings.HasPrefix(l, "Connection:") {
			sawConnectionClose = strings.Contains(l, "close")
		}
	}
	assert.True(t, sawConnectionClose)

	select {
	case disp := <-done:
		assert.Equal(t, conn.DispositionClose, disp)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeOnce did not return")
	}

	// ServeOnce leaves closing the socket to its caller; close the server
	// end so the client sees EOF right after the chunked terminator.
	require.NoError(t, c.Close())
	body, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "5\r\nhello\r\n0\r\n\r\n", string(body))
}

func TestConn_RouterMiss404(t *testing.T) {
	c, client := newDriverPair(t)
	defer client.Close()

	go func() {
		// helloRouter's GET "/" is a subtree pattern covering every GET
		// path, so the miss is exercised with a method it has no prefix for.
		io.WriteString(client, "POST /missing HTTP/1.1\r\nHost: x\r\n\r\n")
	}()

	done := make(chan conn.Disposition, 1)
	go func() { done <- c.ServeOnce() }()

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\n", line)

	disp := <-done
	assert.Equal(t, conn.DispositionClose, disp)
}
