//go:build linux

package reactor

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webreactor/internal/metrics"
	"webreactor/internal/workerpool"
)

func startTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	workers := workerpool.New(4, nil)
	t.Cleanup(workers.Close)

	s, err := Listen(opts, workers, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	go s.Run()
	return s
}

func TestReactorServesStaticFileOverRealSocket(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hello reactor"), 0o644))

	s := startTestServer(t, Options{
		Port:         0,
		ConnEdge:     true,
		ListenEdge:   true,
		IdleTimeout:  2 * time.Second,
		MaxConns:     16,
		ResourceRoot: root,
	})

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(s.Port()), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	body, err := io.ReadAll(conn)
	require.NoError(t, err)

	assert.Contains(t, string(body), "HTTP/1.1 200 OK")
	assert.Contains(t, string(body), "hello reactor")
}

func TestReactorReturns404ForMissingFile(t *testing.T) {
	root := t.TempDir()

	s := startTestServer(t, Options{
		Port:         0,
		ConnEdge:     true,
		ListenEdge:   true,
		IdleTimeout:  2 * time.Second,
		MaxConns:     16,
		ResourceRoot: root,
	})

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(s.Port()), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /nope.html HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(body), "HTTP/1.1 404 Not Found")
}

func TestReactorRejectsConnectionsAboveMaxConns(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("x"), 0o644))

	s := startTestServer(t, Options{
		Port:         0,
		ConnEdge:     true,
		ListenEdge:   true,
		IdleTimeout:  5 * time.Second,
		MaxConns:     1,
		ResourceRoot: root,
	})

	// la primera conexión ocupa el único cupo; se sirve una request para
	// garantizar que ya quedó registrada antes de intentar la segunda.
	first, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(s.Port()), time.Second)
	require.NoError(t, err)
	defer first.Close()

	_, err = first.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, err := first.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "HTTP/1.1 200 OK")

	second, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(s.Port()), time.Second)
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	body, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Server busy!")
}

func TestReactorClosesIdleConnectionAfterTimeout(t *testing.T) {
	root := t.TempDir()

	s := startTestServer(t, Options{
		Port:         0,
		ConnEdge:     true,
		ListenEdge:   true,
		IdleTimeout:  100 * time.Millisecond,
		MaxConns:     16,
		ResourceRoot: root,
	})

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(s.Port()), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// sin enviar nada: el timer de inactividad debe cerrar el socket y
	// el cliente ver EOF.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestReactorRecyclesKeepAliveConnectionAcrossRequests(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("once"), 0o644))

	s := startTestServer(t, Options{
		Port:         0,
		ConnEdge:     true,
		ListenEdge:   true,
		IdleTimeout:  5 * time.Second,
		MaxConns:     16,
		ResourceRoot: root,
	})

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(s.Port()), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	readOne := func() string {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		return string(buf[:n])
	}

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	resp1 := readOne()
	assert.Contains(t, resp1, "HTTP/1.1 200 OK")
	assert.Contains(t, resp1, "Connection: keep-alive")
	assert.Contains(t, resp1, "once")

	// segunda request sobre la misma conexión: debe comportarse igual
	// que una recién aceptada.
	_, err = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	resp2 := readOne()
	assert.Contains(t, resp2, "HTTP/1.1 200 OK")
	assert.Contains(t, resp2, "once")
}

func TestReactorRoutesPostLoginThroughVerifier(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "welcome.html"), []byte("<html>welcome</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "error.html"), []byte("<html>denied</html>"), 0o644))

	workers := workerpool.New(4, nil)
	t.Cleanup(workers.Close)

	verify := func(_ context.Context, username, password string, isLogin bool) (bool, error) {
		return isLogin && username == "alice" && password == "hunter2", nil
	}
	s, err := Listen(Options{
		Port:         0,
		ConnEdge:     true,
		ListenEdge:   true,
		IdleTimeout:  5 * time.Second,
		MaxConns:     16,
		ResourceRoot: root,
	}, workers, verify, nil, nil)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	go s.Run()

	body := "username=alice&password=hunter2"
	req := "POST /login HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n\r\n" + body

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(s.Port()), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(req))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)

	assert.Contains(t, string(resp), "HTTP/1.1 200 OK")
	assert.Contains(t, string(resp), "welcome")
}

func TestReactorUpdatesMetricsAfterServingARequest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hi"), 0o644))

	reg := metrics.New()
	workers := workerpool.New(4, nil)
	t.Cleanup(workers.Close)

	s, err := Listen(Options{
		Port:         0,
		ConnEdge:     true,
		ListenEdge:   true,
		IdleTimeout:  2 * time.Second,
		MaxConns:     16,
		ResourceRoot: root,
	}, workers, nil, nil, reg)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	go s.Run()

	cn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(s.Port()), time.Second)
	require.NoError(t, err)
	defer cn.Close()

	_, err = cn.Write([]byte("GET / HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)
	cn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadAll(cn)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(reg.RequestsTotal.WithLabelValues("200")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var m dto.Metric
	require.NoError(t, reg.RequestLatency.Write(&m))
	assert.Greater(t, m.GetHistogram().GetSampleCount(), uint64(0))
}

