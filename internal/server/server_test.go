package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	webClientHTML = []byte("<!DOCTYPE html>\n<html><head><title>label maker</title></head><body></body></html>\n")
	fontBytes     = []byte{0x77, 0x4f, 0x46, 0x32, 0x00, 0x01, 0x00, 0x00, 0xde, 0xad, 0xbe, 0xef}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "web-client.html"), webClientHTML, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo.woff2"), fontBytes, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "fonts", "extra"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "fonts", "a.ttf"), []byte("ttf"), 0o644))
	return root
}

func testOptions(root string) Options {
	opts := DefaultOptions(root)
	opts.Addr = "127.0.0.1:0"
	return opts
}

func assertCORS(t *testing.T, h http.Header) {
	t.Helper()
	assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", h.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "*", h.Get("Access-Control-Allow-Headers"))
}

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServeHTTP(t *testing.T) {
	root := newRoot(t)
	s := New(testOptions(root), discardLogger())

	t.Run("HTMLファイル", func(t *testing.T) {
		rec := serve(t, s, http.MethodGet, "/web-client.html")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, webClientHTML, rec.Body.Bytes())
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assertCORS(t, rec.Header())
	})

	t.Run("フォントファイル", func(t *testing.T) {
		rec := serve(t, s, http.MethodGet, "/foo.woff2")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, fontBytes, rec.Body.Bytes())
		assertCORS(t, rec.Header())
	})

	t.Run("サブディレクトリのファイル", func(t *testing.T) {
		rec := serve(t, s, http.MethodGet, "/fonts/a.ttf")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ttf", rec.Body.String())
	})

	t.Run("存在しないファイルは404", func(t *testing.T) {
		rec := serve(t, s, http.MethodGet, "/does-not-exist.txt")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assertCORS(t, rec.Header())
	})

	t.Run("ディレクトリ一覧", func(t *testing.T) {
		rec := serve(t, s, http.MethodGet, "/fonts/")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "a.ttf")
		assert.Contains(t, rec.Body.String(), "extra/")
		assertCORS(t, rec.Header())
	})

	t.Run("末尾スラッシュなしはリダイレクト", func(t *testing.T) {
		rec := serve(t, s, http.MethodGet, "/fonts")

		assert.Equal(t, http.StatusMovedPermanently, rec.Code)
		assertCORS(t, rec.Header())
	})

	t.Run("プリフライト", func(t *testing.T) {
		rec := serve(t, s, http.MethodOptions, "/foo.woff2")

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.Bytes())
		assertCORS(t, rec.Header())
	})

	t.Run("HEAD", func(t *testing.T) {
		rec := serve(t, s, http.MethodHead, "/web-client.html")

		assert.Equal(t, http.StatusOK, rec.Code)
		assertCORS(t, rec.Header())
	})
}

func TestServeHTTP_StaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "public")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644))

	s := New(testOptions(root), discardLogger())

	for _, target := range []string{"/../secret.txt", "/..%2fsecret.txt", "/fonts/../../secret.txt"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.URL.Path = target
		req.URL.RawPath = ""
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		assert.NotEqual(t, "secret", rec.Body.String(), target)
		assertCORS(t, rec.Header())
	}
}

func TestServeHTTP_Hidden(t *testing.T) {
	root := newRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "labelserve.toml"), []byte("port = 8000"), 0o644))

	opts := testOptions(root)
	opts.Hidden = []string{"/labelserve.toml"}
	s := New(opts, discardLogger())

	rec := serve(t, s, http.MethodGet, "/labelserve.toml")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "port = 8000")
	assertCORS(t, rec.Header())

	listing := serve(t, s, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, listing.Code)

	rec = serve(t, s, http.MethodGet, "/web-client.html")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandle(t *testing.T) {
	s := New(testOptions(newRoot(t)), discardLogger())
	s.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	rec := serve(t, s, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assertCORS(t, rec.Header())
}

func startServer(t *testing.T, root string) *Server {
	t.Helper()

	s := New(testOptions(root), discardLogger())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestStart(t *testing.T) {
	t.Run("エンドツーエンド", func(t *testing.T) {
		s := startServer(t, newRoot(t))
		base := "http://" + s.Addr().String()

		resp, body := get(t, base+"/web-client.html")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, len(resp.Header.Get("Content-Type")) > 0)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
		assert.Equal(t, webClientHTML, body)

		resp, body = get(t, base+"/foo.woff2")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, fontBytes, body)

		resp, _ = get(t, base+"/does-not-exist.txt")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assertCORS(t, resp.Header)
	})

	t.Run("二重起動はエラー", func(t *testing.T) {
		s := startServer(t, newRoot(t))

		assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	})

	t.Run("使用中のポートはBindError", func(t *testing.T) {
		root := newRoot(t)
		first := startServer(t, root)

		opts := testOptions(root)
		opts.Addr = first.Addr().String()
		second := New(opts, discardLogger())

		err := second.Start(context.Background())
		require.Error(t, err)

		var bindErr *BindError
		require.True(t, errors.As(err, &bindErr))
		assert.Equal(t, opts.Addr, bindErr.Addr)
		assert.Contains(t, err.Error(), "bind "+opts.Addr)

		var opErr *net.OpError
		assert.True(t, errors.As(err, &opErr))

		resp, body := get(t, "http://"+first.Addr().String()+"/web-client.html")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, webClientHTML, body)
	})
}

func TestStop(t *testing.T) {
	t.Run("ポートを解放する", func(t *testing.T) {
		s := New(testOptions(newRoot(t)), discardLogger())
		require.NoError(t, s.Start(context.Background()))
		addr := s.Addr().String()

		require.NoError(t, s.Stop(context.Background()))

		select {
		case err, ok := <-s.Done():
			assert.False(t, ok, "unexpected serve error: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("serve loop did not exit")
		}

		ln, err := net.Listen("tcp", addr)
		require.NoError(t, err)
		ln.Close()
	})

	t.Run("複数回呼んでも安全", func(t *testing.T) {
		s := New(testOptions(newRoot(t)), discardLogger())
		require.NoError(t, s.Start(context.Background()))

		assert.NoError(t, s.Stop(context.Background()))
		assert.NoError(t, s.Stop(context.Background()))
	})

	t.Run("停止後は再起動できない", func(t *testing.T) {
		s := New(testOptions(newRoot(t)), discardLogger())
		require.NoError(t, s.Start(context.Background()))
		require.NoError(t, s.Stop(context.Background()))

		assert.ErrorIs(t, s.Start(context.Background()), ErrServerStopped)
	})

	t.Run("未起動でも安全", func(t *testing.T) {
		s := New(testOptions(newRoot(t)), discardLogger())

		assert.NoError(t, s.Stop(context.Background()))
		assert.Nil(t, s.Addr())

		_, ok := <-s.Done()
		assert.False(t, ok)
	})

	t.Run("期限切れでも処理中の接続を切って成功", func(t *testing.T) {
		s := New(testOptions(newRoot(t)), discardLogger())
		require.NoError(t, s.Start(context.Background()))

		conn, err := net.Dial("tcp", s.Addr().String())
		require.NoError(t, err)
		defer conn.Close()
		_, err = conn.Write([]byte("GET /web-client.html HTTP/1.1\r\nHost: x\r\n"))
		require.NoError(t, err)

		// Let the server read the partial request so the connection is active.
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		assert.NoError(t, s.Stop(ctx))

		select {
		case err, ok := <-s.Done():
			assert.False(t, ok, "unexpected serve error: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("serve loop did not exit")
		}

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = conn.Read(make([]byte, 1))
		assert.Error(t, err)
	})

	t.Run("シャットダウンフックが呼ばれる", func(t *testing.T) {
		s := New(testOptions(newRoot(t)), discardLogger())
		called := make(chan struct{})
		s.RegisterOnShutdown(func() { close(called) })
		require.NoError(t, s.Start(context.Background()))

		require.NoError(t, s.Stop(context.Background()))

		select {
		case <-called:
		case <-time.After(5 * time.Second):
			t.Fatal("shutdown hook not called")
		}
	})
}

func TestBindError(t *testing.T) {
	inner := errors.New("address already in use")
	err := &BindError{Addr: ":8000", Err: inner}

	assert.Equal(t, "bind :8000: address already in use", err.Error())
	assert.ErrorIs(t, err, inner)
}
