package echoserver

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func postForm(t *testing.T, srv *httptest.Server, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.PostForm(srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func TestHandleOK(t *testing.T) {
	srv := httptest.NewServer(New())
	defer srv.Close()

	resp := postForm(t, srv, "/ping", url.Values{"data": {`{"x":1}`}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleFail(t *testing.T) {
	srv := httptest.NewServer(New())
	defer srv.Close()

	resp := postForm(t, srv, "/fail", url.Values{"data": {`{}`}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestHandleSleep(t *testing.T) {
	srv := httptest.NewServer(New())
	defer srv.Close()

	start := time.Now()
	resp := postForm(t, srv, "/sleep", url.Values{"data": {`{"secs":1}`}})
	defer resp.Body.Close()
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("handler returned after %s, want >= 1s", elapsed)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleSleepZero(t *testing.T) {
	srv := httptest.NewServer(New())
	defer srv.Close()

	start := time.Now()
	resp := postForm(t, srv, "/sleep", url.Values{"data": {`{"secs":0}`}})
	defer resp.Body.Close()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("zero-second sleep took %s", elapsed)
	}
}

func TestHandleOKEchoesPostData(t *testing.T) {
	srv := httptest.NewServer(New())
	defer srv.Close()

	resp := postForm(t, srv, "/ping", url.Values{"data": {`{"x":1}`}})
	defer resp.Body.Close()

	buf := make([]byte, 256)
	n, _ := resp.Body.Read(buf)
	if !strings.Contains(string(buf[:n]), `{"x":1}`) {
		t.Fatalf("response %q does not echo posted data", buf[:n])
	}
}
