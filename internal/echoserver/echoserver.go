// Package echoserver is the in-tree debug HTTP server for local
// smoke-testing a running curler daemon by hand. It mirrors the original Python
// test/webserver.py: "/" echoes the posted data back with a 200, "/fail"
// always returns a 500, and "/sleep" stalls for the "secs" field of the
// posted JSON data before responding, to exercise slow-backend behavior.
package echoserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/appscode/pat"
)

// Server is a small pattern-routed HTTP server for exercising a curler
// adapter end to end without a real backend service.
type Server struct {
	mux *pat.PatternServeMux
}

// New builds a Server. It is an http.Handler; callers wrap it in their
// own http.Server/httptest.Server as needed.
func New() *Server {
	s := &Server{mux: pat.New()}
	s.mux.Post("/sleep", http.HandlerFunc(s.handleSleep))
	s.mux.Post("/fail", http.HandlerFunc(s.handleFail))
	s.mux.Post("/:method", http.HandlerFunc(s.handleOK))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleOK(w http.ResponseWriter, r *http.Request) {
	data := readData(r)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK\nPOST data: %s", data)
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	readData(r)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusInternalServerError)
	io.WriteString(w, "FAIL")
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	data := readData(r)

	var payload struct {
		Secs int `json:"secs"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err == nil && payload.Secs > 0 {
		select {
		case <-time.After(time.Duration(payload.Secs) * time.Second):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK\nPOST data: %s", data)
}

func readData(r *http.Request) string {
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.PostForm.Get("data")
}
