// Package routehosttest provides an in-process fake of the pyRevit Route Host.
package routehosttest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// BasePath is the prefix the pyRevit extension registers its routes under.
const BasePath = "/revit_mcp"

// Request is a request recorded by the fake.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Server is a fake Route Host. Routes not registered answer 404.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []Request
}

// New starts a fake Route Host that is closed when the test ends.
func New(t testing.TB) (server *Server) {
	t.Helper()

	server = &Server{routes: make(map[string]http.HandlerFunc)}
	server.Server = httptest.NewServer(http.HandlerFunc(server.serve))
	t.Cleanup(server.Close)

	return server
}

// BaseURL returns the URL a client should use as its Route Host base.
func (s *Server) BaseURL() (baseURL string) {
	baseURL = s.URL + BasePath
	return baseURL
}

// Handle registers handler for method and path, where path excludes BasePath.
func (s *Server) Handle(method, path string, handler http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes[method+" "+path] = handler
}

// JSON registers a route answering status with body encoded as JSON.
func (s *Server) JSON(method, path string, status int, body any) {
	s.Handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, status, body)
	})
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() (requests []Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requests = make([]Request, len(s.requests))
	copy(requests, s.requests)

	return requests
}

// WriteJSON writes body as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, BasePath)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:   r.Method,
		Path:     path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header.Clone(),
		Body:     body,
	})
	handler, ok := s.routes[r.Method+" "+path]
	s.mu.Unlock()

	if !ok {
		WriteJSON(w, http.StatusNotFound, map[string]any{"error": "Route not found: " + path})
		return
	}

	r.Body = io.NopCloser(strings.NewReader(string(body)))
	handler(w, r)
}
