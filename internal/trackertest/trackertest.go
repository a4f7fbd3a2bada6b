// Package trackertest runs an in-process fake of the tracker REST API for
// tests. Endpoints are declared with the capabilities their OPTIONS answer
// advertises and with plain handlers for the other methods. Every request is
// recorded.
package trackertest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Caps is what an endpoint answers to OPTIONS.
type Caps struct {
	Allow string
	// AllowMethods defaults to Allow when empty. Set it to "-" to omit the
	// header.
	AllowMethods string
	MaxPageSize  int
}

// Call is a recorded request.
type Call struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// URL returns path and query as sent.
func (c Call) URL() string {
	if c.RawQuery == "" {
		return c.Path
	}
	return c.Path + "?" + c.RawQuery
}

type Server struct {
	URL string

	router chi.Router
	srv    *http.Server
	ln     net.Listener

	mu    sync.Mutex
	calls []Call
	token string
}

// New starts a fake tracker stopped at test cleanup.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{router: chi.NewRouter()}
	s.router.Use(s.record)
	s.router.Use(s.authenticate)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.router}
	go s.srv.Serve(ln)
	s.URL = "http://" + ln.Addr().String()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Close() {
	s.srv.Shutdown(context.Background())
	s.ln.Close()
}

// RequireToken makes every endpoint but /api/tokens answer 401 unless the
// X-Auth-Token header carries token.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Expose declares the OPTIONS answer of path.
func (s *Server) Expose(path string, caps Caps) {
	s.router.Options(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", caps.Allow)
		switch caps.AllowMethods {
		case "":
			w.Header().Set("Access-Control-Allow-Methods", caps.Allow)
		case "-":
		default:
			w.Header().Set("Access-Control-Allow-Methods", caps.AllowMethods)
		}
		if caps.MaxPageSize > 0 {
			w.Header().Set("X-Pagination-Limit-Max", strconv.Itoa(caps.MaxPageSize))
		}
		w.WriteHeader(http.StatusOK)
	})
}

// On routes method on path to h.
func (s *Server) On(method, path string, h http.HandlerFunc) {
	s.router.MethodFunc(method, path, h)
}

// JSON answers method on path with a fixed status and body.
func (s *Server) JSON(method, path string, status int, body any) {
	s.On(method, path, func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, status, body)
	})
}

// Paged serves items as a paginated array honoring limit and offset, and
// sets X-Pagination-Size to the total.
func (s *Server) Paged(path string, items []any) {
	s.On(http.MethodGet, path, func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if offset > len(items) {
			offset = len(items)
		}
		end := len(items)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		w.Header().Set("X-Pagination-Size", strconv.Itoa(len(items)))
		page := items[offset:end]
		if page == nil {
			page = []any{}
		}
		WriteJSON(w, http.StatusOK, page)
	})
}

// WriteJSON writes body encoded as JSON.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes an error envelope as the tracker does.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]any{
		"error": map[string]any{"code": status, "message": message},
	})
}

// Calls returns a copy of every recorded request.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count counts recorded requests with the given method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// Last returns the last request with the given method and path.
func (s *Server) Last(method, path string) (Call, bool) {
	calls := s.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method && calls[i].Path == path {
			return calls[i], true
		}
	}
	return Call{}, false
}

// Reset forgets recorded requests.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewBuffer(body))
		s.mu.Lock()
		s.calls = append(s.calls, Call{
			Method:   r.Method,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
			Header:   r.Header.Clone(),
			Body:     body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()
		if token == "" || strings.HasSuffix(r.URL.Path, "/tokens") || r.Header.Get("X-Auth-Token") == token {
			next.ServeHTTP(w, r)
			return
		}
		WriteError(w, http.StatusUnauthorized, "Unauthorized: invalid token")
	})
}
