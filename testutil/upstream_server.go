package testutil

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"sync"
	"testing"
)

// UpstreamRequest is what an [UpstreamServer] saw of one vendor API call.
type UpstreamRequest struct {
	Call   int
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// UpstreamResponseFunc picks the reply to the call'th request, counting from 1.
type UpstreamResponseFunc func(call int, r *http.Request) (status int, body []byte)

// UpstreamServer stands in for a vendor REST API and records every request.
//
// Replies are JSON unless the body starts with "HTTP/", in which case it is
// parsed as a complete response with status line and headers. Fixtures use
// that form when the vendor reports data in headers, such as paging totals.
type UpstreamServer struct {
	*httptest.Server

	t       testing.TB
	respond UpstreamResponseFunc

	mu   sync.Mutex
	seen []UpstreamRequest
}

type UpstreamOption func(*UpstreamServer)

// WithUpstreamResponse answers every request the same way.
func WithUpstreamResponse(status int, body []byte) UpstreamOption {
	return WithUpstreamResponseFunc(func(int, *http.Request) (int, []byte) {
		return status, body
	})
}

func WithUpstreamResponseFunc(fn UpstreamResponseFunc) UpstreamOption {
	return func(s *UpstreamServer) { s.respond = fn }
}

// NewUpstreamServer starts a server which lives until the test ends. Request
// contexts derive from ctx.
func NewUpstreamServer(t testing.TB, ctx context.Context, opts ...UpstreamOption) *UpstreamServer {
	t.Helper()

	s := &UpstreamServer{t: t}
	WithUpstreamResponse(http.StatusOK, []byte(`{}`))(s)
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	srv := httptest.NewUnstartedServer(s)
	if ctx != nil {
		srv.Config.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	srv.Start()
	t.Cleanup(srv.Close)

	s.Server = srv
	return s
}

func (s *UpstreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.t.Errorf("read upstream request body: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	call := len(s.seen) + 1
	s.seen = append(s.seen, UpstreamRequest{
		Call:   call,
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	s.mu.Unlock()

	status, reply := s.respond(call, r)
	if !bytes.HasPrefix(reply, []byte("HTTP/")) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(reply)
		return
	}

	raw, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(reply)), r)
	if err != nil {
		s.t.Errorf("parse raw upstream reply: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer raw.Body.Close()

	for k, vs := range raw.Header {
		w.Header()[k] = slices.Clone(vs)
	}
	w.WriteHeader(raw.StatusCode)
	_, _ = io.Copy(w, raw.Body)
}

// Requests returns the requests received so far, oldest first.
func (s *UpstreamServer) Requests() []UpstreamRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.seen)
}

func (s *UpstreamServer) LastRequest() (UpstreamRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return UpstreamRequest{}, false
	}
	return s.seen[len(s.seen)-1], true
}

func (s *UpstreamServer) MustLastRequest(t testing.TB) UpstreamRequest {
	t.Helper()
	req, ok := s.LastRequest()
	if !ok {
		t.Fatalf("upstream received no requests")
	}
	return req
}

func (s *UpstreamServer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
