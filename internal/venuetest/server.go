// Package venuetest runs an in-process stand-in for the Hyperliquid HTTP API.
package venuetest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// CapturedRequest stores details about a request received by the server.
type CapturedRequest struct {
	Method    string
	Path      string
	Headers   http.Header
	Body      []byte
	Timestamp time.Time
}

// RequestCapture collects all requests for inspection.
type RequestCapture struct {
	mu       sync.RWMutex
	requests []CapturedRequest
}

// Wrap records each request before passing it through.
func (rc *RequestCapture) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body))

		rc.mu.Lock()
		rc.requests = append(rc.requests, CapturedRequest{
			Method:    r.Method,
			Path:      r.URL.Path,
			Headers:   r.Header.Clone(),
			Body:      append([]byte(nil), body...),
			Timestamp: time.Now(),
		})
		rc.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (rc *RequestCapture) Requests() []CapturedRequest {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]CapturedRequest, len(rc.requests))
	copy(out, rc.requests)
	return out
}

func (rc *RequestCapture) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.requests = rc.requests[:0]
}

// Server is an isolated venue per test, closed automatically on cleanup.
type Server struct {
	httpServer *httptest.Server
	capture    *RequestCapture
	state      *State
}

func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		capture: &RequestCapture{},
		state:   NewState(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/exchange", s.handleExchange)
	mux.HandleFunc("/info", s.handleInfo)

	s.httpServer = httptest.NewServer(s.capture.Wrap(mux))
	t.Cleanup(s.Close)
	return s
}

// URL returns the base URL (e.g. "http://127.0.0.1:12345").
func (s *Server) URL() string { return s.httpServer.URL }

func (s *Server) Close() {
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}

// State exposes the venue state for seeding and assertions.
func (s *Server) State() *State { return s.state }

func (s *Server) Requests() []CapturedRequest { return s.capture.Requests() }

func (s *Server) ClearRequests() { s.capture.Clear() }

// ExchangeRequest is a decoded POST /exchange body.
type ExchangeRequest struct {
	Action       map[string]any  `json:"action"`
	Nonce        int64           `json:"nonce"`
	Signature    Signature       `json:"signature"`
	VaultAddress *string         `json:"vaultAddress"`
	Raw          json.RawMessage `json:"-"`
}

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// InfoRequest is a decoded POST /info body.
type InfoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

func (s *Server) ExchangeRequests() []ExchangeRequest {
	var out []ExchangeRequest
	for _, req := range s.capture.Requests() {
		if req.Path != "/exchange" || req.Method != http.MethodPost {
			continue
		}
		var decoded ExchangeRequest
		if err := json.Unmarshal(req.Body, &decoded); err == nil {
			decoded.Raw = append(json.RawMessage(nil), req.Body...)
			out = append(out, decoded)
		}
	}
	return out
}

func (s *Server) InfoRequests() []InfoRequest {
	var out []InfoRequest
	for _, req := range s.capture.Requests() {
		if req.Path != "/info" || req.Method != http.MethodPost {
			continue
		}
		var decoded InfoRequest
		if err := json.Unmarshal(req.Body, &decoded); err == nil {
			out = append(out, decoded)
		}
	}
	return out
}
