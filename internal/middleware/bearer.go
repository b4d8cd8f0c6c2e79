package middleware

import (
	"net/http"
	"sync"
)

// TokenSource supplies the credential attached to outgoing requests.
// This interface decouples the transport from the session that owns the token.
type TokenSource interface {
	Token() string
}

// TokenHolder is an in-memory TokenSource the session sets and clears.
type TokenHolder struct {
	mu    sync.RWMutex
	token string
}

func (h *TokenHolder) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

func (h *TokenHolder) Set(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

func (h *TokenHolder) Clear() { h.Set("") }

// BearerTransport adds "Authorization: Bearer <token>" to each request
// when the source has a token.
type BearerTransport struct {
	Source TokenSource
	Base   http.RoundTripper
}

func NewBearerTransport(src TokenSource, base http.RoundTripper) *BearerTransport {
	return &BearerTransport{Source: src, Base: base}
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Source == nil {
		return base.RoundTrip(req)
	}
	token := t.Source.Token()
	if token == "" {
		return base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return base.RoundTrip(r)
}

// AuthHeader returns the header used when dialing the push channel.
func AuthHeader(src TokenSource) http.Header {
	h := http.Header{}
	if src == nil {
		return h
	}
	if token := src.Token(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
