package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchID mocks the identity provider's validate and token endpoints.
// Tests point the overridable endpoint vars at it.
type MockTwitchID struct {
	*httptest.Server

	mu sync.Mutex
	// Scopes returned by the validate endpoint.
	Scopes []string
	// UserID and Login in the validate response.
	UserID string
	Login  string
	// ValidTokens is the set of access tokens the validate endpoint
	// accepts; everything else gets a 401.
	ValidTokens map[string]bool
	// RefreshTo is the access token issued by a refresh exchange; empty
	// makes refresh fail with invalid_grant.
	RefreshTo string

	ValidateCalls int
	RefreshCalls  int
	ExchangeCalls int
}

// NewMockTwitchID builds the server. Register cleanup closes it.
func NewMockTwitchID(t *testing.T) *MockTwitchID {
	t.Helper()
	m := &MockTwitchID{
		UserID:      "12345",
		Login:       "streamer",
		ValidTokens: make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/validate", m.handleValidate)
	mux.HandleFunc("/oauth2/token", m.handleToken)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// ValidateURL is the endpoint tests assign to the introspection var.
func (m *MockTwitchID) ValidateURL() string { return m.URL + "/oauth2/validate" }

// TokenURL is the endpoint tests assign to the token var.
func (m *MockTwitchID) TokenURL() string { return m.URL + "/oauth2/token" }

func (m *MockTwitchID) handleValidate(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ValidateCalls++

	auth := r.Header.Get("Authorization")
	const prefix = "OAuth "
	token := ""
	if len(auth) > len(prefix) {
		token = auth[len(prefix):]
	}
	if !m.ValidTokens[token] {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 401, "message": "invalid access token"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"client_id":  "testclient",
		"login":      m.Login,
		"user_id":    m.UserID,
		"scopes":     m.Scopes,
		"expires_in": 3600,
	})
}

func (m *MockTwitchID) handleToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = r.ParseForm()

	switch r.Form.Get("grant_type") {
	case "refresh_token":
		m.RefreshCalls++
		if m.RefreshTo == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 400, "message": "Invalid refresh token", "error": "invalid_grant"})
			return
		}
		m.ValidTokens[m.RefreshTo] = true
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  m.RefreshTo,
			"refresh_token": "refreshed-refresh",
			"token_type":    "bearer",
			"scope":         m.Scopes,
			"expires_in":    3600,
		})
	case "authorization_code":
		m.ExchangeCalls++
		token := "exchanged-" + r.Form.Get("code")
		m.ValidTokens[token] = true
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  token,
			"refresh_token": "exchanged-refresh",
			"token_type":    "bearer",
			"scope":         m.Scopes,
			"expires_in":    3600,
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

// GrantToken marks an access token as valid.
func (m *MockTwitchID) GrantToken(token string) {
	m.mu.Lock()
	m.ValidTokens[token] = true
	m.mu.Unlock()
}

// SetScopes replaces the scope set in subsequent responses.
func (m *MockTwitchID) SetScopes(scopes ...string) {
	m.mu.Lock()
	m.Scopes = scopes
	m.mu.Unlock()
}
