package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

type handlers struct {
	deps Deps

	stateMu    sync.RWMutex
	stateStore map[string]time.Time
}

func newHandlers(deps Deps) *handlers {
	return &handlers{
		deps:       deps,
		stateStore: make(map[string]time.Time),
	}
}

func (h *handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{}
	if h.deps.Uptime != nil {
		status["uptimeSeconds"] = int(h.deps.Uptime().Seconds())
	}
	if h.deps.QueueDepth != nil {
		status["queueDepth"] = h.deps.QueueDepth()
	}
	if h.deps.RendererState != nil {
		status["renderer"] = h.deps.RendererState()
	}
	if h.deps.AuthState != nil {
		status["auth"] = h.deps.AuthState()
	}
	if h.deps.Connections != nil {
		conns := map[string]string{}
		for platform, at := range h.deps.Connections() {
			conns[platform] = at.UTC().Format(time.RFC3339)
		}
		status["connections"] = conns
	}
	writeJSON(w, http.StatusOK, status)
}

// addOAuthState registers a one-shot CSRF state token.
func (h *handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	h.stateStore[state] = expiry
	h.stateMu.Unlock()
}

// takeOAuthState consumes a state token, reporting whether it was valid.
func (h *handlers) takeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}

func newStateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (h *handlers) handleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.TwitchAuthStart == nil {
		http.Error(w, "twitch oauth not configured", http.StatusBadRequest)
		return
	}
	authURL, err := h.deps.TwitchAuthStart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	st, err := newStateToken()
	if err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	http.Redirect(w, r, authURL+"&state="+st, http.StatusFound)
}

func (h *handlers) handleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.deps.TwitchAuthComplete == nil {
		http.Error(w, "twitch oauth not configured", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.takeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	if err := h.deps.TwitchAuthComplete(r.Context(), code); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized", "provider": "twitch"})
}

func (h *handlers) handleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.YouTubeAuthStart == nil {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	st, err := newStateToken()
	if err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	http.Redirect(w, r, h.deps.YouTubeAuthStart()+"&state="+st, http.StatusFound)
}

func (h *handlers) handleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.deps.YouTubeAuthComplete == nil {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.takeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	if err := h.deps.YouTubeAuthComplete(r.Context(), code); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized", "provider": "youtube"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
