package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func testDeps() Deps {
	return Deps{
		TwitchAuthStart:    func() (string, error) { return "https://id.example/authorize?client_id=c1", nil },
		TwitchAuthComplete: func(ctx context.Context, code string) error { return nil },
		QueueDepth:         func() int { return 3 },
		RendererState:      func() string { return "identified" },
		AuthState:          func() string { return "ready" },
		Uptime:             func() time.Duration { return 90 * time.Second },
		Connections: func() map[string]time.Time {
			return map[string]time.Time{"twitch": time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
		},
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewMux(testDeps()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("missing correlation id header")
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(NewMux(testDeps()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var status struct {
		UptimeSeconds int               `json:"uptimeSeconds"`
		QueueDepth    int               `json:"queueDepth"`
		Renderer      string            `json:"renderer"`
		Auth          string            `json:"auth"`
		Connections   map[string]string `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.UptimeSeconds != 90 || status.QueueDepth != 3 {
		t.Errorf("status = %+v", status)
	}
	if status.Renderer != "identified" || status.Auth != "ready" {
		t.Errorf("status = %+v", status)
	}
	if status.Connections["twitch"] != "2025-06-01T12:00:00Z" {
		t.Errorf("connections = %v", status.Connections)
	}
}

func TestCorrelationIDPassthrough(t *testing.T) {
	srv := httptest.NewServer(NewMux(testDeps()))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Correlation-ID"); got != "corr-42" {
		t.Errorf("correlation id = %q, want corr-42", got)
	}
}

func TestOAuthStartAndCallback(t *testing.T) {
	completed := ""
	deps := testDeps()
	deps.TwitchAuthComplete = func(ctx context.Context, code string) error {
		completed = code
		return nil
	}
	srv := httptest.NewServer(NewMux(deps))
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := client.Get(srv.URL + "/auth/twitch/start")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("start status = %d, want 302", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatalf("redirect %q carries no state", loc)
	}
	if !strings.HasPrefix(loc.String(), "https://id.example/authorize") {
		t.Errorf("redirect target = %q", loc)
	}

	// callback with the issued state succeeds
	resp, err = client.Get(srv.URL + "/auth/twitch/callback?code=abc123&state=" + state)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d", resp.StatusCode)
	}
	if completed != "abc123" {
		t.Errorf("completed code = %q", completed)
	}

	// the state token is one-shot
	resp, err = client.Get(srv.URL + "/auth/twitch/callback?code=abc123&state=" + state)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("replayed state status = %d, want 400", resp.StatusCode)
	}
}

func TestOAuthCallbackRejectsForgedState(t *testing.T) {
	srv := httptest.NewServer(NewMux(testDeps()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/auth/twitch/callback?code=abc&state=forged")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUnconfiguredOAuthProvider(t *testing.T) {
	deps := testDeps()
	deps.YouTubeAuthStart = nil
	deps.YouTubeAuthComplete = nil
	srv := httptest.NewServer(NewMux(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/auth/youtube/start")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
