package twitchauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// RequiredScopes is the scope set the bot needs to read chat, bits,
// subscriptions, redemptions and followers.
var RequiredScopes = []string{
	"user:read:chat",
	"chat:edit",
	"channel:read:subscriptions",
	"bits:read",
	"channel:read:redemptions",
	"moderator:read:followers",
}

// IntrospectionResult mirrors the validate endpoint response.
type IntrospectionResult struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// ValidationResult is the outcome of the full validation pipeline.
type ValidationResult struct {
	IsValid        bool
	NeedsNewTokens bool
	Errors         []string
	MissingScopes  []string
	Introspection  *IntrospectionResult
	// RefreshedTokens is non-nil when validation succeeded only after a
	// refresh exchange; the caller must persist them.
	RefreshedTokens *RefreshResult
}

// introspectStatus distinguishes the failure modes the pipeline reacts to.
type introspectStatus int

const (
	introspectOK introspectStatus = iota
	introspectUnauthorized
	introspectNetworkError
)

// introspect calls the validate endpoint with the access token.
func introspect(ctx context.Context, hc *http.Client, accessToken string) (*IntrospectionResult, introspectStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, IntrospectURL, nil)
	if err != nil {
		return nil, introspectNetworkError, err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, introspectNetworkError, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, introspectUnauthorized, fmt.Errorf("token rejected: 401")
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, introspectNetworkError, fmt.Errorf("introspection failed: %s: %s", resp.Status, string(b))
	}
	var res IntrospectionResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, introspectNetworkError, err
	}
	return &res, introspectOK, nil
}

// checkScopes diffs granted scopes against RequiredScopes.
func checkScopes(granted []string) (missing []string) {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	for _, s := range RequiredScopes {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}

// ValidateTokens runs the validation order: introspect; on network error
// refresh and retry once; on 401 refresh and re-validate; then enforce
// the required scope set. Refresh failure surfaces NeedsNewTokens so the
// interactive flow can take over.
func ValidateTokens(ctx context.Context, hc *http.Client, clientID, clientSecret, accessToken, refreshToken string) ValidationResult {
	if IsPlaceholderToken(accessToken) {
		// obvious sentinel: skip introspection, go straight to re-auth
		return ValidationResult{
			NeedsNewTokens: true,
			Errors:         []string{"access token is a placeholder value"},
		}
	}

	res, status, err := introspect(ctx, hc, accessToken)
	var refreshed *RefreshResult
	if status != introspectOK {
		slog.Info("token introspection failed; attempting refresh", slog.Any("err", err))
		rr, rerr := RefreshToken(ctx, hc, clientID, clientSecret, refreshToken)
		if rerr != nil {
			return ValidationResult{
				NeedsNewTokens: true,
				Errors:         []string{fmt.Sprintf("token refresh failed: %v", rerr)},
			}
		}
		refreshed = rr
		res, status, err = introspect(ctx, hc, rr.AccessToken)
		if status != introspectOK {
			return ValidationResult{
				NeedsNewTokens: true,
				Errors:         []string{fmt.Sprintf("token invalid after refresh: %v", err)},
			}
		}
	}

	missing := checkScopes(res.Scopes)
	if len(missing) > 0 {
		out := ValidationResult{
			NeedsNewTokens:  true,
			MissingScopes:   missing,
			Introspection:   res,
			RefreshedTokens: refreshed,
		}
		for _, s := range missing {
			out.Errors = append(out.Errors, "Missing required OAuth scope: "+s)
		}
		return out
	}

	return ValidationResult{
		IsValid:         true,
		Introspection:   res,
		RefreshedTokens: refreshed,
	}
}
