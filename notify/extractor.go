package notify

import (
	"strings"
)

// Author is the acting user extracted from a raw platform item.
type Author struct {
	ID   string
	Name string
}

// Extractor isolates the platform-specific shape of raw chat items. The
// processor is generic over it; each adapter ships one implementation for
// its SDK types.
type Extractor interface {
	// ExtractAuthor returns the author, or ok=false when the raw item has
	// none (which suppresses the event).
	ExtractAuthor(raw any) (Author, bool)
	// ExtractMessage returns the normalized display text: message runs
	// concatenated, entities as plain text, never a stringified object.
	ExtractMessage(raw any) string
	// ExtractID returns the upstream event id, empty when absent.
	ExtractID(raw any) string
	// ExtractTimestamp returns the raw timestamp in whatever shape the
	// platform uses (RFC3339 string, unix millis, unix micros).
	ExtractTimestamp(raw any) any
	// IsAnonymous reports whether the author matches the platform's
	// anonymous/junk sentinel.
	IsAnonymous(a Author) bool
}

// SuppressAuthor applies the platform-independent part of the suppression
// rule: missing author or empty trimmed display name.
func SuppressAuthor(a Author, ok bool) bool {
	return !ok || strings.TrimSpace(a.Name) == ""
}
