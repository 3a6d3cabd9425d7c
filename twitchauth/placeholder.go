package twitchauth

import "strings"

// placeholderPrefixes and exact sentinels mark tokens that were never
// issued by the platform: scaffolding values from sample configs. They are
// rejected without an introspection round trip. This is a policy list,
// not a parser — extend it deliberately.
var placeholderExact = []string{
	"",
	"undefined",
	"null",
}

var placeholderPrefixes = []string{
	"test_",
	"placeholder",
	"demo_",
	"temp_",
	"example_",
}

const placeholderSuffix = "_here"

// IsPlaceholderToken reports whether token is an obvious sentinel rather
// than a real credential.
func IsPlaceholderToken(token string) bool {
	t := strings.TrimSpace(strings.ToLower(token))
	for _, exact := range placeholderExact {
		if t == exact {
			return true
		}
	}
	for _, prefix := range placeholderPrefixes {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return strings.HasSuffix(t, placeholderSuffix)
}
