package notify

import "sync"

// UserTracker remembers which users have spoken this session. In-memory
// only; a restart greets everyone again, which is the desired behavior.
type UserTracker struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewUserTracker returns an empty tracker.
func NewUserTracker() *UserTracker {
	return &UserTracker{seen: make(map[string]bool)}
}

// IsFirstMessage reports whether userID has not spoken before, and marks
// them as seen.
func (t *UserTracker) IsFirstMessage(userID string) bool {
	if userID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[userID] {
		return false
	}
	t.seen[userID] = true
	return true
}

// Count returns how many distinct users have spoken.
func (t *UserTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
