// Package platforms holds the connection lifecycle tracker and the three
// platform adapters that feed the notification processor.
package platforms

import (
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/events"
)

// StreamDetected is the payload emitted on the stream-detected topic when
// an adapter discovers a new live broadcast.
type StreamDetected struct {
	Platform events.Platform `json:"platform"`
	StreamID string          `json:"streamId"`
	ChatID   string          `json:"chatId,omitempty"`
}

// Lifecycle records per-platform connect times and answers the stale
// message question for the chat filter. It also routes stream-detected
// notices to the owning adapter's re-init hook.
type Lifecycle struct {
	mu          sync.Mutex
	connectedAt map[events.Platform]time.Time
	streamIDs   map[events.Platform]string
	reinit      map[events.Platform]func(StreamDetected)

	filterOld func() bool
	now       func() time.Time
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithLifecycleClock injects a clock.
func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.now = now }
}

// NewLifecycle builds the tracker. filterOld reads the current
// filterOldMessages toggle so config updates take effect immediately.
func NewLifecycle(b *bus.Bus, filterOld func() bool, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		connectedAt: make(map[events.Platform]time.Time),
		streamIDs:   make(map[events.Platform]string),
		reinit:      make(map[events.Platform]func(StreamDetected)),
		filterOld:   filterOld,
		now:         time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if b != nil {
		b.Subscribe(bus.TopicStreamDetected, func(payload any) {
			sd, ok := payload.(StreamDetected)
			if !ok {
				return
			}
			l.handleStreamDetected(sd)
		})
	}
	return l
}

// RecordConnect stamps the platform's connect (or reconnect) time.
func (l *Lifecycle) RecordConnect(p events.Platform) {
	l.mu.Lock()
	l.connectedAt[p] = l.now()
	l.mu.Unlock()
	slog.Info("platform connected", slog.String("platform", string(p)))
}

// ConnectionTime returns the last connect time for the platform.
func (l *Lifecycle) ConnectionTime(p events.Platform) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.connectedAt[p]
	return t, ok
}

// ShouldSkipForConnection reports whether a chat item predates the
// platform's connect time. Disabled filter, unknown platform or an
// unparseable timestamp all mean "keep".
func (l *Lifecycle) ShouldSkipForConnection(p events.Platform, rawTS any) bool {
	if l.filterOld != nil && !l.filterOld() {
		return false
	}
	connectedAt, ok := l.ConnectionTime(p)
	if !ok {
		return false
	}
	ts, err := events.ParseTimestamp(rawTS)
	if err != nil {
		return false
	}
	return ts.Before(connectedAt)
}

// RegisterReinitHook installs the adapter callback invoked when a new
// stream id is observed for the platform.
func (l *Lifecycle) RegisterReinitHook(p events.Platform, fn func(StreamDetected)) {
	l.mu.Lock()
	l.reinit[p] = fn
	l.mu.Unlock()
}

func (l *Lifecycle) handleStreamDetected(sd StreamDetected) {
	l.mu.Lock()
	prev := l.streamIDs[sd.Platform]
	l.streamIDs[sd.Platform] = sd.StreamID
	hook := l.reinit[sd.Platform]
	l.mu.Unlock()

	if sd.StreamID == "" || sd.StreamID == prev {
		return
	}
	slog.Info("new stream detected",
		slog.String("platform", string(sd.Platform)),
		slog.String("streamId", sd.StreamID))
	if hook != nil {
		hook(sd)
	}
}
