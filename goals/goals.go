// Package goals tracks per-platform donation totals toward configured
// targets. Idempotence per display item is the queue's job (the
// goalProcessed flag); the tracker itself just accumulates.
package goals

import (
	"log/slog"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/events"
	"github.com/onnwee/streamfx/telemetry"
)

// Progress is the payload emitted on goal:progress.
type Progress struct {
	Platform  events.Platform `json:"platform"`
	Current   float64         `json:"current"`
	Target    float64         `json:"target"`
	Formatted string          `json:"formatted"`
}

type state struct {
	current float64
	target  float64
}

// Tracker accumulates per-platform totals. Zero-target platforms are
// ignored entirely.
type Tracker struct {
	mu      sync.Mutex
	enabled bool
	goals   map[events.Platform]*state
	bus     *bus.Bus
	printer *message.Printer
}

// New builds a Tracker from the configured targets (platform -> amount).
// The printer renders totals with the locale's digit grouping.
func New(enabled bool, targets map[string]float64, b *bus.Bus) *Tracker {
	t := &Tracker{
		enabled: enabled,
		goals:   make(map[events.Platform]*state),
		bus:     b,
		printer: message.NewPrinter(language.English),
	}
	for platform, target := range targets {
		if target > 0 {
			t.goals[events.Platform(platform)] = &state{target: target}
		}
	}
	return t
}

// ProcessDonationGoal adds amount (coins/bits/currency units, never a gift
// count) to the platform's running total and emits goal:progress. A zero
// amount is a no-op.
func (t *Tracker) ProcessDonationGoal(platform events.Platform, amount float64) {
	if !t.enabled || amount == 0 {
		return
	}
	t.mu.Lock()
	s := t.goals[platform]
	if s == nil {
		t.mu.Unlock()
		return
	}
	s.current += amount
	p := Progress{Platform: platform, Current: s.current, Target: s.target}
	t.mu.Unlock()

	p.Formatted = t.format(p.Current, p.Target)
	telemetry.SetGoalProgress(string(platform), p.Current)
	slog.Info("goal progress",
		slog.String("platform", string(platform)),
		slog.Float64("current", p.Current),
		slog.Float64("target", p.Target))
	if t.bus != nil {
		t.bus.Emit(bus.TopicGoalProgress, p)
	}
}

// Snapshot returns the current progress for a platform; ok is false when
// no goal is configured for it.
func (t *Tracker) Snapshot(platform events.Platform) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.goals[platform]
	if s == nil {
		return Progress{}, false
	}
	return Progress{
		Platform:  platform,
		Current:   s.current,
		Target:    s.target,
		Formatted: t.format(s.current, s.target),
	}, true
}

// format renders "current/target" with locale-aware digit grouping,
// dropping fractional noise for whole totals.
func (t *Tracker) format(current, target float64) string {
	return t.printer.Sprintf("%.0f/%.0f", current, target)
}
