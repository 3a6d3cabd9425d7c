// Package spam implements the donation spam detector. Gifts from one user
// inside a detection window are either forwarded individually (few of
// them, all above the low-value threshold) or folded into one synthetic
// aggregated gift emitted when the window closes. Aggregated events are
// never re-inspected.
package spam

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/events"
	"github.com/onnwee/streamfx/telemetry"
)

// Emit receives events leaving the detector: pass-throughs, individual
// gifts, and synthetic aggregates.
type Emit func(events.Event)

type entry struct {
	coinValue float64
	giftType  string
	giftCount int
	emitted   bool
}

type window struct {
	platform  events.Platform
	userID    string
	username  string
	currency  string
	start     time.Time
	entries   []entry
	aggregate bool // individuals suppressed from some point on
	timer     *time.Timer
}

// Detector accumulates per-user gift windows. All mutation goes through
// its methods; the clock and the window-close scheduling are injectable
// so the suite drives it with a synthetic clock.
type Detector struct {
	mu      sync.Mutex
	cfg     func() config.SpamConfig
	emit    Emit
	now     func() time.Time
	manual  bool // no timers; the owner calls CloseExpiredWindows
	windows map[string]*window
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock injects a clock and disables the internal timers; the caller
// is then responsible for CloseExpiredWindows.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
		d.manual = true
	}
}

// New builds a Detector reading its settings through cfg on every event,
// so config updates apply without rebuild.
func New(cfg func() config.SpamConfig, emit Emit, opts ...Option) *Detector {
	d := &Detector{
		cfg:     cfg,
		emit:    emit,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Process routes a canonical event through spam detection. Non-gift
// events, error notifications and synthetic aggregates pass through
// untouched.
func (d *Detector) Process(ev events.Event) {
	gift := giftOf(&ev)
	cfg := d.cfg()
	if gift == nil || gift.IsAggregated || ev.IsError || !cfg.Enabled {
		d.emit(ev)
		return
	}
	if gift.GiftCount < 1 {
		// construction invariant; belt and braces for error paths
		d.emit(ev)
		return
	}

	d.mu.Lock()
	now := d.now()
	w := d.windows[ev.UserID]
	if w == nil || now.Sub(w.start) >= cfg.DetectionWindow {
		if w != nil {
			d.closeLocked(ev.UserID, w)
		}
		w = &window{
			platform: ev.Platform,
			userID:   ev.UserID,
			username: ev.Username,
			currency: gift.Currency,
			start:    now,
		}
		d.windows[ev.UserID] = w
		if !d.manual {
			userID := ev.UserID
			w.timer = time.AfterFunc(cfg.DetectionWindow, func() { d.closeWindow(userID) })
		}
	}

	coinValue := gift.Amount / float64(gift.GiftCount)
	w.entries = append(w.entries, entry{coinValue: coinValue, giftType: gift.GiftType, giftCount: gift.GiftCount})

	if !w.aggregate {
		if len(w.entries) > cfg.MaxIndividualNotifications || coinValue < cfg.LowValueThreshold {
			w.aggregate = true
		}
	}
	emitNow := !w.aggregate
	if emitNow {
		w.entries[len(w.entries)-1].emitted = true
	}
	d.mu.Unlock()

	if emitNow {
		d.emit(ev)
	} else {
		slog.Debug("gift suppressed pending aggregation",
			slog.String("user", ev.UserID),
			slog.String("giftType", gift.GiftType),
			slog.Int("giftCount", gift.GiftCount))
	}
}

// CloseExpiredWindows closes every window older than the detection window
// and returns how many aggregates were emitted. Used with WithClock.
func (d *Detector) CloseExpiredWindows() int {
	cfg := d.cfg()
	d.mu.Lock()
	now := d.now()
	var due []*window
	for id, w := range d.windows {
		if now.Sub(w.start) >= cfg.DetectionWindow {
			delete(d.windows, id)
			due = append(due, w)
		}
	}
	d.mu.Unlock()

	emitted := 0
	for _, w := range due {
		if d.flush(w) {
			emitted++
		}
	}
	return emitted
}

// Flush force-closes all windows, e.g. on shutdown.
func (d *Detector) Flush() {
	d.mu.Lock()
	ws := make([]*window, 0, len(d.windows))
	for id, w := range d.windows {
		delete(d.windows, id)
		if w.timer != nil {
			w.timer.Stop()
		}
		ws = append(ws, w)
	}
	d.mu.Unlock()
	for _, w := range ws {
		d.flush(w)
	}
}

func (d *Detector) closeWindow(userID string) {
	d.mu.Lock()
	w := d.windows[userID]
	delete(d.windows, userID)
	d.mu.Unlock()
	if w != nil {
		d.flush(w)
	}
}

// closeLocked detaches w for flushing; caller holds the mutex and must
// have removed or be replacing the map entry.
func (d *Detector) closeLocked(userID string, w *window) {
	if w.timer != nil {
		w.timer.Stop()
	}
	go d.flush(w)
}

// flush emits the synthetic aggregate for the window's suppressed entries.
// Returns false when nothing was suppressed.
func (d *Detector) flush(w *window) bool {
	var (
		totalCoins float64
		totalGifts int
		types      []string
		seen       = map[string]bool{}
	)
	for _, e := range w.entries {
		if e.emitted {
			continue
		}
		totalCoins += e.coinValue * float64(e.giftCount)
		totalGifts += e.giftCount
		if !seen[e.giftType] {
			seen[e.giftType] = true
			types = append(types, e.giftType)
		}
	}
	if totalGifts == 0 {
		return false
	}

	now := d.now()
	ev, err := events.NewGift(w.platform,
		fmt.Sprintf("agg-%s-%d", w.userID, w.start.UnixMilli()),
		w.userID, w.username, now,
		events.GiftPayload{
			GiftType:     "Multiple Gifts (" + strings.Join(types, ", ") + ")",
			GiftCount:    totalGifts,
			Amount:       totalCoins,
			Currency:     w.currency,
			IsAggregated: true,
		}, false)
	if err != nil {
		slog.Warn("failed to build aggregated gift", slog.Any("err", err))
		return false
	}
	slog.Info("emitting aggregated gift",
		slog.String("user", w.userID),
		slog.Int("giftCount", totalGifts),
		slog.Float64("amount", totalCoins))
	telemetry.IncGiftsAggregated()
	d.emit(ev)
	return true
}

func giftOf(ev *events.Event) *events.GiftPayload {
	switch {
	case ev.Gift != nil:
		return ev.Gift
	case ev.Envelope != nil:
		return &ev.Envelope.GiftPayload
	}
	return nil
}
