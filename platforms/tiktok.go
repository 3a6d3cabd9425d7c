package platforms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/events"
	"github.com/onnwee/streamfx/notify"
)

const (
	tiktokBackoffBase = 2 * time.Second
	tiktokBackoffMax  = 60 * time.Second
	tiktokBackoffMult = 1.3
)

// bridgeFrame is one JSON frame from the local webcast bridge. The bridge
// flattens the webcast protobufs into a small envelope keyed by type.
type bridgeFrame struct {
	Type         string          `json:"type"`
	MsgID        string          `json:"msgId"`
	UserID       string          `json:"userId"`
	UniqueID     string          `json:"uniqueId"`
	Nickname     string          `json:"nickname"`
	Comment      string          `json:"comment"`
	GiftName     string          `json:"giftName"`
	DiamondCount float64         `json:"diamondCount"`
	RepeatCount  int             `json:"repeatCount"`
	RepeatEnd    bool            `json:"repeatEnd"`
	Streakable   bool            `json:"streakable"`
	Coins        float64         `json:"coins"`
	CreateTime   int64           `json:"createTime"`
	EnvelopeData json.RawMessage `json:"envelopeData,omitempty"`

	// synthesizedTS is set when the frame carried no timestamp.
	synthesizedTS time.Time
}

// TikTok consumes the webcast bridge feed over a WebSocket and maps its
// chat, gift, envelope, follow and share frames onto the notification
// processor. The bridge owns the upstream TikTok session; this adapter
// only reconnects to the bridge.
type TikTok struct {
	cfg       config.TikTokConfig
	bus       *bus.Bus
	lifecycle *Lifecycle
	processor *notify.Processor
	dialer    *websocket.Dialer
	now       func() time.Time
}

// TikTokOption configures the adapter.
type TikTokOption func(*TikTok)

// WithTikTokClock injects a clock.
func WithTikTokClock(now func() time.Time) TikTokOption {
	return func(t *TikTok) { t.now = now }
}

// NewTikTok builds the bridge consumer.
func NewTikTok(cfg config.TikTokConfig, b *bus.Bus, lc *Lifecycle, proc *notify.Processor, opts ...TikTokOption) *TikTok {
	t := &TikTok{
		cfg:       cfg,
		bus:       b,
		lifecycle: lc,
		processor: proc,
		dialer:    websocket.DefaultDialer,
		now:       time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Run connects to the bridge and consumes frames until the context is
// cancelled, reconnecting with exponential backoff on any failure.
func (t *TikTok) Run(ctx context.Context) error {
	backoff := tiktokBackoffBase
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := t.consumeOnce(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("bridge connection lost; reconnecting",
			slog.Any("err", err),
			slog.Duration("backoff", backoff))
		if t.bus != nil {
			t.bus.Emit(bus.TopicPlatformError, err)
		}
		if !sleepCtx(ctx, backoff) {
			return ctx.Err()
		}
		backoff = time.Duration(float64(backoff) * tiktokBackoffMult)
		if backoff > tiktokBackoffMax {
			backoff = tiktokBackoffMax
		}
	}
}

func (t *TikTok) consumeOnce(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	defer conn.Close()

	if t.lifecycle != nil {
		t.lifecycle.RecordConnect(events.PlatformTikTok)
	}
	if t.bus != nil {
		t.bus.Emit(bus.TopicTikTokConnected, t.cfg.Username)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		var f bridgeFrame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("malformed bridge frame", slog.Any("err", err))
			continue
		}
		t.handleFrame(f)
	}
}

func (t *TikTok) handleFrame(f bridgeFrame) {
	if f.CreateTime == 0 {
		f.synthesizedTS = t.now().UTC()
	}
	if f.MsgID == "" {
		f.MsgID = fmt.Sprintf("tiktok-%s-%s-%d", f.Type, f.UserID, t.now().UnixMilli())
	}

	switch f.Type {
	case "chat":
		if t.lifecycle != nil && f.CreateTime != 0 &&
			t.lifecycle.ShouldSkipForConnection(events.PlatformTikTok, f.CreateTime) {
			return
		}
		t.processor.ProcessNotification(f, events.TypeChat, nil)
	case "gift":
		// Streakable gifts repeat while held; only the final frame of a
		// streak carries the full count.
		if f.Streakable && !f.RepeatEnd {
			return
		}
		count := f.RepeatCount
		if count < 1 {
			count = 1
		}
		t.processor.ProcessNotification(f, events.TypeGift, &notify.EventData{
			Gift: &events.GiftPayload{
				GiftType:    f.GiftName,
				GiftCount:   count,
				Amount:      f.DiamondCount * float64(count),
				Currency:    "coins",
				RepeatCount: f.RepeatCount,
			},
		})
	case "envelope":
		t.processor.ProcessNotification(f, events.TypeEnvelope, &notify.EventData{
			Envelope: &events.EnvelopePayload{
				GiftPayload: events.GiftPayload{
					GiftType:  "Treasure Chest",
					GiftCount: 1,
					Amount:    f.Coins,
					Currency:  "coins",
				},
				OriginalEnvelopeData: f.EnvelopeData,
			},
		})
	case "follow":
		t.processor.ProcessNotification(f, events.TypeFollow, nil)
	case "share":
		// Shares surface as plain chat lines rather than notifications.
		f.Comment = "shared the stream"
		t.processor.ProcessNotification(f, events.TypeChat, nil)
	default:
		slog.Debug("unhandled bridge frame", slog.String("type", f.Type))
	}
}

// tiktokExtractor adapts bridge frames to the processor.
type tiktokExtractor struct{}

// NewTikTokProcessor builds the notification processor for the bridge
// consumer.
func NewTikTokProcessor(b *bus.Bus, opts ...notify.Option) *notify.Processor {
	return notify.NewProcessor(events.PlatformTikTok, tiktokExtractor{}, b, opts...)
}

func (tiktokExtractor) ExtractAuthor(raw any) (notify.Author, bool) {
	f, ok := raw.(bridgeFrame)
	if !ok || f.UserID == "" {
		return notify.Author{}, false
	}
	name := f.Nickname
	if name == "" {
		name = f.UniqueID
	}
	return notify.Author{ID: f.UserID, Name: name}, true
}

func (tiktokExtractor) ExtractMessage(raw any) string {
	f, ok := raw.(bridgeFrame)
	if !ok {
		return ""
	}
	return f.Comment
}

func (tiktokExtractor) ExtractID(raw any) string {
	f, ok := raw.(bridgeFrame)
	if !ok {
		return ""
	}
	return f.MsgID
}

func (tiktokExtractor) ExtractTimestamp(raw any) any {
	f, ok := raw.(bridgeFrame)
	if !ok {
		return nil
	}
	if f.CreateTime != 0 {
		return f.CreateTime
	}
	return f.synthesizedTS
}

func (tiktokExtractor) IsAnonymous(notify.Author) bool { return false }
