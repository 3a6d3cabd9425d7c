// Package notify normalizes raw platform chat items into canonical
// events. Suppression happens here and only here: an event that leaves
// the processor is well-formed and safe for every downstream stage.
package notify

import (
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/events"
)

// EventData carries the type-specific payload the adapter already parsed
// from its SDK types; the processor validates and attaches it.
type EventData struct {
	Gift       *events.GiftPayload
	Envelope   *events.EnvelopePayload
	Sub        *events.SubPayload
	GiftSub    *events.GiftSubPayload
	Raid       *events.RaidPayload
	Redemption *events.RedemptionPayload
	IsError    bool
}

// Handler consumes a canonical event of one type.
type Handler func(events.Event)

// ErrorDispatcher is invoked for monetization items that fail field
// validation, so the stream still shows something went wrong.
type ErrorDispatcher func(raw any, eventType events.Type, reason string)

// Processor is the unified notification processor shared by all three
// platforms; only the Extractor differs per platform.
type Processor struct {
	platform      events.Platform
	extractor     Extractor
	bus           *bus.Bus
	handlers      map[events.Type]Handler
	dispatchError ErrorDispatcher
	users         *UserTracker
	greetings     func() bool // greetings enabled for this platform
	now           func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithHandler registers the per-type handler invoked after the bus emit.
func WithHandler(t events.Type, h Handler) Option {
	return func(p *Processor) { p.handlers[t] = h }
}

// WithErrorDispatcher installs the malformed-monetization hook.
func WithErrorDispatcher(d ErrorDispatcher) Option {
	return func(p *Processor) { p.dispatchError = d }
}

// WithGreetings enables first-message greetings behind the given toggle.
func WithGreetings(users *UserTracker, enabled func() bool) Option {
	return func(p *Processor) {
		p.users = users
		p.greetings = enabled
	}
}

// WithClock injects a clock.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor builds a processor for one platform.
func NewProcessor(platform events.Platform, ex Extractor, b *bus.Bus, opts ...Option) *Processor {
	p := &Processor{
		platform:  platform,
		extractor: ex,
		bus:       b,
		handlers:  make(map[events.Type]Handler),
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ProcessNotification normalizes one raw item. Suppressed or malformed
// items return without emitting; valid ones go out on the bus event topic
// and to the registered per-type handler.
func (p *Processor) ProcessNotification(raw any, eventType events.Type, data *EventData) {
	author, ok := p.extractor.ExtractAuthor(raw)
	if SuppressAuthor(author, ok) || p.extractor.IsAnonymous(author) {
		slog.Debug("suppressed notification: anonymous or missing author",
			slog.String("platform", string(p.platform)),
			slog.String("type", string(eventType)))
		return
	}

	message := p.extractor.ExtractMessage(raw)
	id := p.extractor.ExtractID(raw)

	ts, tsErr := events.ParseTimestamp(p.extractor.ExtractTimestamp(raw))
	if tsErr != nil {
		p.reject(raw, eventType, data, "unparseable timestamp: "+tsErr.Error())
		return
	}
	if author.ID == "" {
		p.reject(raw, eventType, data, "missing userId")
		return
	}
	if strings.TrimSpace(author.Name) == "" {
		p.reject(raw, eventType, data, "missing username")
		return
	}

	ev, err := p.build(eventType, id, author, message, ts, data)
	if err != nil {
		p.reject(raw, eventType, data, err.Error())
		return
	}

	p.emit(ev)

	// First message from a user may additionally produce a greeting.
	if eventType == events.TypeChat && p.users != nil && p.greetings != nil && p.greetings() {
		if p.users.IsFirstMessage(author.ID) {
			greet, gerr := events.New(p.platform, events.TypeGreeting, id, author.ID, author.Name, "", ts)
			if gerr == nil {
				p.emit(greet)
			}
		}
	}
}

func (p *Processor) build(eventType events.Type, id string, author Author, message string, ts time.Time, data *EventData) (events.Event, error) {
	if data == nil {
		data = &EventData{}
	}
	switch eventType {
	case events.TypeGift:
		if data.Gift == nil {
			data.Gift = &events.GiftPayload{}
		}
		return events.NewGift(p.platform, id, author.ID, author.Name, ts, *data.Gift, data.IsError)
	case events.TypeEnvelope:
		if data.Envelope == nil {
			data.Envelope = &events.EnvelopePayload{}
		}
		return events.NewEnvelope(p.platform, id, author.ID, author.Name, ts, *data.Envelope, data.IsError)
	case events.TypeSub:
		if data.Sub == nil {
			data.Sub = &events.SubPayload{}
		}
		return events.NewSub(p.platform, id, author.ID, author.Name, ts, *data.Sub)
	case events.TypeGiftSub:
		if data.GiftSub == nil {
			data.GiftSub = &events.GiftSubPayload{}
		}
		return events.NewGiftSub(p.platform, id, author.ID, author.Name, ts, *data.GiftSub)
	case events.TypeRaid:
		var viewers int
		if data.Raid != nil {
			viewers = data.Raid.ViewerCount
		}
		return events.NewRaid(p.platform, id, author.ID, author.Name, ts, viewers)
	case events.TypeRedemption:
		if data.Redemption == nil {
			data.Redemption = &events.RedemptionPayload{}
		}
		return events.NewRedemption(p.platform, id, author.ID, author.Name, ts, *data.Redemption)
	default:
		return events.New(p.platform, eventType, id, author.ID, author.Name, message, ts)
	}
}

func (p *Processor) emit(ev events.Event) {
	if p.bus != nil {
		p.bus.Emit(bus.TopicEvent, ev)
	}
	if h := p.handlers[ev.Type]; h != nil {
		h(ev)
	}
}

// reject logs a malformed item and, for monetization types, invokes the
// error dispatcher so the failure is still visible on stream.
func (p *Processor) reject(raw any, eventType events.Type, data *EventData, reason string) {
	slog.Warn("suppressed malformed notification",
		slog.String("platform", string(p.platform)),
		slog.String("type", string(eventType)),
		slog.String("reason", reason))
	if p.dispatchError != nil && isMonetization(eventType) {
		p.dispatchError(raw, eventType, reason)
	}
}

func isMonetization(t events.Type) bool {
	switch t {
	case events.TypeGift, events.TypeEnvelope, events.TypeSub, events.TypeGiftSub:
		return true
	}
	return false
}
