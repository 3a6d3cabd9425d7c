// Package bus implements the in-process pub/sub backbone. Emission fans
// out synchronously on the caller's goroutine in subscription order; a
// panicking handler is logged and isolated so the remaining handlers still
// run. Components communicate exclusively through topics, which keeps the
// wiring acyclic: services emit, the runtime subscribes.
package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Topic names shared across the system.
const (
	TopicSystemReady      = "system:ready"
	TopicSystemShutdown   = "system:shutdown"
	TopicRestartRequested = "service:restart-requested"
	TopicVFXCommand       = "vfx:command"
	TopicTTSRequested     = "tts:speech-requested"
	TopicStreamDetected   = "stream:detected"
	TopicConfigChanged    = "config:changed"
	TopicGoalProgress     = "goal:progress"
	TopicPlatformError    = "platform:error"
	TopicEvent            = "event" // canonical events from the notification processor

	TopicTwitchConnected  = "twitch:connected"
	TopicTikTokConnected  = "tiktok:connected"
	TopicYouTubeConnected = "youtube:connected"
)

// DefaultMaxListeners is the per-topic subscription count beyond which the
// bus warns (it never refuses).
const DefaultMaxListeners = 100

// Handler receives the emitted payload. Handlers run synchronously; they
// must not block on renderer or network calls.
type Handler func(payload any)

// Message wraps a correlated emission so handlers see the correlation ID
// alongside the payload. Emit delivers plain payloads as-is;
// EmitCorrelated always delivers a Message.
type Message struct {
	Topic         string
	CorrelationID string
	Payload       any
}

type subscription struct {
	id      uint64
	topic   string
	handler Handler
}

// Subscription identifies a registered handler for later removal.
type Subscription struct {
	bus *Bus
	id  uint64
}

// Unsubscribe removes the handler; safe to call twice.
func (s Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.unsubscribe(s.id)
	}
}

// Bus is a single-process event bus with stable subscription order.
type Bus struct {
	mu           sync.Mutex
	nextID       uint64
	subs         map[string][]*subscription
	maxListeners int
	log          *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithMaxListeners overrides the warn threshold.
func WithMaxListeners(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxListeners = n
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// New returns an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:         make(map[string][]*subscription),
		maxListeners: DefaultMaxListeners,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers handler for topic and returns its Subscription.
// Handlers fire in subscription order.
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{id: b.nextID, topic: topic, handler: handler}
	b.subs[topic] = append(b.subs[topic], sub)
	if n := len(b.subs[topic]); n > b.maxListeners {
		b.log.Warn("possible listener leak", slog.String("topic", topic), slog.Int("listeners", n), slog.Int("max", b.maxListeners))
	}
	return Subscription{bus: b, id: sub.id}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers payload to every handler subscribed to topic, in order.
// Handler panics are recovered and logged; no handler observes another's
// failure.
func (b *Bus) Emit(topic string, payload any) {
	b.emit(topic, payload, "")
}

// EmitCorrelated is Emit with a correlation ID (an empty id gets a fresh
// one): the payload is wrapped in a Message carrying the id so handlers
// can thread it through.
func (b *Bus) EmitCorrelated(topic string, payload any, correlationID string) {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	msg, ok := payload.(Message)
	if !ok {
		msg = Message{Topic: topic, Payload: payload}
	}
	msg.CorrelationID = correlationID
	if msg.Topic == "" {
		msg.Topic = topic
	}
	b.emit(topic, msg, correlationID)
}

func (b *Bus) emit(topic string, payload any, correlationID string) {
	b.mu.Lock()
	subs := make([]*subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	for _, s := range subs {
		b.dispatch(topic, correlationID, s, payload)
	}
}

func (b *Bus) dispatch(topic, corr string, s *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				slog.String("topic", topic),
				slog.String("corr", corr),
				slog.Any("panic", r))
		}
	}()
	s.handler(payload)
}

// ListenerCount returns the number of handlers for topic.
func (b *Bus) ListenerCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Close drops all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]*subscription)
}
