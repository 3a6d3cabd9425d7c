// Package vfx turns monetization events into renderer filter bursts. The
// display queue announces each rendered gift on the command topic; this
// service picks the filter tier for the amount and pulses it.
package vfx

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/queue"
)

// FilterToggler is the renderer subset the service drives.
type FilterToggler interface {
	SetSourceFilterEnabled(ctx context.Context, sourceName, filterName string, enabled bool) error
}

// Service resolves vfx commands against the configured tier table. Pulses
// run on the service's own worker so bus emitters never wait out the hold.
type Service struct {
	cfg      func() config.VFXConfig
	renderer FilterToggler
	sleep    func(ctx context.Context, d time.Duration) bool
	sub      bus.Subscription
	cmds     chan queue.VFXCommand
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithSleep injects the hold timer; tests replace it.
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(s *Service) { s.sleep = sleep }
}

// New builds the service and subscribes it to the command topic.
func New(cfg func() config.VFXConfig, renderer FilterToggler, b *bus.Bus, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		renderer: renderer,
		sleep: func(ctx context.Context, d time.Duration) bool {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(d):
				return true
			}
		},
		cmds: make(chan queue.VFXCommand, 16),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if b != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.worker(ctx)
		s.sub = b.Subscribe(bus.TopicVFXCommand, func(payload any) {
			cmd, ok := payload.(queue.VFXCommand)
			if !ok {
				return
			}
			// never block the emitter; a full backlog drops the effect
			select {
			case s.cmds <- cmd:
			default:
				slog.Debug("vfx command dropped, backlog full")
			}
		})
	}
	return s
}

// worker drains the command channel one pulse at a time.
func (s *Service) worker(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			s.Handle(ctx, cmd)
		}
	}
}

// Close detaches the service from the bus and stops the worker.
func (s *Service) Close() {
	s.sub.Unsubscribe()
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Handle pulses the filter tier matching the event's amount. Renderer
// failures log and return; the show goes on without the effect.
func (s *Service) Handle(ctx context.Context, cmd queue.VFXCommand) {
	cfg := s.cfg()
	if !cfg.Enabled || cfg.SourceName == "" {
		return
	}
	filter := s.FilterFor(cmd.Event.Amount())
	if filter == "" {
		return
	}
	if err := s.renderer.SetSourceFilterEnabled(ctx, cfg.SourceName, filter, true); err != nil {
		slog.Warn("vfx enable failed",
			slog.String("filter", filter),
			slog.Any("err", err))
		return
	}
	s.sleep(ctx, cfg.Duration)
	if err := s.renderer.SetSourceFilterEnabled(ctx, cfg.SourceName, filter, false); err != nil {
		slog.Warn("vfx disable failed",
			slog.String("filter", filter),
			slog.Any("err", err))
	}
}

// FilterFor returns the filter of the highest tier whose threshold the
// amount meets, or "" when no tier applies.
func (s *Service) FilterFor(amount float64) string {
	tiers := append([]config.VFXTier(nil), s.cfg().Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinAmount < tiers[j].MinAmount })
	filter := ""
	for _, t := range tiers {
		if amount >= t.MinAmount {
			filter = t.FilterName
		}
	}
	return filter
}
