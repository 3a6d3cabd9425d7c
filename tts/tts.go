// Package tts plays notification speech through a renderer media input.
// Requests arrive on the speech topic; when speech is disabled the service
// drops them silently.
package tts

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/queue"
)

// MediaRenderer is the renderer subset the service drives.
type MediaRenderer interface {
	SetInputSettings(ctx context.Context, inputName string, settings map[string]any, overlay bool) error
}

// Service resolves speech requests into media input updates. Requests run
// on the service's own worker so bus emitters never wait on renderer RPCs.
type Service struct {
	cfg      func() config.TTSConfig
	enabled  func() bool
	source   func() string
	renderer MediaRenderer
	sub      bus.Subscription
	reqs     chan queue.TTSRequest
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds the service and subscribes it to the speech topic. enabled
// and source read live config so toggling takes effect without restart.
func New(cfg func() config.TTSConfig, enabled func() bool, source func() string, renderer MediaRenderer, b *bus.Bus) *Service {
	s := &Service{
		cfg:      cfg,
		enabled:  enabled,
		source:   source,
		renderer: renderer,
		reqs:     make(chan queue.TTSRequest, 16),
		done:     make(chan struct{}),
	}
	if b != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.worker(ctx)
		s.sub = b.Subscribe(bus.TopicTTSRequested, func(payload any) {
			req, ok := payload.(queue.TTSRequest)
			if !ok {
				return
			}
			// never block the emitter; a full backlog drops the speech
			select {
			case s.reqs <- req:
			default:
				slog.Debug("tts request dropped, backlog full")
			}
		})
	}
	return s
}

// worker drains the request channel one utterance at a time.
func (s *Service) worker(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.reqs:
			s.Handle(ctx, req)
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

// Handle points the media input at the synthesized speech for the request
// text. No-op when speech is disabled or unconfigured.
func (s *Service) Handle(ctx context.Context, req queue.TTSRequest) {
	if !s.enabled() || req.Text == "" {
		return
	}
	cfg := s.cfg()
	source := s.source()
	if cfg.URLTemplate == "" || source == "" {
		return
	}
	mediaURL := fmt.Sprintf(cfg.URLTemplate, url.QueryEscape(req.Text))
	if cfg.Voice != "" {
		mediaURL += "&voice=" + url.QueryEscape(cfg.Voice)
	}
	err := s.renderer.SetInputSettings(ctx, source, map[string]any{
		"input":               mediaURL,
		"is_local_file":       false,
		"restart_on_activate": true,
	}, true)
	if err != nil {
		slog.Warn("tts media update failed", slog.Any("err", err))
	}
}
