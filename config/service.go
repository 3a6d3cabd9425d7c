package config

import (
	"log/slog"
	"sync"

	"github.com/onnwee/streamfx/bus"
)

// Service wraps a Config with concurrency-safe read access and publishes
// config:changed when the tree is swapped at runtime.
type Service struct {
	mu  sync.RWMutex
	cfg *Config
	bus *bus.Bus
}

// NewService wraps cfg; b may be nil in tests.
func NewService(cfg *Config, b *bus.Bus) *Service {
	return &Service{cfg: cfg, bus: b}
}

// Get returns the current config snapshot.
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update validates and installs a new config, then emits config:changed
// with the new snapshot.
func (s *Service) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	slog.Info("configuration updated")
	if s.bus != nil {
		s.bus.Emit(bus.TopicConfigChanged, cfg)
	}
	return nil
}
