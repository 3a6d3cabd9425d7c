// Package commands parses chat text into commands and enforces the three
// cooldown layers: per-user, heavy-command rate, and global per-command.
// All state is owned by the Parser and mutated only through its API; the
// clock is injectable so the suites run on a synthetic clock.
package commands

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Settings are the cooldown knobs, normally sourced from
// general.cmdCooldownMs and friends.
type Settings struct {
	UserCooldown          time.Duration
	GlobalCooldown        time.Duration
	HeavyCommandThreshold int
	HeavyCommandWindow    time.Duration
	HeavyCommandCooldown  time.Duration
}

// Command is a parsed chat command.
type Command struct {
	Name string
	Args []string
}

type userState struct {
	lastCommand      time.Time
	lastHeavyCommand time.Time
	recentHeavyCount int
	windowStart      time.Time
}

// Parser owns the cooldown bookkeeping for all users and commands.
type Parser struct {
	mu       sync.Mutex
	prefixes []string
	settings Settings
	now      func() time.Time

	global map[string]time.Time // command name -> last execution
	users  map[string]*userState
	heavy  map[string]bool // command names with the stricter budget
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock injects a clock; tests use a synthetic one.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// WithHeavyCommands marks command names subject to the heavy budget.
func WithHeavyCommands(names ...string) Option {
	return func(p *Parser) {
		for _, n := range names {
			p.heavy[n] = true
		}
	}
}

// New returns a Parser for the given prefixes and cooldown settings.
func New(prefixes []string, settings Settings, opts ...Option) *Parser {
	p := &Parser{
		prefixes: prefixes,
		settings: settings,
		now:      time.Now,
		global:   make(map[string]time.Time),
		users:    make(map[string]*userState),
		heavy:    make(map[string]bool),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse extracts a command from chat text. Command names are
// case-sensitive and may contain any non-whitespace characters.
func (p *Parser) Parse(text string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, false
	}
	for _, prefix := range p.prefixes {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(fields[0], prefix) {
			name := strings.TrimPrefix(fields[0], prefix)
			if name == "" {
				return Command{}, false
			}
			return Command{Name: name, Args: fields[1:]}, true
		}
	}
	return Command{}, false
}

// Allow runs the full admission pipeline for a user invoking name. It
// mutates cooldown state only when the invocation is accepted. An empty
// name is allowed without touching any state.
func (p *Parser) Allow(userID, name string) bool {
	if name == "" {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()

	u := p.users[userID]
	if u == nil {
		u = &userState{}
		p.users[userID] = u
	}

	// 1. per-user cooldown
	if onCooldown(now, u.lastCommand, p.settings.UserCooldown) {
		slog.Debug("command rejected: user cooldown", slog.String("user", userID), slog.String("command", name))
		return false
	}

	// 2. heavy-command rate
	isHeavy := p.heavy[name]
	if isHeavy {
		if onCooldown(now, u.lastHeavyCommand, p.settings.HeavyCommandCooldown) {
			slog.Debug("command rejected: heavy cooldown", slog.String("user", userID), slog.String("command", name))
			return false
		}
		if p.settings.HeavyCommandWindow > 0 && now.Sub(u.windowStart) > p.settings.HeavyCommandWindow {
			u.recentHeavyCount = 0
			u.windowStart = now
		}
		if p.settings.HeavyCommandThreshold > 0 && u.recentHeavyCount >= p.settings.HeavyCommandThreshold {
			slog.Debug("command rejected: heavy rate", slog.String("user", userID), slog.String("command", name))
			return false
		}
	}

	// 3. global per-command cooldown
	if onCooldown(now, p.global[name], p.settings.GlobalCooldown) {
		slog.Debug("command rejected: global cooldown", slog.String("command", name))
		return false
	}

	// accepted: update state
	u.lastCommand = now
	if isHeavy {
		if u.recentHeavyCount == 0 {
			u.windowStart = now
		}
		u.recentHeavyCount++
		if u.recentHeavyCount >= p.settings.HeavyCommandThreshold && p.settings.HeavyCommandThreshold > 0 {
			u.lastHeavyCommand = now
		}
	}
	p.global[name] = now
	return true
}

// onCooldown treats zero or negative cooldowns as "never on cooldown".
func onCooldown(now, last time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 || last.IsZero() {
		return false
	}
	return now.Sub(last) < cooldown
}

// UpdateGlobalCommandCooldown records an execution of name at the current
// clock. Empty names are ignored.
func (p *Parser) UpdateGlobalCommandCooldown(name string) {
	if name == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.global[name] = p.now()
}

// OnGlobalCooldown reports whether name is still inside cooldown.
func (p *Parser) OnGlobalCooldown(name string, cooldown time.Duration) bool {
	if name == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return onCooldown(p.now(), p.global[name], cooldown)
}

// ClearExpiredGlobalCooldowns drops global entries whose age is at least
// maxAge and returns the number removed. Entries still inside an active
// cooldown are never touched because an active cooldown is by definition
// younger than any sane maxAge; callers pass maxAge well above the
// configured cooldowns (default: hourly GC with one-hour maxAge).
func (p *Parser) ClearExpiredGlobalCooldowns(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	removed := 0
	for name, last := range p.global {
		if now.Sub(last) >= maxAge {
			delete(p.global, name)
			removed++
		}
	}
	return removed
}

// ClearExpiredUserStates drops per-user entries idle for at least maxAge
// and returns the number removed.
func (p *Parser) ClearExpiredUserStates(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	removed := 0
	for id, u := range p.users {
		if now.Sub(u.lastCommand) >= maxAge {
			delete(p.users, id)
			removed++
		}
	}
	return removed
}
