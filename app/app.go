// Package app owns construction order and lifetime of every service: bus,
// config, renderer client, lifecycle, queue, notification pipeline, goal
// and spam services, platform adapters and the HTTP surface. Shutdown is
// cooperative with a forced-exit safety timer.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/commands"
	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/events"
	"github.com/onnwee/streamfx/goals"
	"github.com/onnwee/streamfx/notify"
	"github.com/onnwee/streamfx/obs"
	"github.com/onnwee/streamfx/platforms"
	"github.com/onnwee/streamfx/queue"
	"github.com/onnwee/streamfx/server"
	"github.com/onnwee/streamfx/spam"
	"github.com/onnwee/streamfx/telemetry"
	"github.com/onnwee/streamfx/tokenstore"
	"github.com/onnwee/streamfx/tts"
	"github.com/onnwee/streamfx/twitchauth"
	"github.com/onnwee/streamfx/vfx"
)

// forcedExitDelay bounds how long a cooperative shutdown may take.
const forcedExitDelay = 2 * time.Second

// maintenanceInterval paces the cooldown GC when graceful exit is off.
const maintenanceInterval = time.Hour

// ShutdownNotice is the payload emitted on system:shutdown.
type ShutdownNotice struct {
	Reason string `json:"reason"`
}

// App is the composed runtime.
type App struct {
	cfg       *config.Service
	bus       *bus.Bus
	renderer  *obs.Client
	lifecycle *platforms.Lifecycle
	queue     *queue.DisplayQueue
	goals     *goals.Tracker
	spam      *spam.Detector
	commands  *commands.Parser
	vfx       *vfx.Service
	tts       *tts.Service
	users     *notify.UserTracker

	twitchAuth *twitchauth.Manager
	twitch     *platforms.Twitch
	youtube    *platforms.YouTube
	tiktok     *platforms.TikTok

	startedAt    time.Time
	chatRendered atomic.Int64
	startupOnly  bool
	noMessages   bool
	echo         io.Writer

	cancel   context.CancelFunc
	stopOnce sync.Once
	exit     func(code int)
	wg       sync.WaitGroup
}

// Option configures the App.
type Option func(*App)

// WithExiter replaces os.Exit; tests capture the code instead.
func WithExiter(exit func(code int)) Option {
	return func(a *App) { a.exit = exit }
}

// WithStartupOnly makes Run return right after system:ready.
func WithStartupOnly() Option {
	return func(a *App) { a.startupOnly = true }
}

// WithoutMessages suppresses the console echo of chat messages; they
// still render on the overlay.
func WithoutMessages() Option {
	return func(a *App) { a.noMessages = true }
}

// WithChatEcho redirects the console chat echo; tests capture it.
func WithChatEcho(w io.Writer) Option {
	return func(a *App) { a.echo = w }
}

// New wires every service in dependency order.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		startedAt: time.Now(),
		exit:      os.Exit,
		echo:      os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}

	telemetry.Init()

	a.bus = bus.New()
	a.cfg = config.NewService(cfg, a.bus)
	a.users = notify.NewUserTracker()

	a.renderer = obs.NewClient(obs.OptionsFromConfig(&cfg.OBS))
	a.lifecycle = platforms.NewLifecycle(a.bus, func() bool {
		return a.cfg.Get().General.FilterOldMessages
	})

	a.goals = goals.New(cfg.Goals.Enabled, cfg.Goals.Targets, a.bus)
	a.queue = queue.New(cfg.OBS, cfg.Timing, a.renderer, a.goals, a.bus,
		queue.WithTTSToggle(func() bool { return a.cfg.Get().General.TTSEnabled }),
		queue.WithChatRenderedHook(a.onChatRendered),
	)

	a.spam = spam.New(
		func() config.SpamConfig { return a.cfg.Get().Spam },
		a.routeToQueue,
	)

	a.commands = commands.New(cfg.Commands.Prefixes, commands.Settings{
		UserCooldown:          cfg.General.CmdCooldown,
		GlobalCooldown:        cfg.General.GlobalCmdCooldown,
		HeavyCommandThreshold: cfg.General.HeavyCommandThreshold,
		HeavyCommandWindow:    cfg.General.HeavyCommandWindow,
		HeavyCommandCooldown:  cfg.General.HeavyCommandCooldown,
	})

	a.vfx = vfx.New(func() config.VFXConfig { return a.cfg.Get().VFX }, a.renderer, a.bus)
	a.tts = tts.New(
		func() config.TTSConfig { return a.cfg.Get().TTS },
		func() bool { return a.cfg.Get().General.TTSEnabled },
		func() string { return a.cfg.Get().OBS.TTSMediaSource },
		a.renderer, a.bus,
	)

	if err := a.buildAdapters(cfg); err != nil {
		return nil, err
	}

	a.bus.Subscribe(bus.TopicEvent, func(payload any) {
		ev, ok := payload.(events.Event)
		if !ok {
			return
		}
		a.routeEvent(ev)
	})

	return a, nil
}

func (a *App) buildAdapters(cfg *config.Config) error {
	if cfg.Twitch.Enabled {
		a.twitchAuth = twitchauth.NewManager(twitchauth.Credentials{
			ClientID:     cfg.Twitch.ClientID,
			ClientSecret: cfg.Twitch.ClientSecret,
			RedirectURI:  cfg.Twitch.RedirectURI,
		}, tokenstore.New(cfg.Twitch.TokenFile), twitchauth.WithAuthRequiredHook(func(authURL string) {
			slog.Warn("twitch authorization required; open the URL to continue",
				slog.String("url", authURL))
		}))
	}
	if cfg.YouTube.Enabled {
		proc := platforms.NewYouTubeProcessor(a.bus,
			notify.WithGreetings(a.users, func() bool {
				return a.cfg.Get().YouTube.GreetingsEnabled
			}))
		a.youtube = platforms.NewYouTube(cfg.YouTube, tokenstore.New(cfg.YouTube.TokenFile),
			a.bus, a.lifecycle, proc)
	}
	if cfg.TikTok.Enabled {
		proc := platforms.NewTikTokProcessor(a.bus,
			notify.WithGreetings(a.users, func() bool {
				return a.cfg.Get().TikTok.GreetingsEnabled
			}))
		a.tiktok = platforms.NewTikTok(cfg.TikTok, a.bus, a.lifecycle, proc)
	}
	return nil
}

// routeEvent is the single dispatch point between the notification
// pipeline and the queue. Gifts pass through the spam detector; chat may
// carry a command; everything else display-routes directly.
func (a *App) routeEvent(ev events.Event) {
	cfg := a.cfg.Get()

	switch ev.Type {
	case events.TypeGift, events.TypeEnvelope:
		if !cfg.Platform(string(ev.Platform)).GiftsEnabled {
			telemetry.EventsSuppressed.WithLabelValues(string(ev.Platform)).Inc()
			return
		}
	case events.TypeChat:
		if cmd, ok := a.commands.Parse(ev.Message); ok {
			a.handleCommand(ev, cmd)
		}
		if !a.noMessages {
			fmt.Fprintf(a.echo, "[%s] %s: %s\n", ev.Platform, ev.Username, ev.Message)
		}
	}
	a.spam.Process(ev)
}

// routeToQueue is the spam detector's sink: whatever survives
// aggregation is displayed.
func (a *App) routeToQueue(ev events.Event) {
	telemetry.EventsProcessed.WithLabelValues(string(ev.Platform), string(ev.Type)).Inc()
	a.queue.Enqueue(ev)
}

func (a *App) handleCommand(ev events.Event, cmd commands.Command) {
	if !a.commands.Allow(ev.UserID, cmd.Name) {
		telemetry.CommandsRejected.Inc()
		return
	}
	reply := a.builtinReply(ev, cmd)
	if reply == "" {
		return
	}
	if ev.Platform == events.PlatformTwitch && a.twitch != nil {
		a.twitch.Say(reply)
	}
}

// builtinReply answers the built-in chat commands.
func (a *App) builtinReply(ev events.Event, cmd commands.Command) string {
	switch cmd.Name {
	case "goal":
		progress, ok := a.goals.Snapshot(ev.Platform)
		if !ok {
			return ""
		}
		return fmt.Sprintf("@%s goal progress: %s", ev.Username, progress.Formatted)
	case "uptime":
		up := time.Since(a.startedAt).Round(time.Second)
		return fmt.Sprintf("@%s bot has been up for %s", ev.Username, up)
	}
	return ""
}

// onChatRendered counts rendered chat messages for graceful exit. The
// hook runs on the queue worker, and Shutdown waits for that worker, so
// the teardown must run on its own goroutine.
func (a *App) onChatRendered() {
	n := a.chatRendered.Add(1)
	ge := a.cfg.Get().General.GracefulExit
	if ge.Enabled && n >= int64(ge.MessageCount) {
		slog.Info("graceful exit target reached", slog.Int64("rendered", n))
		go a.Shutdown("graceful-exit")
	}
}

// Run starts every service and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()

	a.renderer.Start(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.queue.Run(ctx)
	}()

	if a.twitchAuth != nil {
		a.startTwitch(ctx)
	}
	if a.youtube != nil {
		a.runAdapter(ctx, "youtube", a.youtube.Run)
	}
	if a.tiktok != nil {
		a.runAdapter(ctx, "tiktok", a.tiktok.Run)
	}

	cfg := a.cfg.Get()
	if cfg.HTTPAddr != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			_ = server.Start(ctx, cfg.HTTPAddr, a.serverDeps())
		}()
	}

	a.bus.Emit(bus.TopicSystemReady, a.services())
	slog.Info("system ready", slog.Int("queueDepth", a.queue.Len()))

	if a.startupOnly {
		a.Shutdown("startup-only")
		a.wg.Wait()
		return nil
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.maintenanceLoop(ctx)
	}()

	<-ctx.Done()
	a.spam.Flush()
	a.queue.Wait()
	a.wg.Wait()
	return nil
}

// startTwitch initializes auth then launches the IRC adapter; an auth
// failure leaves the adapter off but the rest of the system running.
func (a *App) startTwitch(ctx context.Context) {
	if err := a.twitchAuth.Initialize(ctx); err != nil {
		slog.Error("twitch auth init failed; chat adapter disabled", slog.Any("err", err))
		return
	}
	provider, err := a.twitchAuth.AuthProvider()
	if err != nil {
		slog.Error("twitch auth provider unavailable", slog.Any("err", err))
		return
	}
	a.twitchAuth.StartRefresher(ctx, 5*time.Minute, 15*time.Minute)

	cfg := a.cfg.Get()
	proc := platforms.NewTwitchProcessor(a.bus,
		notify.WithGreetings(a.users, func() bool {
			return a.cfg.Get().Twitch.GreetingsEnabled
		}))
	a.twitch = platforms.NewTwitch(cfg.Twitch, provider, a.bus, a.lifecycle, proc)
	a.runAdapter(ctx, "twitch", a.twitch.Run)
}

func (a *App) runAdapter(ctx context.Context, name string, run func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("platform adapter stopped", slog.String("platform", name), slog.Any("err", err))
		}
	}()
}

// maintenanceLoop GCs expired cooldown state on a jittered hourly tick.
func (a *App) maintenanceLoop(ctx context.Context) {
	for {
		//nolint:gosec // G404: jitter scheduling only
		jitter := time.Duration(rand.Int63n(int64(maintenanceInterval / 10)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(maintenanceInterval + jitter):
		}
		cleared := a.commands.ClearExpiredGlobalCooldowns(maintenanceInterval)
		cleared += a.commands.ClearExpiredUserStates(maintenanceInterval)
		if cleared > 0 {
			slog.Debug("maintenance sweep", slog.Int("clearedCooldowns", cleared))
		}
	}
}

// Shutdown runs the cooperative teardown once: announce, flush, cancel,
// and arm the forced-exit timer.
func (a *App) Shutdown(reason string) {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", slog.String("reason", reason))
		a.bus.Emit(bus.TopicSystemShutdown, ShutdownNotice{Reason: reason})

		timer := time.AfterFunc(forcedExitDelay, func() {
			slog.Warn("forced exit after shutdown timeout")
			a.exit(0)
		})

		if a.cancel != nil {
			a.cancel()
		}
		a.spam.Flush()
		a.queue.Wait()
		a.vfx.Close()
		a.tts.Close()
		a.renderer.Close()
		a.bus.Close()
		timer.Stop()
	})
}

// services names every running component for the ready notice.
func (a *App) services() map[string]any {
	s := map[string]any{
		"bus":       a.bus,
		"config":    a.cfg,
		"renderer":  a.renderer,
		"lifecycle": a.lifecycle,
		"queue":     a.queue,
		"goals":     a.goals,
		"spam":      a.spam,
		"commands":  a.commands,
		"vfx":       a.vfx,
		"tts":       a.tts,
	}
	if a.twitchAuth != nil {
		s["twitchAuth"] = a.twitchAuth
	}
	if a.youtube != nil {
		s["youtube"] = a.youtube
	}
	if a.tiktok != nil {
		s["tiktok"] = a.tiktok
	}
	return s
}

func (a *App) serverDeps() server.Deps {
	deps := server.Deps{
		QueueDepth:    a.queue.Len,
		RendererState: func() string { return strings.ToLower(a.renderer.State().String()) },
		Uptime:        func() time.Duration { return time.Since(a.startedAt) },
		Connections: func() map[string]time.Time {
			conns := map[string]time.Time{}
			for _, p := range []events.Platform{events.PlatformTwitch, events.PlatformYouTube, events.PlatformTikTok} {
				if at, ok := a.lifecycle.ConnectionTime(p); ok {
					conns[string(p)] = at
				}
			}
			return conns
		},
	}
	if a.twitchAuth != nil {
		deps.AuthState = func() string { return a.twitchAuth.State().String() }
		deps.TwitchAuthStart = func() (string, error) { return a.twitchAuth.AuthorizeURL("") }
		deps.TwitchAuthComplete = a.twitchAuth.CompleteAuthorization
	}
	if a.youtube != nil {
		deps.YouTubeAuthStart = func() string { return a.youtube.AuthCodeURL("") }
		deps.YouTubeAuthComplete = a.youtube.Exchange
	}
	return deps
}
