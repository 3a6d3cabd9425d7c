// Command streamfx is the live-stream chat bot: it consumes TikTok,
// Twitch and YouTube events, normalizes them into one schema, and drives
// an OBS overlay through obs-websocket. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to the renderer and the enabled platform adapters.
//   - Runs the display queue, goal tracker, spam aggregator and commands.
//   - Exposes a minimal HTTP server with /healthz, /status, /metrics and
//     the OAuth callback endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/onnwee/streamfx/app"
	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/telemetry"
)

const usage = `usage: streamfx [flags]

Flags:
  --no-msg            suppress the console echo of chat messages
  --debug             enable debug behavior and debug logging
  --log-level LEVEL   one of debug, info, warn, error
  --chat N            exit gracefully after N rendered chat messages
  -h, --help          show this help

Environment:
  CHAT_BOT_CONFIG_PATH    config file path override
  CHAT_BOT_STARTUP_ONLY   "true" starts every service then exits cleanly
`

// cliArgs is the parsed command line. Unknown single-dash flags are
// ignored so wrapper scripts can pass extras through.
type cliArgs struct {
	noMsg     bool
	debug     bool
	logLevel  string
	chatCount int
	help      bool
}

func parseArgs(args []string) (cliArgs, error) {
	var c cliArgs
	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--no-msg":
			c.noMsg = true
		case "--debug":
			c.debug = true
		case "--log-level":
			i++
			if i >= len(args) {
				return c, fmt.Errorf("--log-level requires a value")
			}
			level := strings.ToLower(args[i])
			switch level {
			case "debug", "info", "warn", "error":
				c.logLevel = level
			default:
				return c, fmt.Errorf("invalid log level %q", args[i])
			}
		case "--chat":
			i++
			if i >= len(args) {
				return c, fmt.Errorf("--chat requires a count")
			}
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return c, fmt.Errorf("invalid chat count %q", args[i])
			}
			c.chatCount = n
		case "--help", "-h":
			c.help = true
		default:
			if strings.HasPrefix(arg, "--") {
				return c, fmt.Errorf("unknown flag %s", arg)
			}
			// Single-dash unknowns pass through silently.
		}
	}
	return c, nil
}

func setupLogging(args cliArgs) {
	lvl := slog.LevelInfo
	switch args.logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if args.debug {
		lvl = slog.LevelDebug
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if args.help {
		fmt.Print(usage)
		os.Exit(0)
	}

	setupLogging(args)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if args.debug {
		cfg.General.DebugEnabled = true
	}
	if args.chatCount > 0 {
		cfg.General.GracefulExit = config.GracefulExit{Enabled: true, MessageCount: args.chatCount}
	}

	shutdownTracing, err := telemetry.InitTracing("streamfx", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	var appOpts []app.Option
	if args.noMsg {
		appOpts = append(appOpts, app.WithoutMessages())
	}
	if strings.EqualFold(os.Getenv("CHAT_BOT_STARTUP_ONLY"), "true") {
		appOpts = append(appOpts, app.WithStartupOnly())
	}

	a, err := app.New(cfg, appOpts...)
	if err != nil {
		slog.Error("startup failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		a.Shutdown("signal")
	}()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("runtime error", slog.Any("err", err))
		os.Exit(1)
	}
}
