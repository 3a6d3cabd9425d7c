// Package config loads the merged configuration tree (defaults, YAML file,
// environment) and provides the typed view the rest of the system reads.
// Required keys fail startup; everything else has a sensible default so
// the binary can run locally with minimal setup.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CHAT_BOT_CONFIG_PATH"

// DefaultConfigPaths are tried in order when no override is set.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/streamfx/config.yaml",
}

// GeneralConfig holds cross-cutting behavior knobs.
type GeneralConfig struct {
	FilterOldMessages     bool          `koanf:"filterOldMessages"`
	DebugEnabled          bool          `koanf:"debugEnabled"`
	CmdCooldown           time.Duration `koanf:"cmdCooldownMs"`
	GlobalCmdCooldown     time.Duration `koanf:"globalCmdCooldownMs"`
	HeavyCommandThreshold int           `koanf:"heavyCommandThreshold" validate:"min=1"`
	HeavyCommandWindow    time.Duration `koanf:"heavyCommandWindow"`
	HeavyCommandCooldown  time.Duration `koanf:"heavyCommandCooldown"`
	TTSEnabled            bool          `koanf:"ttsEnabled"`
	GracefulExit          GracefulExit  `koanf:"gracefulExit"`
}

// GracefulExit caps the session at a rendered-chat-message budget.
type GracefulExit struct {
	Enabled      bool `koanf:"enabled"`
	MessageCount int  `koanf:"messageCount" validate:"min=0"`
}

// OBSConfig addresses the renderer and names its scene objects.
type OBSConfig struct {
	Enabled             bool              `koanf:"enabled"`
	Address             string            `koanf:"address" validate:"required_if=Enabled true"`
	Password            string            `koanf:"password"`
	SceneName           string            `koanf:"sceneName" validate:"required_if=Enabled true"`
	NotificationGroup   string            `koanf:"notificationGroup"`
	ChatGroup           string            `koanf:"chatGroup"`
	NotificationSource  string            `koanf:"notificationSource"`
	ChatSource          string            `koanf:"chatSource"`
	TTSMediaSource      string            `koanf:"ttsMediaSource"`
	PlatformLogoSources map[string]string `koanf:"platformLogoSources"`
	ConnectTimeout      time.Duration     `koanf:"connectTimeout"`
}

// GoalsConfig configures per-platform donation targets.
type GoalsConfig struct {
	Enabled bool               `koanf:"enabled"`
	Targets map[string]float64 `koanf:"targets"` // platform -> targetAmount
}

// SpamConfig tunes the donation aggregation window.
type SpamConfig struct {
	Enabled                    bool          `koanf:"enabled"`
	DetectionWindow            time.Duration `koanf:"detectionWindow"`
	MaxIndividualNotifications int           `koanf:"maxIndividualNotifications" validate:"min=1"`
	LowValueThreshold          float64       `koanf:"lowValueThreshold" validate:"min=0"`
}

// PlatformConfig is the per-platform feature toggle block.
type PlatformConfig struct {
	Enabled          bool `koanf:"enabled"`
	GreetingsEnabled bool `koanf:"greetingsEnabled"`
	GiftsEnabled     bool `koanf:"giftsEnabled"`
}

// TimingConfig holds the display-queue phase durations.
type TimingConfig struct {
	FadeDuration           time.Duration `koanf:"fadeDuration"`
	NotificationClearDelay time.Duration `koanf:"notificationClearDelay"`
	TransitionDelay        time.Duration `koanf:"transitionDelay"`
	ChatMessageDuration    time.Duration `koanf:"chatMessageDuration"`
	NotificationDuration   time.Duration `koanf:"notificationDuration"`
}

// TwitchConfig carries the game-streaming platform credentials.
type TwitchConfig struct {
	PlatformConfig `koanf:",squash"`
	Channel        string `koanf:"channel"`
	BotUsername    string `koanf:"botUsername"`
	ClientID       string `koanf:"clientId" validate:"required_if=Enabled true"`
	ClientSecret   string `koanf:"clientSecret" validate:"required_if=Enabled true"`
	RedirectURI    string `koanf:"redirectUri"`
	TokenFile      string `koanf:"tokenFile"`
}

// YouTubeConfig carries the video platform credentials.
type YouTubeConfig struct {
	PlatformConfig `koanf:",squash"`
	ChannelID      string        `koanf:"channelId"`
	ClientID       string        `koanf:"clientId"`
	ClientSecret   string        `koanf:"clientSecret"`
	RedirectURI    string        `koanf:"redirectUri"`
	TokenFile      string        `koanf:"tokenFile"`
	PollInterval   time.Duration `koanf:"pollInterval"`
}

// TikTokConfig points at the local webcast bridge feed.
type TikTokConfig struct {
	PlatformConfig `koanf:",squash"`
	Username       string `koanf:"username"`
	BridgeURL      string `koanf:"bridgeUrl"`
}

// VFXTier maps a minimum donation amount to a source filter.
type VFXTier struct {
	MinAmount  float64 `koanf:"minAmount" validate:"min=0"`
	FilterName string  `koanf:"filterName"`
}

// VFXConfig configures the donation visual-effect filters.
type VFXConfig struct {
	Enabled    bool          `koanf:"enabled"`
	SourceName string        `koanf:"sourceName"`
	Duration   time.Duration `koanf:"duration"`
	Tiers      []VFXTier     `koanf:"tiers"`
}

// TTSConfig configures speech synthesis for notifications.
type TTSConfig struct {
	// URLTemplate receives the url-encoded text as %s and yields the
	// media URL the renderer plays.
	URLTemplate string `koanf:"urlTemplate"`
	Voice       string `koanf:"voice"`
}

// CommandsConfig configures the chat command parser.
type CommandsConfig struct {
	Prefixes []string `koanf:"prefixes"`
}

// Config is the root of the typed configuration tree.
type Config struct {
	General  GeneralConfig  `koanf:"general"`
	OBS      OBSConfig      `koanf:"obs" validate:"required"`
	Goals    GoalsConfig    `koanf:"goals"`
	Spam     SpamConfig     `koanf:"spam"`
	Timing   TimingConfig   `koanf:"timing"`
	VFX      VFXConfig      `koanf:"vfx"`
	TTS      TTSConfig      `koanf:"tts"`
	Commands CommandsConfig `koanf:"commands"`
	Twitch   TwitchConfig   `koanf:"twitch"`
	YouTube  YouTubeConfig  `koanf:"youtube"`
	TikTok   TikTokConfig   `koanf:"tiktok"`
	HTTPAddr string         `koanf:"httpAddr"`
}

func defaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			FilterOldMessages:     true,
			CmdCooldown:           3 * time.Second,
			GlobalCmdCooldown:     10 * time.Second,
			HeavyCommandThreshold: 3,
			HeavyCommandWindow:    30 * time.Second,
			HeavyCommandCooldown:  60 * time.Second,
		},
		OBS: OBSConfig{
			Enabled:            true,
			Address:            "ws://localhost:4455",
			SceneName:          "Stream",
			NotificationGroup:  "NotificationGroup",
			ChatGroup:          "ChatGroup",
			NotificationSource: "NotificationText",
			ChatSource:         "ChatText",
			TTSMediaSource:     "TTSMedia",
			PlatformLogoSources: map[string]string{
				"tiktok":  "LogoTikTok",
				"twitch":  "LogoTwitch",
				"youtube": "LogoYouTube",
			},
			ConnectTimeout: 10 * time.Second,
		},
		Spam: SpamConfig{
			Enabled:                    true,
			DetectionWindow:            10 * time.Second,
			MaxIndividualNotifications: 3,
			LowValueThreshold:          10,
		},
		Timing: TimingConfig{
			FadeDuration:           300 * time.Millisecond,
			NotificationClearDelay: 2 * time.Second,
			TransitionDelay:        1 * time.Second,
			ChatMessageDuration:    5 * time.Second,
			NotificationDuration:   8 * time.Second,
		},
		VFX: VFXConfig{
			SourceName: "DonationVFX",
			Duration:   4 * time.Second,
			Tiers: []VFXTier{
				{MinAmount: 0, FilterName: "vfx-small"},
				{MinAmount: 50, FilterName: "vfx-medium"},
				{MinAmount: 200, FilterName: "vfx-large"},
			},
		},
		TTS: TTSConfig{
			URLTemplate: "http://localhost:5002/api/tts?text=%s",
		},
		Commands: CommandsConfig{Prefixes: []string{"!"}},
		Twitch: TwitchConfig{
			TokenFile: "data/twitch_tokens.json",
		},
		YouTube: YouTubeConfig{
			TokenFile:    "data/youtube_tokens.json",
			PollInterval: 5 * time.Second,
		},
		TikTok: TikTokConfig{
			BridgeURL: "ws://localhost:21213/",
		},
		HTTPAddr: ":8080",
	}
}

// Load builds the merged config: struct defaults, then the YAML file (if
// any), then STREAMFX_-prefixed environment variables, then validation.
func Load() (*Config, error) {
	return LoadPath(findConfigFile())
}

// LoadPath is Load with an explicit file path; empty skips the file layer.
func LoadPath(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	// STREAMFX_OBS_ADDRESS -> obs.address
	envProvider := env.Provider("STREAMFX_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "STREAMFX_")), "_", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	dec := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				durationMillisHook(),
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
		},
	}
	if err := k.UnmarshalWithConf("", cfg, dec); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// durationMillisHook decodes bare numbers into millisecond durations:
// cmdCooldownMs, detectionWindow and the other duration keys carry
// millisecond counts in YAML and in the environment. Strings with a unit
// ("7s") fall through to the standard duration parser.
func durationMillisHook() mapstructure.DecodeHookFunc {
	durType := reflect.TypeOf(time.Duration(0))
	return mapstructure.DecodeHookFuncType(func(from, to reflect.Type, data any) (any, error) {
		if to != durType || from == durType {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Millisecond, nil
		case int64:
			return time.Duration(v) * time.Millisecond, nil
		case uint64:
			return time.Duration(v) * time.Millisecond, nil
		case float64:
			return time.Duration(v * float64(time.Millisecond)), nil
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return time.Duration(n) * time.Millisecond, nil
			}
		}
		return data, nil
	})
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate enforces required keys and cross-field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Goals.Enabled && len(c.Goals.Targets) == 0 {
		return fmt.Errorf("config validation: goals.enabled requires at least one goals.targets entry")
	}
	for platform, target := range c.Goals.Targets {
		if target <= 0 {
			return fmt.Errorf("config validation: goals.targets.%s must be > 0", platform)
		}
	}
	if c.General.GracefulExit.Enabled && c.General.GracefulExit.MessageCount <= 0 {
		return fmt.Errorf("config validation: gracefulExit.enabled requires messageCount > 0")
	}
	return nil
}

// Platform returns the toggle block for a platform name, disabled when the
// name is unknown.
func (c *Config) Platform(name string) PlatformConfig {
	switch name {
	case "twitch":
		return c.Twitch.PlatformConfig
	case "youtube":
		return c.YouTube.PlatformConfig
	case "tiktok":
		return c.TikTok.PlatformConfig
	}
	return PlatformConfig{}
}
