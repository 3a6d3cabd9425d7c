package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadPath("")
	if err != nil {
		t.Fatal(err)
	}

	if !cfg.General.FilterOldMessages {
		t.Error("filterOldMessages default should be on")
	}
	if cfg.General.CmdCooldown != 3*time.Second {
		t.Errorf("cmdCooldown = %v", cfg.General.CmdCooldown)
	}
	if cfg.OBS.Address != "ws://localhost:4455" {
		t.Errorf("obs address = %q", cfg.OBS.Address)
	}
	if cfg.OBS.PlatformLogoSources["tiktok"] != "LogoTikTok" {
		t.Errorf("logo sources = %v", cfg.OBS.PlatformLogoSources)
	}
	if cfg.Spam.DetectionWindow != 10*time.Second || cfg.Spam.MaxIndividualNotifications != 3 {
		t.Errorf("spam defaults = %+v", cfg.Spam)
	}
	if cfg.Timing.NotificationDuration != 8*time.Second || cfg.Timing.ChatMessageDuration != 5*time.Second {
		t.Errorf("timing defaults = %+v", cfg.Timing)
	}
	if len(cfg.Commands.Prefixes) != 1 || cfg.Commands.Prefixes[0] != "!" {
		t.Errorf("command prefixes = %v", cfg.Commands.Prefixes)
	}
	if len(cfg.VFX.Tiers) != 3 || cfg.VFX.Tiers[2].FilterName != "vfx-large" {
		t.Errorf("vfx tiers = %+v", cfg.VFX.Tiers)
	}
	if cfg.Twitch.Enabled || cfg.YouTube.Enabled || cfg.TikTok.Enabled {
		t.Error("platforms must default to disabled")
	}
}

func TestLoadPathFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
general:
  cmdCooldownMs: 7000
  gracefulExit:
    enabled: true
    messageCount: 50
obs:
  address: ws://renderer:4455
  sceneName: Live
goals:
  enabled: true
  targets:
    tiktok: 5000
tiktok:
  enabled: true
  username: somecreator
`)
	cfg, err := LoadPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.CmdCooldown != 7*time.Second {
		t.Errorf("cmdCooldown = %v, want 7s", cfg.General.CmdCooldown)
	}
	if !cfg.General.GracefulExit.Enabled || cfg.General.GracefulExit.MessageCount != 50 {
		t.Errorf("gracefulExit = %+v", cfg.General.GracefulExit)
	}
	if cfg.OBS.Address != "ws://renderer:4455" || cfg.OBS.SceneName != "Live" {
		t.Errorf("obs = %+v", cfg.OBS)
	}
	// untouched defaults survive the merge
	if cfg.OBS.NotificationSource != "NotificationText" {
		t.Errorf("notificationSource = %q", cfg.OBS.NotificationSource)
	}
	if cfg.Goals.Targets["tiktok"] != 5000 {
		t.Errorf("goal targets = %v", cfg.Goals.Targets)
	}
	if !cfg.TikTok.Enabled || cfg.TikTok.Username != "somecreator" {
		t.Errorf("tiktok = %+v", cfg.TikTok)
	}
}

func TestMillisecondKeysDecode(t *testing.T) {
	path := writeConfig(t, `
general:
  cmdCooldownMs: 3000
  globalCmdCooldownMs: 12000
  heavyCommandWindow: 45000
spam:
  detectionWindow: 10000
timing:
  transitionDelay: 1500
obs:
  connectTimeout: 8s
`)
	cfg, err := LoadPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.CmdCooldown != 3*time.Second {
		t.Errorf("cmdCooldown = %v, want 3s", cfg.General.CmdCooldown)
	}
	if cfg.General.GlobalCmdCooldown != 12*time.Second {
		t.Errorf("globalCmdCooldown = %v, want 12s", cfg.General.GlobalCmdCooldown)
	}
	if cfg.General.HeavyCommandWindow != 45*time.Second {
		t.Errorf("heavyCommandWindow = %v, want 45s", cfg.General.HeavyCommandWindow)
	}
	if cfg.Spam.DetectionWindow != 10*time.Second {
		t.Errorf("detectionWindow = %v, want 10s", cfg.Spam.DetectionWindow)
	}
	if cfg.Timing.TransitionDelay != 1500*time.Millisecond {
		t.Errorf("transitionDelay = %v, want 1.5s", cfg.Timing.TransitionDelay)
	}
	// unit-suffixed strings keep their unit
	if cfg.OBS.ConnectTimeout != 8*time.Second {
		t.Errorf("connectTimeout = %v, want 8s", cfg.OBS.ConnectTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
obs:
  address: ws://from-file:4455
`)
	t.Setenv("STREAMFX_OBS_ADDRESS", "ws://from-env:4455")
	t.Setenv("STREAMFX_OBS_PASSWORD", "envsecret")

	cfg, err := LoadPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OBS.Address != "ws://from-env:4455" {
		t.Errorf("env did not win: %q", cfg.OBS.Address)
	}
	if cfg.OBS.Password != "envsecret" {
		t.Errorf("obs password = %q", cfg.OBS.Password)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"renderer enabled without address",
			func(c *Config) { c.OBS.Address = "" },
			"validation",
		},
		{
			"goals enabled without targets",
			func(c *Config) { c.Goals.Enabled = true },
			"goals.targets",
		},
		{
			"non-positive goal target",
			func(c *Config) {
				c.Goals.Enabled = true
				c.Goals.Targets = map[string]float64{"tiktok": -5}
			},
			"must be > 0",
		},
		{
			"graceful exit without a count",
			func(c *Config) { c.General.GracefulExit.Enabled = true },
			"messageCount",
		},
		{
			"twitch enabled without credentials",
			func(c *Config) { c.Twitch.Enabled = true },
			"validation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestPlatformLookup(t *testing.T) {
	cfg := defaultConfig()
	cfg.TikTok.Enabled = true
	cfg.TikTok.GreetingsEnabled = true

	if p := cfg.Platform("tiktok"); !p.Enabled || !p.GreetingsEnabled {
		t.Errorf("tiktok toggles = %+v", p)
	}
	if p := cfg.Platform("unknown"); p.Enabled {
		t.Error("unknown platform should be disabled")
	}
}
