package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"teamline/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := config.Default()
	if cfg.Server.Host != def.Server.Host || cfg.Server.Port != def.Server.Port {
		t.Fatalf("want default server settings, got %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "change-me" || cfg.Auth.BcryptCost != 10 {
		t.Fatalf("want default auth settings, got %#v", cfg.Auth)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := "server:\n  port: 9100\nauth:\n  jwt_secret: s3cret\n"
	if err := os.WriteFile(config.Path(dir), []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("want overridden port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("want default host kept, got %s", cfg.Server.Host)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("want overridden secret, got %s", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenTTLMinutes != 60 || cfg.Auth.RefreshTTLHours != 168 {
		t.Fatalf("want default TTLs kept, got %#v", cfg.Auth)
	}
}

func TestFromYAMLRejectsMalformed(t *testing.T) {
	if _, err := config.FromYAML([]byte("server: [not a map")); err == nil {
		t.Fatal("want parse error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero port", func(c *config.Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *config.Config) { c.Server.Port = 70000 }, "server.port"},
		{"empty jwt secret", func(c *config.Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"zero token ttl", func(c *config.Config) { c.Auth.TokenTTLMinutes = 0 }, "token_ttl_minutes"},
		{"zero refresh ttl", func(c *config.Config) { c.Auth.RefreshTTLHours = 0 }, "refresh_ttl_hours"},
		{"bcrypt too low", func(c *config.Config) { c.Auth.BcryptCost = 3 }, "bcrypt_cost"},
		{"bcrypt too high", func(c *config.Config) { c.Auth.BcryptCost = 32 }, "bcrypt_cost"},
		{"webhook without url", func(c *config.Config) {
			c.Webhooks = []config.WebhookConfig{{Events: []string{"task.created"}}}
		}, "webhooks[0].url"},
		{"negative webhook timeout", func(c *config.Config) {
			c.Webhooks = []config.WebhookConfig{{URL: "https://hooks.example.com", TimeoutSeconds: -1}}
		}, "timeout_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("want validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestGeneratedDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("parse generated default: %v", err)
	}
	if cfg.Server.Port != 8787 {
		t.Fatalf("want port 8787, got %d", cfg.Server.Port)
	}
}

func TestPath(t *testing.T) {
	if got := config.Path("/srv/ws"); got != filepath.Join("/srv/ws", "teamline.yml") {
		t.Fatalf("unexpected path %s", got)
	}
	if got := config.Path(""); got != "teamline.yml" {
		t.Fatalf("empty workspace should resolve to cwd file, got %s", got)
	}
}
