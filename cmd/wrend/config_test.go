package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mjl-/sconf"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/sasl"
)

const testConfig = `Hostname: mx.example.com
Database: /var/lib/wrend/mail.db
MaxMessageSize: 1048576
ReadTimeout: 30s
Auth:
	Required: true
	Users:
		alice: secret
`

func parseTestConfig(t *testing.T, text string) *Config {
	t.Helper()
	var c Config
	if err := sconf.Parse(strings.NewReader(text), &c); err != nil {
		t.Fatalf("sconf.Parse: %v", err)
	}
	return &c
}

func TestConfigParse(t *testing.T) {
	c := parseTestConfig(t, testConfig)
	if err := c.check(); err != nil {
		t.Fatalf("check: %v", err)
	}
	if c.Hostname != "mx.example.com" || c.MaxMessageSize != 1<<20 {
		t.Errorf("got %+v", c)
	}
	if c.ReadTimeout.Seconds() != 30 {
		t.Errorf("ReadTimeout = %v", c.ReadTimeout)
	}
	if c.Auth == nil || c.Auth.Users["alice"] != "secret" {
		t.Fatalf("Auth = %+v", c.Auth)
	}

	engine, err := c.engine(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ec := engine.Config()
	if !ec.RequireAuth {
		t.Error("RequireAuth not set")
	}
	if len(ec.AuthMechanisms) != 2 {
		t.Errorf("AuthMechanisms = %v, want PLAIN and LOGIN", ec.AuthMechanisms)
	}
	if ec.EnableStartTLS {
		t.Error("STARTTLS enabled without TLS")
	}
}

func TestConfigCheck(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{"no hostname", func(c *Config) { c.Hostname = "" }, "Hostname"},
		{"no database", func(c *Config) { c.Database = "" }, "Database"},
		{"tls listener without tls", func(c *Config) { c.ListenTLS = ":465" }, "ListenTLS"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "LogFormat"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
		{"auth without users", func(c *Config) { c.Auth.Users = nil }, "Users"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := parseTestConfig(t, testConfig)
			tt.edit(c)
			err := c.check()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("check() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wrend.conf")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Error("loadConfig of a missing file succeeded")
	}
}

func TestLogLevel(t *testing.T) {
	c := &Config{LogLevel: "debug"}
	if l, err := c.level(); err != nil || l != slog.LevelDebug {
		t.Errorf("level() = %v, %v", l, err)
	}
	c.LogLevel = ""
	if l, _ := c.level(); l != slog.LevelInfo {
		t.Errorf("default level = %v", l)
	}
}

func TestAuthHandler(t *testing.T) {
	h := &authHandler{users: map[string]string{"alice": "secret"}}
	ctx := context.Background()

	tests := []struct {
		name  string
		creds sasl.Credentials
		ok    bool
	}{
		{"valid", sasl.Credentials{AuthenticationID: "alice", Password: "secret"}, true},
		{"same authzid", sasl.Credentials{AuthorizationID: "alice", AuthenticationID: "alice", Password: "secret"}, true},
		{"wrong password", sasl.Credentials{AuthenticationID: "alice", Password: "nope"}, false},
		{"unknown user", sasl.Credentials{AuthenticationID: "bob", Password: "secret"}, false},
		{"other authzid", sasl.Credentials{AuthorizationID: "admin", AuthenticationID: "alice", Password: "secret"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := h.OnAuth(ctx, sasl.MechanismPlain, tt.creds)
			if d.Accepted() != tt.ok {
				t.Errorf("Accepted() = %v, want %v", d.Accepted(), tt.ok)
			}
			if !tt.ok && d.Err() == nil {
				t.Error("rejection without error")
			}
		})
	}

	var _ wren.Resetter = h
}
