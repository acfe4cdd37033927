package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mjl-/sconf"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/dns"
	"github.com/synqronlabs/wren/server"
)

// Config is the wrend configuration file, in sconf format.
type Config struct {
	Hostname       string        `sconf-doc:"Name announced in the greeting and in EHLO replies."`
	Greeting       string        `sconf:"optional" sconf-doc:"Text after the hostname in the 220 greeting. Default: ESMTP ready."`
	Listen         string        `sconf:"optional" sconf-doc:"Address for plain SMTP, upgraded with STARTTLS if TLS is configured. Default: :25."`
	ListenTLS      string        `sconf:"optional" sconf-doc:"Address for SMTP with implicit TLS, e.g. :465. Requires TLS."`
	MetricsListen  string        `sconf:"optional" sconf-doc:"Address for the Prometheus /metrics endpoint. Disabled if empty."`
	Database       string        `sconf-doc:"Path of the bbolt database received messages are written to."`
	LogLevel       string        `sconf:"optional" sconf-doc:"One of debug, info, warn, error. Default: info."`
	LogFormat      string        `sconf:"optional" sconf-doc:"Either text or json. Default: text."`
	MaxMessageSize int64         `sconf:"optional" sconf-doc:"Maximum message size in bytes, advertised with SIZE. Zero means no limit."`
	MaxRecipients  int           `sconf:"optional" sconf-doc:"Maximum recipients per message. Default: 100."`
	MaxConnections int           `sconf:"optional" sconf-doc:"Connections beyond this count are refused with 421. Zero means no limit."`
	ReadTimeout    time.Duration `sconf:"optional" sconf-doc:"Idle time allowed between commands. Default: 5m."`
	DataTimeout    time.Duration `sconf:"optional" sconf-doc:"Idle time allowed while receiving message content. Default: 10m."`
	ReverseLookup  bool          `sconf:"optional" sconf-doc:"Resolve forward-confirmed reverse DNS names of clients."`
	Nameservers    []string      `sconf:"optional" sconf-doc:"DNS servers for reverse lookups, as host:port. Default: from /etc/resolv.conf."`
	TLS            *TLS          `sconf:"optional" sconf-doc:"Certificate for STARTTLS and implicit TLS."`
	Auth           *Auth         `sconf:"optional" sconf-doc:"SMTP authentication. Disabled if absent."`
}

type TLS struct {
	CertFile string `sconf-doc:"PEM certificate chain."`
	KeyFile  string `sconf-doc:"PEM private key."`
}

type Auth struct {
	Mechanisms []string          `sconf:"optional" sconf-doc:"SASL mechanisms to offer. Default: PLAIN and LOGIN."`
	Required   bool              `sconf:"optional" sconf-doc:"Refuse MAIL until the client authenticated."`
	RequireTLS bool              `sconf:"optional" sconf-doc:"Refuse AUTH on connections without TLS."`
	Users      map[string]string `sconf-doc:"Usernames with their passwords."`
}

func loadConfig(path string) (*Config, error) {
	var c Config
	if err := sconf.ParseFile(path, &c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := c.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) check() error {
	if c.Hostname == "" {
		return errors.New("missing Hostname")
	}
	if c.Database == "" {
		return errors.New("missing Database")
	}
	if c.ListenTLS != "" && c.TLS == nil {
		return errors.New("ListenTLS set without TLS")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown LogFormat %q", c.LogFormat)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	if c.Auth != nil && len(c.Auth.Users) == 0 {
		return errors.New("Auth set without Users")
	}
	return nil
}

func (c *Config) level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("bad LogLevel %q: %w", c.LogLevel, err)
	}
	return l, nil
}

func (c *Config) logger() *slog.Logger {
	level, _ := c.level()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func (c *Config) engine(logger *slog.Logger) (*wren.Engine, error) {
	b := wren.New(c.Hostname).Logger(logger)
	if c.Greeting != "" {
		b.Greeting(c.Greeting)
	}
	if c.MaxMessageSize > 0 {
		b.MaxMessageSize(c.MaxMessageSize)
	}
	if c.MaxRecipients > 0 {
		b.MaxRecipients(c.MaxRecipients)
	}
	if c.TLS != nil {
		b.StartTLS()
	}
	if a := c.Auth; a != nil {
		mechs := a.Mechanisms
		if len(mechs) == 0 {
			mechs = []string{"PLAIN", "LOGIN"}
		}
		b.Auth(mechs...)
		if a.Required {
			b.RequireAuth()
		}
		if a.RequireTLS {
			b.AuthRequiresTLS()
		}
	}
	return b.Build()
}

func (c *Config) tlsConfig() (*tls.Config, error) {
	if c.TLS == nil {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

func (c *Config) serverConfig(addr string, tc *tls.Config, logger *slog.Logger, metrics *server.Metrics) server.Config {
	sc := server.Config{
		Addr:           addr,
		TLSConfig:      tc,
		ReadTimeout:    c.ReadTimeout,
		DataTimeout:    c.DataTimeout,
		MaxConnections: c.MaxConnections,
		Logger:         logger,
		Metrics:        metrics,
	}
	if c.ReverseLookup {
		sc.Resolver = dns.NewResolver(dns.ResolverConfig{Nameservers: c.Nameservers})
	}
	return sc
}
