package wren

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	wrenio "github.com/synqronlabs/wren/io"
	"github.com/synqronlabs/wren/sasl"
)

// Config holds the options an Engine applies to every session.
//
// Prefer the builder:
//
//	engine, err := wren.New("mx.example.com").
//	    MaxMessageSize(25 << 20).
//	    StartTLS().
//	    Auth("PLAIN", "LOGIN").
//	    Build()
//
// PIPELINING, 8BITMIME and SMTPUTF8 are always advertised. SIZE is advertised
// when MaxMessageSize is set, STARTTLS when EnableStartTLS is set and AUTH
// when AuthMechanisms is not empty.
type Config struct {
	// Hostname is used in the greeting and in HELO/EHLO/QUIT replies.
	// Required.
	Hostname string

	// Greeting is the text following the hostname in the 220 banner.
	// Default: "ESMTP ready"
	Greeting string

	// MaxLineLength limits command and body lines, CRLF included.
	// Default: 1000 (RFC 5321 Section 4.5.3.1.6)
	MaxLineLength int

	// HardLineLimit is how many bytes of one over-long line are discarded
	// before the session is closed with 421.
	// Default: 65536
	HardLineLimit int

	// MaxMessageSize is the maximum body size in bytes (0 = unlimited).
	MaxMessageSize int64

	// MaxRecipients is the maximum number of recipients per message
	// (0 = unlimited).
	MaxRecipients int

	// MaxErrors closes the session with 421 after this many syntax or
	// sequencing errors (0 = unlimited).
	MaxErrors int

	// AuthMechanisms lists the SASL mechanisms offered, e.g. "PLAIN".
	// Empty disables AUTH.
	AuthMechanisms []string

	// RequireAuth rejects MAIL with 530 until the client authenticated.
	RequireAuth bool

	// AuthRequiresTLS hides AUTH until TLS is active and refuses it with 538.
	// Sessions whose PeerInfo.TLS is set count as TLS from the start.
	AuthRequiresTLS bool

	// EnableStartTLS offers STARTTLS. The driver performs the handshake.
	EnableStartTLS bool

	// EnhancedStatusCodes adds RFC 3463 codes to replies and advertises
	// ENHANCEDSTATUSCODES.
	// Default: true
	EnhancedStatusCodes bool

	// Logger receives session events. Commands and replies are logged at
	// debug level.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns a Config with defaults for everything but Hostname.
func DefaultConfig() Config {
	return Config{
		Greeting:            "ESMTP ready",
		MaxLineLength:       wrenio.DefaultMaxLineLength,
		HardLineLimit:       wrenio.DefaultHardLimit,
		MaxRecipients:       100,
		EnhancedStatusCodes: true,
		Logger:              slog.Default(),
	}
}

// SubmissionConfig returns a Config for a message submission agent
// (RFC 6409): authentication over TLS is required before MAIL.
func SubmissionConfig(hostname string) Config {
	c := DefaultConfig()
	c.Hostname = hostname
	c.EnableStartTLS = true
	c.AuthMechanisms = []string{sasl.MechanismPlain, sasl.MechanismLogin}
	c.RequireAuth = true
	c.AuthRequiresTLS = true
	return c
}

func (c *Config) validate() error {
	if c.Hostname == "" {
		return errors.New("smtp: hostname is required")
	}
	if c.MaxLineLength < 0 || c.HardLineLimit < 0 || c.MaxMessageSize < 0 || c.MaxRecipients < 0 || c.MaxErrors < 0 {
		return errors.New("smtp: limits must not be negative")
	}
	for _, m := range c.AuthMechanisms {
		if !sasl.Supported(m) {
			return fmt.Errorf("smtp: %w: %s", sasl.ErrUnsupportedMechanism, m)
		}
	}
	if c.RequireAuth && len(c.AuthMechanisms) == 0 {
		return errors.New("smtp: RequireAuth needs at least one AUTH mechanism")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Greeting == "" {
		c.Greeting = "ESMTP ready"
	}
	if c.MaxLineLength == 0 {
		c.MaxLineLength = wrenio.DefaultMaxLineLength
	}
	if c.HardLineLimit == 0 {
		c.HardLineLimit = wrenio.DefaultHardLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	mechs := make([]string, len(c.AuthMechanisms))
	for i, m := range c.AuthMechanisms {
		mechs[i] = strings.ToUpper(m)
	}
	c.AuthMechanisms = mechs
}
