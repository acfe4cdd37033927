package wren

import (
	"log/slog"
	"slices"
)

// Engine creates sessions that share one Config. It holds no per-connection
// state and is safe for concurrent use.
type Engine struct {
	config Config
}

// NewEngine validates config and returns an Engine. An unset greeting,
// logger or line limit gets its default.
func NewEngine(config Config) (*Engine, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.AuthMechanisms = slices.Clone(config.AuthMechanisms)
	return &Engine{config: config}, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	c := e.config
	c.AuthMechanisms = slices.Clone(c.AuthMechanisms)
	return c
}

// Builder configures an Engine fluently.
type Builder struct {
	config Config
}

// New starts a Builder with DefaultConfig and the given hostname.
func New(hostname string) *Builder {
	c := DefaultConfig()
	c.Hostname = hostname
	return &Builder{config: c}
}

// Greeting sets the banner text that follows the hostname.
func (b *Builder) Greeting(text string) *Builder {
	b.config.Greeting = text
	return b
}

// Logger sets the structured logger.
func (b *Builder) Logger(logger *slog.Logger) *Builder {
	b.config.Logger = logger
	return b
}

// MaxLineLength sets the line limit, CRLF included.
func (b *Builder) MaxLineLength(n int) *Builder {
	b.config.MaxLineLength = n
	return b
}

// HardLineLimit sets how much of an over-long line is tolerated before the
// session is closed.
func (b *Builder) HardLineLimit(n int) *Builder {
	b.config.HardLineLimit = n
	return b
}

// MaxMessageSize sets the maximum body size and advertises SIZE.
func (b *Builder) MaxMessageSize(size int64) *Builder {
	b.config.MaxMessageSize = size
	return b
}

// MaxRecipients sets the maximum recipients per message.
func (b *Builder) MaxRecipients(n int) *Builder {
	b.config.MaxRecipients = n
	return b
}

// MaxErrors sets the number of protocol errors tolerated per session.
func (b *Builder) MaxErrors(n int) *Builder {
	b.config.MaxErrors = n
	return b
}

// Auth offers the given SASL mechanisms.
func (b *Builder) Auth(mechanisms ...string) *Builder {
	b.config.AuthMechanisms = mechanisms
	return b
}

// RequireAuth refuses MAIL until the client authenticated.
func (b *Builder) RequireAuth() *Builder {
	b.config.RequireAuth = true
	return b
}

// AuthRequiresTLS offers AUTH only over TLS.
func (b *Builder) AuthRequiresTLS() *Builder {
	b.config.AuthRequiresTLS = true
	return b
}

// StartTLS offers STARTTLS.
func (b *Builder) StartTLS() *Builder {
	b.config.EnableStartTLS = true
	return b
}

// EnhancedStatusCodes turns RFC 3463 codes on or off.
func (b *Builder) EnhancedStatusCodes(enabled bool) *Builder {
	b.config.EnhancedStatusCodes = enabled
	return b
}

// Build validates the configuration and returns the Engine.
func (b *Builder) Build() (*Engine, error) {
	return NewEngine(b.config)
}
