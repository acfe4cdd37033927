package sasl

import (
	gosasl "github.com/emersion/go-sasl"
)

// Plain implements PLAIN (RFC 4616) on top of go-sasl's server.
// Use only over TLS; the password is sent in clear text.
type Plain struct {
	server gosasl.Server
	creds  *Credentials
	done   bool
}

// NewPlain creates a PLAIN exchange.
func NewPlain() *Plain {
	p := &Plain{}
	p.server = gosasl.NewPlainServer(func(identity, username, password string) error {
		if username == "" {
			return ErrInvalidFormat
		}
		p.creds = &Credentials{
			AuthorizationID:  identity,
			AuthenticationID: username,
			Password:         password,
		}
		return nil
	})
	return p
}

func (p *Plain) Name() string {
	return MechanismPlain
}

// Start sends an empty challenge when there is no initial response.
func (p *Plain) Start(initialResponse string) (string, bool, error) {
	if initialResponse == "" {
		if _, _, err := p.server.Next(nil); err != nil {
			return "", true, err
		}
		return "", false, nil
	}
	return p.Next(initialResponse)
}

func (p *Plain) Next(response string) (string, bool, error) {
	if p.done {
		return "", true, ErrInvalidFormat
	}
	p.done = true

	decoded, err := decode(response)
	if err != nil {
		return "", true, err
	}
	if _, _, err := p.server.Next(decoded); err != nil || p.creds == nil {
		p.creds = nil
		return "", true, ErrInvalidFormat
	}
	return "", true, nil
}

func (p *Plain) Credentials() *Credentials {
	return p.creds
}
