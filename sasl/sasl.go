// Package sasl implements the server side of the SASL mechanisms offered by
// SMTP AUTH (RFC 4954). Mechanisms only decode credentials; verifying them
// is left to the caller.
package sasl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthenticationCancelled is returned when the client sends "*".
	ErrAuthenticationCancelled = errors.New("authentication cancelled")

	// ErrInvalidFormat is returned when decoded data is malformed.
	ErrInvalidFormat = errors.New("invalid authentication format")

	// ErrInvalidBase64 is returned when a response is not valid base64.
	ErrInvalidBase64 = errors.New("invalid base64 encoding")

	// ErrUnsupportedMechanism is returned by New for unknown names.
	ErrUnsupportedMechanism = errors.New("unsupported authentication mechanism")
)

const (
	MechanismPlain = "PLAIN"
	MechanismLogin = "LOGIN"
)

// Credentials are the values extracted from a completed exchange.
type Credentials struct {
	AuthorizationID  string // identity to act as (authzid)
	AuthenticationID string // identity being authenticated (authcid)
	Password         string
}

// Identity returns the authorization identity, falling back to the
// authentication identity.
func (c Credentials) Identity() string {
	if c.AuthorizationID != "" {
		return c.AuthorizationID
	}
	return c.AuthenticationID
}

// Mechanism is one server side SASL exchange. Challenges and responses are
// the base64 tokens as they appear on the wire.
type Mechanism interface {
	Name() string

	// Start begins the exchange. initialResponse is "" when the client sent
	// none and "=" when it sent an empty one.
	Start(initialResponse string) (challenge string, done bool, err error)
	Next(response string) (challenge string, done bool, err error)

	// Credentials is nil until the exchange completes successfully.
	Credentials() *Credentials
}

// Supported reports whether name is a mechanism New can create.
func Supported(name string) bool {
	switch strings.ToUpper(name) {
	case MechanismPlain, MechanismLogin:
		return true
	}
	return false
}

// New returns a fresh Mechanism for name.
func New(name string) (Mechanism, error) {
	switch strings.ToUpper(name) {
	case MechanismPlain:
		return NewPlain(), nil
	case MechanismLogin:
		return NewLogin(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMechanism, name)
}

// decode handles the "*" cancel token and the "=" empty response.
func decode(response string) ([]byte, error) {
	switch response {
	case "*":
		return nil, ErrAuthenticationCancelled
	case "=":
		return []byte{}, nil
	}
	b, err := base64.StdEncoding.DecodeString(response)
	if err != nil {
		return nil, ErrInvalidBase64
	}
	return b, nil
}
