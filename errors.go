package wren

import (
	"errors"

	wrenio "github.com/synqronlabs/wren/io"
)

var (
	ErrSyntax            = errors.New("smtp: syntax error")
	ErrSequence          = errors.New("smtp: bad sequence of commands")
	ErrLineTooLong       = wrenio.ErrLineTooLong
	ErrLineHardLimit     = wrenio.ErrLineHardLimit
	ErrMessageTooLarge   = errors.New("smtp: message too large")
	ErrHandlerRejected   = errors.New("smtp: rejected by handler")
	ErrTransientFailure  = errors.New("smtp: transient failure")
	ErrSessionClosed     = errors.New("smtp: session closed")
	ErrTooManyRecipients = errors.New("smtp: too many recipients")
	ErrTooManyErrors     = errors.New("smtp: too many errors")
	ErrAuthRequired      = errors.New("smtp: authentication required")
	ErrTLSRequired       = errors.New("smtp: TLS required")
	ErrNotImplemented    = errors.New("smtp: command not implemented")
)

// SyntaxError describes a command line that could not be parsed.
// Verb is empty when not even the verb could be recognized.
type SyntaxError struct {
	Verb   Verb
	Reason string
}

func (e *SyntaxError) Error() string {
	if e.Verb == "" {
		return "smtp: syntax error: " + e.Reason
	}
	return "smtp: syntax error in " + string(e.Verb) + ": " + e.Reason
}

// Is reports whether target is ErrSyntax.
func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

func syntaxError(verb Verb, reason string) error {
	return &SyntaxError{Verb: verb, Reason: reason}
}
