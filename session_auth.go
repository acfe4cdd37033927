package wren

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/synqronlabs/wren/sasl"
)

// authStart handles the AUTH command (RFC 4954). The exchange may span
// several lines; until it completes every line is a SASL response.
func (s *Session) authStart(ctx context.Context, cmd Command) Response {
	if len(s.config.AuthMechanisms) == 0 {
		return s.protocolError(ctx, ErrNotImplemented, ResponseCommandNotImplemented("AUTH"))
	}
	if s.authenticated {
		return s.sequence(ctx, "Already authenticated")
	}
	if s.state != StateInitial && s.state != StateHelo {
		return s.sequence(ctx, "AUTH not permitted during a mail transaction")
	}
	if s.config.AuthRequiresTLS && !s.tls {
		s.err = ErrTLSRequired
		return s.finish(reply(CodeEncryptionRequired, ESCEncryptionRequired, "Must issue a STARTTLS command first"))
	}
	if !slices.Contains(s.config.AuthMechanisms, cmd.Mechanism) {
		s.err = fmt.Errorf("%w: %s", sasl.ErrUnsupportedMechanism, cmd.Mechanism)
		return s.finish(reply(CodeParameterNotImpl, ESCInvalidArgs, "Unrecognized authentication type"))
	}

	mech, err := sasl.New(cmd.Mechanism)
	if err != nil {
		s.err = err
		return s.finish(reply(CodeParameterNotImpl, ESCInvalidArgs, "Unrecognized authentication type"))
	}
	challenge, done, err := mech.Start(cmd.InitialResponse)
	return s.authStep(ctx, mech, challenge, done, err)
}

func (s *Session) authResponse(ctx context.Context, line string) Response {
	s.err = nil
	mech := s.auth
	challenge, done, err := mech.Next(line)
	return s.authStep(ctx, mech, challenge, done, err)
}

func (s *Session) authStep(ctx context.Context, mech sasl.Mechanism, challenge string, done bool, err error) Response {
	if err == nil && !done {
		s.auth = mech
		return s.finish(Response{Code: CodeAuthContinue, Lines: []string{challenge}})
	}
	s.auth = nil

	if err != nil {
		if errors.Is(err, sasl.ErrAuthenticationCancelled) {
			s.err = err
			return s.finish(reply(CodeSyntaxError, ESCPermFailure, "Authentication cancelled"))
		}
		s.logger.Debug("malformed authentication data", slog.String("mechanism", mech.Name()), slog.Any("error", err))
		return s.protocolError(ctx, fmt.Errorf("%w: %w", ErrSyntax, err),
			reply(CodeSyntaxError, ESCSyntaxError, "Invalid authentication data"))
	}

	creds := mech.Credentials()
	d := s.handler.OnAuth(ctx, mech.Name(), *creds)
	if !d.Accepted() {
		s.logger.Info("authentication failed",
			slog.String("mechanism", mech.Name()),
			slog.String("username", creds.AuthenticationID),
		)
		return s.handlerFailure(d, reply(CodeTempAuthFailure, ESCTempAuthFailed, "Temporary authentication failure"))
	}

	s.authenticated = true
	s.authIdentity = creds.Identity()
	s.logger.Info("client authenticated",
		slog.String("mechanism", mech.Name()),
		slog.String("identity", s.authIdentity),
	)
	return s.finish(d.response(reply(CodeAuthSuccess, ESCSecuritySuccess, "Authentication successful"), Response{}))
}
