package wren

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	wrenio "github.com/synqronlabs/wren/io"
	"github.com/synqronlabs/wren/sasl"
	"github.com/synqronlabs/wren/utils"
)

// State is the position of a session in the SMTP dialogue.
type State int

const (
	StateInitial State = iota
	StateHelo
	StateMail
	StateRcpt
	StateData
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateHelo:
		return "Helo"
	case StateMail:
		return "Mail"
	case StateRcpt:
		return "Rcpt"
	case StateData:
		return "Data"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is the protocol state of one connection. It performs no I/O: the
// driver feeds it input and writes the returned responses. A Session must
// not be used from more than one goroutine at a time.
type Session struct {
	id      string
	config  *Config
	handler Handler
	peer    PeerInfo
	logger  *slog.Logger

	state          State
	extended       bool
	tls            bool
	authenticated  bool
	authIdentity   string
	clientHostname string
	envelope       *Envelope

	scanner *wrenio.Scanner
	data    DataDecoder
	auth    sasl.Mechanism

	greeted  bool
	ended    bool
	errCount int
	err      error
}

// NewSession starts a session for one connection. A nil handler behaves
// like NopHandler.
func (e *Engine) NewSession(h Handler, peer PeerInfo) *Session {
	if h == nil {
		h = NopHandler{}
	}
	id := utils.GenerateID()
	logger := e.config.Logger.With(slog.String("session", id))
	if peer.Addr != nil {
		logger = logger.With(slog.String("remote", peer.Addr.String()))
	}
	return &Session{
		id:      id,
		config:  &e.config,
		handler: h,
		peer:    peer,
		logger:  logger,
		tls:     peer.TLS,
		scanner: wrenio.NewScanner(e.config.MaxLineLength, e.config.HardLineLimit),
	}
}

// ID returns the session identifier, a ULID.
func (s *Session) ID() string { return s.id }

// Peer returns the peer information the session was created with.
func (s *Session) Peer() PeerInfo { return s.peer }

// State returns the current state.
func (s *Session) State() State { return s.state }

// IsTLS reports whether the connection is encrypted.
func (s *Session) IsTLS() bool { return s.tls }

// IsAuthenticated reports whether AUTH succeeded.
func (s *Session) IsAuthenticated() bool { return s.authenticated }

// AuthIdentity returns the authenticated identity, or "".
func (s *Session) AuthIdentity() string { return s.authIdentity }

// Extended reports whether the client greeted with EHLO.
func (s *Session) Extended() bool { return s.extended }

// ClientHostname returns the HELO/EHLO argument.
func (s *Session) ClientHostname() string { return s.clientHostname }

// Envelope returns a copy of the current transaction, or nil outside one.
func (s *Session) Envelope() *Envelope { return s.envelope.Clone() }

// Err returns the error behind the most recent failed reply, or nil if the
// last command succeeded.
func (s *Session) Err() error { return s.err }

// Greet calls Handler.OnConnect and returns the 220 banner. If the handler
// refuses the connection the reply carries ActionClose.
func (s *Session) Greet(ctx context.Context) Response {
	if s.state == StateClosed {
		return s.closedResponse()
	}
	if s.greeted {
		return s.sequence(ctx, "Greeting already sent")
	}
	s.greeted = true

	d := s.handler.OnConnect(ctx, s.peer)
	if !d.Accepted() {
		r := s.handlerFailure(d, ResponseServiceUnavailable(s.config.Hostname, "Service not available"))
		r.Action = ActionClose
		s.terminate(ctx)
		return r
	}

	s.logger.Info("session started")
	def := ResponseServiceReady(s.config.Hostname, s.config.Greeting)
	r := d.response(def, def)
	r.EnhancedCode = ""
	return s.finish(r)
}

// Feed consumes bytes read from the connection and returns the replies owed
// for every line completed by them, in order. Body lines produce no reply.
// If Greet was not called, OnConnect runs first.
// Processing stops after a reply with ActionClose or ActionUpgradeTLS; for
// the latter any input already buffered is discarded.
func (s *Session) Feed(ctx context.Context, p []byte) []Response {
	if s.state == StateClosed {
		return []Response{s.closedResponse()}
	}
	if r, ok := s.implicitGreet(ctx); !ok {
		return []Response{r}
	}
	s.scanner.Feed(p)

	var out []Response
	for line, err := range s.scanner.Lines() {
		var r Response
		if err != nil {
			r = s.lineError(ctx, err)
		} else {
			r = s.handleLine(ctx, line.Bytes, line.BareLF)
		}
		if r.Action == ActionNoReply {
			continue
		}
		out = append(out, r)
		if r.Action == ActionClose {
			break
		}
		if r.Action == ActionUpgradeTLS {
			s.scanner.Reset()
			break
		}
	}
	return out
}

// Process handles one complete line without its CRLF, for drivers that
// split lines themselves. The result has ActionNoReply for body lines.
func (s *Session) Process(ctx context.Context, line []byte) Response {
	if s.state == StateClosed {
		return s.closedResponse()
	}
	if r, ok := s.implicitGreet(ctx); !ok {
		return r
	}
	if s.config.MaxLineLength > 0 && len(line)+2 > s.config.MaxLineLength {
		return s.lineError(ctx, ErrLineTooLong)
	}
	return s.handleLine(ctx, line, false)
}

// implicitGreet runs OnConnect for a driver that never called Greet. The
// banner is dropped; ok is false if the handler refused the connection.
func (s *Session) implicitGreet(ctx context.Context) (Response, bool) {
	if s.greeted {
		return Response{}, true
	}
	r := s.Greet(ctx)
	return r, r.Action != ActionClose
}

// TLSStarted tells the session the TLS handshake completed. As required by
// RFC 3207 everything learned before it is forgotten and the client must
// greet again.
func (s *Session) TLSStarted() {
	if s.state == StateClosed {
		return
	}
	s.tls = true
	s.state = StateInitial
	s.extended = false
	s.clientHostname = ""
	s.authenticated = false
	s.authIdentity = ""
	s.envelope = nil
	s.auth = nil
	s.scanner.Reset()
	s.logger.Info("TLS started")
}

// Close ends the session from the driver side, for instance on disconnect
// or timeout. Handler.OnSessionEnd is called if it has not been already.
func (s *Session) Close(ctx context.Context) {
	if s.state != StateClosed {
		s.terminate(ctx)
	}
}

func (s *Session) handleLine(ctx context.Context, line []byte, bareLF bool) Response {
	switch {
	case s.state == StateData:
		return s.dataLine(ctx, line, bareLF)
	case s.auth != nil:
		return s.authResponse(ctx, string(line))
	default:
		return s.command(ctx, string(line))
	}
}

func (s *Session) lineError(ctx context.Context, err error) Response {
	if errors.Is(err, ErrLineHardLimit) {
		s.err = err
		s.logger.Error("line exceeds hard limit, closing session")
		s.terminate(ctx)
		return s.finish(ResponseServiceUnavailable(s.config.Hostname, "Line too long, closing connection"))
	}

	if s.state == StateData {
		s.data.Fail(err)
		return Response{Action: ActionNoReply}
	}
	s.auth = nil
	s.discard(ctx)
	return s.protocolError(ctx, err, reply(CodeCommandUnrecognized, ESCSyntaxError, "Line too long"))
}

func (s *Session) command(ctx context.Context, line string) Response {
	s.err = nil

	cmd, err := ParseCommand(line)
	if err != nil {
		s.logger.Debug("syntax error", slog.Any("error", err))
		var se *SyntaxError
		if errors.As(err, &se) && se.Verb != "" {
			return s.protocolError(ctx, err, ResponseSyntaxError("Syntax error: "+se.Reason))
		}
		return s.protocolError(ctx, err, ResponseCommandUnrecognized(""))
	}

	if cmd.Verb == VerbAuth {
		s.logger.Debug("command received", slog.String("verb", cmd.Name), slog.String("mechanism", cmd.Mechanism))
	} else {
		s.logger.Debug("command received", slog.String("verb", cmd.Name), slog.String("line", line))
	}

	switch cmd.Verb {
	case VerbHelo, VerbEhlo:
		return s.hello(ctx, cmd)
	case VerbMail:
		return s.mail(ctx, cmd)
	case VerbRcpt:
		return s.rcpt(ctx, cmd)
	case VerbData:
		return s.dataStart(ctx)
	case VerbRset:
		s.discard(ctx)
		return s.finish(ResponseOK("OK", ESCSuccess))
	case VerbNoop:
		return s.finish(ResponseOK("OK", ESCSuccess))
	case VerbQuit:
		r := ResponseServiceClosing(s.config.Hostname, "Service closing transmission channel")
		s.terminate(ctx)
		return s.finish(r)
	case VerbVrfy:
		return s.vrfy(ctx, cmd)
	case VerbHelp:
		return s.help()
	case VerbAuth:
		return s.authStart(ctx, cmd)
	case VerbStartTLS:
		return s.startTLS(ctx)
	default:
		return s.protocolError(ctx, ErrNotImplemented, ResponseCommandNotImplemented(cmd.Name))
	}
}

func (s *Session) hello(ctx context.Context, cmd Command) Response {
	if s.state != StateInitial {
		return s.sequence(ctx, "Duplicate HELO/EHLO")
	}

	d := s.handler.OnHelo(ctx, cmd.Arg)
	if !d.Accepted() {
		return s.handlerFailure(d, ResponseLocalError(""))
	}

	s.state = StateHelo
	s.extended = cmd.Verb == VerbEhlo
	s.clientHostname = cmd.Arg

	greeting := s.config.Hostname + " Hello " + cmd.Arg
	if !s.extended {
		r := d.response(reply(CodeOK, "", greeting), Response{})
		r.EnhancedCode = ""
		return s.finish(r)
	}
	lines := []string{greeting}
	if d.kind == dispositionAcceptWith && len(d.lines) > 0 {
		lines = d.lines
	}
	return s.finish(s.ehloResponse(lines))
}

func (s *Session) mail(ctx context.Context, cmd Command) Response {
	switch s.state {
	case StateHelo:
	case StateMail, StateRcpt:
		return s.sequence(ctx, "Nested MAIL command")
	default:
		return s.sequence(ctx, "Send HELO/EHLO first")
	}

	if s.config.RequireAuth && !s.authenticated {
		s.err = ErrAuthRequired
		return s.finish(ResponseAuthRequired(""))
	}

	env := &Envelope{
		From:     cmd.Path,
		Params:   cmd.Params,
		BodyType: BodyType7Bit,
		Auth:     s.authIdentity,
	}
	if v, ok := cmd.Params.Get("BODY"); ok {
		switch bt := BodyType(strings.ToUpper(v)); bt {
		case BodyType7Bit, BodyType8BitMIME:
			env.BodyType = bt
		default:
			s.err = ErrNotImplemented
			return s.finish(reply(CodeParameterNotImpl, ESCInvalidArgs, "Unsupported BODY type"))
		}
	}
	if _, ok := cmd.Params.Get("SMTPUTF8"); ok {
		env.SMTPUTF8 = true
	}
	if size, ok := cmd.Params.Size(); ok {
		env.Size = size
		if s.config.MaxMessageSize > 0 && size > s.config.MaxMessageSize {
			s.err = ErrMessageTooLarge
			return s.finish(ResponseExceededStorage(""))
		}
	}
	if !cmd.Path.Mailbox.IsASCII() && !env.SMTPUTF8 {
		s.err = ErrSyntax
		return s.finish(reply(CodeMailboxNameInvalid, ESCNonASCIINoSMTPUTF8, "Non-ASCII address requires SMTPUTF8"))
	}

	d := s.handler.OnMail(ctx, cmd.Path, cmd.Params)
	if !d.Accepted() {
		return s.handlerFailure(d, ResponseLocalError(""))
	}

	s.envelope = env
	s.state = StateMail
	return s.finish(d.response(ResponseOK("OK", ESCAddressValid), Response{}))
}

func (s *Session) rcpt(ctx context.Context, cmd Command) Response {
	if s.state != StateMail && s.state != StateRcpt {
		return s.sequence(ctx, "Need MAIL before RCPT")
	}

	if max := s.config.MaxRecipients; max > 0 && len(s.envelope.To) >= max {
		s.err = ErrTooManyRecipients
		return s.finish(reply(CodeInsufficientStorage, ESCTempTooManyRecipients, "Too many recipients"))
	}
	if !cmd.Path.Mailbox.IsASCII() && !s.envelope.SMTPUTF8 {
		s.err = ErrSyntax
		return s.finish(reply(CodeMailboxNameInvalid, ESCNonASCIINoSMTPUTF8, "Non-ASCII address requires SMTPUTF8"))
	}

	d := s.handler.OnRcpt(ctx, cmd.Path, cmd.Params)
	if !d.Accepted() {
		return s.handlerFailure(d, ResponseLocalError(""))
	}

	s.envelope.To = append(s.envelope.To, Recipient{Path: cmd.Path, Params: cmd.Params})
	s.state = StateRcpt
	return s.finish(d.response(ResponseOK("OK", ESCRecipientValid), Response{}))
}

func (s *Session) dataStart(ctx context.Context) Response {
	switch s.state {
	case StateRcpt:
	case StateMail:
		return s.sequence(ctx, "Need RCPT before DATA")
	default:
		return s.sequence(ctx, "Need MAIL before DATA")
	}

	d := s.handler.OnDataStart(ctx)
	if !d.Accepted() {
		s.clearTransaction()
		return s.handlerFailure(d, ResponseLocalError(""))
	}

	s.state = StateData
	s.data.Reset(s.config.MaxMessageSize)
	def := Response{Code: CodeStartMailInput, Lines: []string{"Start mail input; end with <CRLF>.<CRLF>"}}
	r := d.response(def, def)
	r.EnhancedCode = ""
	return s.finish(r)
}

func (s *Session) dataLine(ctx context.Context, line []byte, bareLF bool) Response {
	chunk, done := s.data.Decode(line, bareLF)
	if !done {
		if chunk != nil {
			s.handler.OnDataChunk(ctx, chunk)
		}
		return Response{Action: ActionNoReply}
	}

	size := s.data.Size()
	if err := s.data.Err(); err != nil {
		s.err = err
		s.discard(ctx)
		if errors.Is(err, ErrMessageTooLarge) {
			s.logger.Info("message too large", slog.Int64("limit", s.config.MaxMessageSize))
			return s.finish(ResponseExceededStorage(""))
		}
		return s.finish(reply(CodeCommandUnrecognized, ESCSyntaxError, "Line too long"))
	}

	recipients := len(s.envelope.To)
	d := s.handler.OnDataEnd(ctx)
	s.clearTransaction()
	if !d.Accepted() {
		return s.handlerFailure(d, ResponseLocalError(""))
	}

	s.err = nil
	s.logger.Info("message accepted", slog.Int64("size", size), slog.Int("recipients", recipients))
	return s.finish(d.response(ResponseOK("OK", ESCSuccess), Response{}))
}

func (s *Session) vrfy(ctx context.Context, cmd Command) Response {
	v, ok := s.handler.(Verifier)
	if !ok {
		return s.finish(ResponseCannotVRFY(""))
	}
	d := v.OnVerify(ctx, cmd.Arg)
	if !d.Accepted() {
		return s.handlerFailure(d, ResponseLocalError(""))
	}
	return s.finish(d.response(ResponseCannotVRFY(""), Response{}))
}

func (s *Session) help() Response {
	verbs := []string{"HELO", "EHLO", "MAIL", "RCPT", "DATA", "RSET", "NOOP", "QUIT", "VRFY", "HELP"}
	if s.config.EnableStartTLS && !s.tls {
		verbs = append(verbs, "STARTTLS")
	}
	if s.authOffered() {
		verbs = append(verbs, "AUTH")
	}
	return s.finish(NewResponse(CodeHelpMessage).
		WithEnhancedCode(ESCSuccess).
		Line("Supported commands:").
		Line(strings.Join(verbs, " ")).
		Build())
}

func (s *Session) startTLS(ctx context.Context) Response {
	if !s.config.EnableStartTLS {
		return s.protocolError(ctx, ErrNotImplemented, ResponseCommandNotImplemented("STARTTLS"))
	}
	if s.tls {
		return s.sequence(ctx, "TLS already active")
	}
	if s.state != StateInitial && s.state != StateHelo {
		return s.sequence(ctx, "STARTTLS not permitted during a mail transaction")
	}
	r := reply(CodeServiceReady, ESCSuccess, "Ready to start TLS")
	r.Action = ActionUpgradeTLS
	return s.finish(r)
}

// clearTransaction drops the envelope after the transaction ended.
func (s *Session) clearTransaction() {
	s.envelope = nil
	if s.state == StateMail || s.state == StateRcpt || s.state == StateData {
		s.state = StateHelo
	}
}

// discard drops the transaction and tells the handler, which may not
// otherwise learn that the engine abandoned it.
func (s *Session) discard(ctx context.Context) {
	s.clearTransaction()
	if r, ok := s.handler.(Resetter); ok {
		r.OnReset(ctx)
	}
}

func (s *Session) terminate(ctx context.Context) {
	s.state = StateClosed
	s.envelope = nil
	s.auth = nil
	s.scanner.Reset()
	if !s.ended {
		s.ended = true
		s.handler.OnSessionEnd(ctx)
		s.logger.Info("session closed", slog.Int("errors", s.errCount))
	}
}

func (s *Session) closedResponse() Response {
	s.err = ErrSessionClosed
	return s.finish(ResponseServiceUnavailable(s.config.Hostname, "Session closed"))
}

func (s *Session) sequence(ctx context.Context, message string) Response {
	return s.protocolError(ctx, ErrSequence, ResponseBadSequence(message))
}

// protocolError counts a client mistake and closes the session with 421
// once MaxErrors is reached.
func (s *Session) protocolError(ctx context.Context, err error, r Response) Response {
	s.err = err
	s.errCount++
	if max := s.config.MaxErrors; max > 0 && s.errCount >= max {
		s.err = ErrTooManyErrors
		s.logger.Warn("too many errors, closing session", slog.Int("errors", s.errCount))
		s.terminate(ctx)
		return s.finish(ResponseServiceUnavailable(s.config.Hostname, "Too many errors, closing connection"))
	}
	return s.finish(r)
}

func (s *Session) handlerFailure(d Disposition, fault Response) Response {
	s.err = d.Err()
	if d.kind == dispositionFail {
		s.logger.Warn("handler failure", slog.Any("error", s.err))
	} else {
		s.logger.Debug("rejected by handler", slog.Any("error", s.err))
	}
	return s.finish(d.response(Response{}, fault))
}

func (s *Session) finish(r Response) Response {
	if !s.config.EnhancedStatusCodes {
		r.EnhancedCode = ""
	}
	s.logger.Debug("reply", slog.Int("code", int(r.Code)), slog.String("action", r.Action.String()))
	return r
}
