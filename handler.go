package wren

import (
	"context"
	"fmt"
	"net"

	"github.com/synqronlabs/wren/sasl"
)

// PeerInfo describes the remote end of a session.
type PeerInfo struct {
	// Addr may be nil when the transport has no network address.
	Addr net.Addr

	// Hostname is the reverse DNS name of Addr, if the driver resolved one.
	Hostname string

	// TLS is set when the connection was TLS from the first byte.
	TLS bool
}

type dispositionKind int

const (
	dispositionAccept dispositionKind = iota
	dispositionAcceptWith
	dispositionReject
	dispositionFail
)

// Disposition is a Handler's verdict on one event. The zero value accepts
// with the default reply.
type Disposition struct {
	kind  dispositionKind
	code  SMTPCode
	esc   EnhancedCode
	lines []string
	err   error
}

// Accept accepts with the default reply.
func Accept() Disposition {
	return Disposition{}
}

// AcceptWith accepts with a custom reply. The code must be in the class of
// the default reply (354 for DATA, 2xx otherwise) or the default is used.
func AcceptWith(code SMTPCode, esc EnhancedCode, lines ...string) Disposition {
	return Disposition{kind: dispositionAcceptWith, code: code, esc: esc, lines: lines}
}

// Reject refuses the event with a 4xx or 5xx reply chosen by the handler.
// Any other code is replaced by 554.
func Reject(code SMTPCode, esc EnhancedCode, lines ...string) Disposition {
	return Disposition{kind: dispositionReject, code: code, esc: esc, lines: lines}
}

// Fail reports an internal fault. The client receives a transient failure
// and is not blamed.
func Fail(err error) Disposition {
	return Disposition{kind: dispositionFail, err: err}
}

// Accepted reports whether d lets the event proceed.
func (d Disposition) Accepted() bool {
	return d.kind == dispositionAccept || d.kind == dispositionAcceptWith
}

// Err returns nil for an accepting disposition, an error matching
// ErrHandlerRejected for a rejection and one matching ErrTransientFailure
// for a fault.
func (d Disposition) Err() error {
	switch d.kind {
	case dispositionReject:
		return fmt.Errorf("%w: %d %v", ErrHandlerRejected, d.code, d.lines)
	case dispositionFail:
		if d.err == nil {
			return ErrTransientFailure
		}
		return fmt.Errorf("%w: %w", ErrTransientFailure, d.err)
	}
	return nil
}

// response maps d to a reply, using def for a plain Accept and fault for a
// Fail. The reply class always agrees with the verdict: an AcceptWith code
// outside the class of def yields def, and a Reject code that is not 4xx or
// 5xx becomes 554.
func (d Disposition) response(def, fault Response) Response {
	switch d.kind {
	case dispositionAcceptWith, dispositionReject:
		if d.kind == dispositionAcceptWith && def.Code != 0 && d.code.Class() != def.Code.Class() {
			return def
		}
		code := d.code
		if d.kind == dispositionReject && code.Class() != 4 && code.Class() != 5 {
			code = CodeTransactionFailed
		}
		lines := d.lines
		if len(lines) == 0 {
			lines = def.Lines
			if d.kind == dispositionReject {
				lines = []string{"Requested action not taken"}
			}
		}
		return Response{Code: code, EnhancedCode: d.esc.ForClass(code.Class()), Lines: lines}
	case dispositionFail:
		return fault
	default:
		return def
	}
}

// Handler receives the protocol events of one session. Methods are called
// synchronously, in arrival order, from the goroutine driving the session.
type Handler interface {
	// OnConnect is called by Session.Greet. A rejection closes the session.
	OnConnect(ctx context.Context, peer PeerInfo) Disposition
	OnHelo(ctx context.Context, domain string) Disposition
	OnMail(ctx context.Context, from Path, params Params) Disposition
	OnRcpt(ctx context.Context, to Path, params Params) Disposition
	OnDataStart(ctx context.Context) Disposition

	// OnDataChunk receives one unstuffed body line including its CRLF. The
	// slice is reused after the call returns. Chunks cannot be refused;
	// a handler that fails to store one reports it from OnDataEnd.
	OnDataChunk(ctx context.Context, chunk []byte)

	// OnDataEnd is called at the end-of-data line unless the message was
	// already failed by the engine, for instance for exceeding the size limit.
	OnDataEnd(ctx context.Context) Disposition

	// OnAuth decides whether the decoded credentials are valid.
	OnAuth(ctx context.Context, mechanism string, creds sasl.Credentials) Disposition

	// OnSessionEnd is called exactly once when the session closes.
	OnSessionEnd(ctx context.Context)
}

// Resetter is implemented by handlers that want to know when a transaction
// is discarded by RSET.
type Resetter interface {
	OnReset(ctx context.Context)
}

// Verifier is implemented by handlers that answer VRFY. Without it VRFY
// replies 252.
type Verifier interface {
	OnVerify(ctx context.Context, arg string) Disposition
}

// NopHandler accepts everything and discards message content.
type NopHandler struct{}

var _ Handler = NopHandler{}

func (NopHandler) OnConnect(context.Context, PeerInfo) Disposition { return Accept() }
func (NopHandler) OnHelo(context.Context, string) Disposition      { return Accept() }
func (NopHandler) OnMail(context.Context, Path, Params) Disposition { return Accept() }
func (NopHandler) OnRcpt(context.Context, Path, Params) Disposition { return Accept() }
func (NopHandler) OnDataStart(context.Context) Disposition          { return Accept() }
func (NopHandler) OnDataChunk(context.Context, []byte)              {}
func (NopHandler) OnDataEnd(context.Context) Disposition            { return Accept() }
func (NopHandler) OnSessionEnd(context.Context)                     {}
func (NopHandler) OnAuth(context.Context, string, sasl.Credentials) Disposition {
	return Accept()
}

// Callbacks adapts plain functions to a Handler. Nil fields accept.
type Callbacks struct {
	Connect    func(ctx context.Context, peer PeerInfo) Disposition
	Helo       func(ctx context.Context, domain string) Disposition
	Mail       func(ctx context.Context, from Path, params Params) Disposition
	Rcpt       func(ctx context.Context, to Path, params Params) Disposition
	DataStart  func(ctx context.Context) Disposition
	DataChunk  func(ctx context.Context, chunk []byte)
	DataEnd    func(ctx context.Context) Disposition
	Auth       func(ctx context.Context, mechanism string, creds sasl.Credentials) Disposition
	SessionEnd func(ctx context.Context)
	Reset      func(ctx context.Context)
	Verify     func(ctx context.Context, arg string) Disposition
}

var (
	_ Handler  = (*Callbacks)(nil)
	_ Resetter = (*Callbacks)(nil)
	_ Verifier = (*Callbacks)(nil)
)

func (c *Callbacks) OnConnect(ctx context.Context, peer PeerInfo) Disposition {
	if c.Connect == nil {
		return Accept()
	}
	return c.Connect(ctx, peer)
}

func (c *Callbacks) OnHelo(ctx context.Context, domain string) Disposition {
	if c.Helo == nil {
		return Accept()
	}
	return c.Helo(ctx, domain)
}

func (c *Callbacks) OnMail(ctx context.Context, from Path, params Params) Disposition {
	if c.Mail == nil {
		return Accept()
	}
	return c.Mail(ctx, from, params)
}

func (c *Callbacks) OnRcpt(ctx context.Context, to Path, params Params) Disposition {
	if c.Rcpt == nil {
		return Accept()
	}
	return c.Rcpt(ctx, to, params)
}

func (c *Callbacks) OnDataStart(ctx context.Context) Disposition {
	if c.DataStart == nil {
		return Accept()
	}
	return c.DataStart(ctx)
}

func (c *Callbacks) OnDataChunk(ctx context.Context, chunk []byte) {
	if c.DataChunk != nil {
		c.DataChunk(ctx, chunk)
	}
}

func (c *Callbacks) OnDataEnd(ctx context.Context) Disposition {
	if c.DataEnd == nil {
		return Accept()
	}
	return c.DataEnd(ctx)
}

func (c *Callbacks) OnAuth(ctx context.Context, mechanism string, creds sasl.Credentials) Disposition {
	if c.Auth == nil {
		return Accept()
	}
	return c.Auth(ctx, mechanism, creds)
}

func (c *Callbacks) OnSessionEnd(ctx context.Context) {
	if c.SessionEnd != nil {
		c.SessionEnd(ctx)
	}
}

func (c *Callbacks) OnReset(ctx context.Context) {
	if c.Reset != nil {
		c.Reset(ctx)
	}
}

// OnVerify replies 252 when Verify is nil.
func (c *Callbacks) OnVerify(ctx context.Context, arg string) Disposition {
	if c.Verify == nil {
		return AcceptWith(CodeCannotVRFY, ESCSuccess, ResponseCannotVRFY("").Lines...)
	}
	return c.Verify(ctx, arg)
}
