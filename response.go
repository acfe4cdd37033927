package wren

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// SMTPCode is a three digit SMTP reply code (RFC 5321 Section 4.2).
type SMTPCode int

const (
	CodeSystemStatus   SMTPCode = 211
	CodeHelpMessage    SMTPCode = 214
	CodeServiceReady   SMTPCode = 220
	CodeServiceClosing SMTPCode = 221
	CodeAuthSuccess    SMTPCode = 235
	CodeOK             SMTPCode = 250
	CodeCannotVRFY     SMTPCode = 252

	CodeAuthContinue   SMTPCode = 334
	CodeStartMailInput SMTPCode = 354

	CodeServiceUnavailable  SMTPCode = 421
	CodeMailboxUnavailable  SMTPCode = 450
	CodeLocalError          SMTPCode = 451
	CodeInsufficientStorage SMTPCode = 452
	CodeTempAuthFailure     SMTPCode = 454

	CodeCommandUnrecognized    SMTPCode = 500
	CodeSyntaxError            SMTPCode = 501
	CodeCommandNotImplemented  SMTPCode = 502
	CodeBadSequence            SMTPCode = 503
	CodeParameterNotImpl       SMTPCode = 504
	CodeAuthRequired           SMTPCode = 530
	CodeAuthCredentialsInvalid SMTPCode = 535
	CodeEncryptionRequired     SMTPCode = 538
	CodeMailboxNotFound        SMTPCode = 550
	CodeExceededStorage        SMTPCode = 552
	CodeMailboxNameInvalid     SMTPCode = 553
	CodeTransactionFailed      SMTPCode = 554
	CodeParamsNotRecognized    SMTPCode = 555
)

// Class returns the first digit of the code.
func (c SMTPCode) Class() int {
	return int(c) / 100
}

// EnhancedCode is an RFC 3463 status code in "class.subject.detail" form.
type EnhancedCode string

const (
	ESCSuccess         EnhancedCode = "2.0.0"
	ESCAddressValid    EnhancedCode = "2.1.0"
	ESCRecipientValid  EnhancedCode = "2.1.5"
	ESCMessageAccepted EnhancedCode = "2.6.0"
	ESCSecuritySuccess EnhancedCode = "2.7.0"

	ESCTempFailure           EnhancedCode = "4.0.0"
	ESCTempLocalError        EnhancedCode = "4.3.0"
	ESCTempTooManyRecipients EnhancedCode = "4.5.3"
	ESCTempAuthFailed        EnhancedCode = "4.7.0"

	ESCPermFailure        EnhancedCode = "5.0.0"
	ESCBadDestMailbox     EnhancedCode = "5.1.1"
	ESCBadDestSyntax      EnhancedCode = "5.1.3"
	ESCBadSenderSyntax    EnhancedCode = "5.1.7"
	ESCMailSystemFull     EnhancedCode = "5.3.4"
	ESCInvalidCommand     EnhancedCode = "5.5.0"
	ESCBadCommandSequence EnhancedCode = "5.5.1"
	ESCSyntaxError        EnhancedCode = "5.5.2"
	ESCInvalidArgs        EnhancedCode = "5.5.4"
	ESCNonASCIINoSMTPUTF8 EnhancedCode = "5.6.7"
	ESCSecurityError      EnhancedCode = "5.7.0"
	ESCDeliveryNotAuth    EnhancedCode = "5.7.1"
	ESCAuthCredsInvalid   EnhancedCode = "5.7.8"
	ESCEncryptionRequired EnhancedCode = "5.7.11"
)

func (e EnhancedCode) String() string {
	return string(e)
}

// ForClass rewrites the class digit so it agrees with a reply code class (RFC 2034).
func (e EnhancedCode) ForClass(class int) EnhancedCode {
	if e == "" || class < 2 || class > 5 || class == 3 {
		return e
	}
	return EnhancedCode(strconv.Itoa(class) + string(e[1:]))
}

// Action tells the transport owner what to do after writing a Response.
type Action int

const (
	// ActionReply writes the response and keeps reading.
	ActionReply Action = iota
	// ActionNoReply means nothing is written; used for body lines.
	ActionNoReply
	// ActionClose writes the response and closes the connection.
	ActionClose
	// ActionUpgradeTLS writes the response, performs the server side TLS
	// handshake and then calls Session.TLSStarted.
	ActionUpgradeTLS
)

func (a Action) String() string {
	switch a {
	case ActionReply:
		return "reply"
	case ActionNoReply:
		return "no-reply"
	case ActionClose:
		return "close"
	case ActionUpgradeTLS:
		return "upgrade-tls"
	default:
		return "unknown"
	}
}

// Response is an SMTP reply. A Response with more than one line renders as a
// multi-line reply using "-" continuation markers.
type Response struct {
	Code         SMTPCode
	EnhancedCode EnhancedCode
	Lines        []string
	Action       Action
}

// Message returns the reply text with lines joined by a space.
func (r Response) Message() string {
	return strings.Join(r.Lines, " ")
}

// AppendTo appends the wire form of r, CRLF terminated, to b.
// A line containing CR or LF is split into several reply lines so text
// from a Handler cannot forge a second reply.
func (r Response) AppendTo(b []byte) []byte {
	lines := r.Lines
	if len(lines) == 0 {
		lines = []string{""}
	}
	if slices.ContainsFunc(lines, hasLineBreak) {
		lines = splitLineBreaks(lines)
	}
	for i, line := range lines {
		b = strconv.AppendInt(b, int64(r.Code), 10)
		if i < len(lines)-1 {
			b = append(b, '-')
		} else {
			b = append(b, ' ')
		}
		if r.EnhancedCode != "" {
			b = append(b, r.EnhancedCode...)
			if line != "" {
				b = append(b, ' ')
			}
		}
		b = append(b, line...)
		b = append(b, '\r', '\n')
	}
	return b
}

func hasLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

func splitLineBreaks(lines []string) []string {
	var out []string
	for _, line := range lines {
		out = append(out, strings.FieldsFunc(line, func(c rune) bool { return c == '\r' || c == '\n' })...)
		if strings.Trim(line, "\r\n") == "" {
			out = append(out, "")
		}
	}
	return out
}

// Bytes returns the wire form of r.
func (r Response) Bytes() []byte {
	return r.AppendTo(nil)
}

// WriteTo writes the wire form of r to w.
func (r Response) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Bytes())
	return int64(n), err
}

// String returns the wire form of r without the final CRLF.
func (r Response) String() string {
	return strings.TrimSuffix(string(r.Bytes()), "\r\n")
}

// IsError returns true for 4xx or 5xx codes.
func (r Response) IsError() bool {
	return r.Code >= 400
}

// IsSuccess returns true for 2xx codes.
func (r Response) IsSuccess() bool {
	return r.Code >= 200 && r.Code < 300
}

// IsIntermediate returns true for 3xx codes.
func (r Response) IsIntermediate() bool {
	return r.Code >= 300 && r.Code < 400
}

// IsTransientError returns true for 4xx codes.
func (r Response) IsTransientError() bool {
	return r.Code >= 400 && r.Code < 500
}

// IsPermanentError returns true for 5xx codes.
func (r Response) IsPermanentError() bool {
	return r.Code >= 500
}

// ResponseBuilder assembles a Response line by line.
type ResponseBuilder struct {
	r Response
}

// NewResponse starts a Response with the given code.
func NewResponse(code SMTPCode) *ResponseBuilder {
	return &ResponseBuilder{r: Response{Code: code}}
}

// WithEnhancedCode sets the enhanced status code.
func (rb *ResponseBuilder) WithEnhancedCode(code EnhancedCode) *ResponseBuilder {
	rb.r.EnhancedCode = code
	return rb
}

// Line appends one line of text.
func (rb *ResponseBuilder) Line(text string) *ResponseBuilder {
	rb.r.Lines = append(rb.r.Lines, text)
	return rb
}

// Linef appends one formatted line of text.
func (rb *ResponseBuilder) Linef(format string, args ...any) *ResponseBuilder {
	return rb.Line(fmt.Sprintf(format, args...))
}

// WithAction sets what the transport does after writing the reply.
func (rb *ResponseBuilder) WithAction(a Action) *ResponseBuilder {
	rb.r.Action = a
	return rb
}

// Build returns the Response.
func (rb *ResponseBuilder) Build() Response {
	return rb.r
}

func reply(code SMTPCode, esc EnhancedCode, text string) Response {
	return Response{Code: code, EnhancedCode: esc, Lines: []string{text}}
}

// ResponseServiceReady creates a 220 greeting. The domain must be the first word.
func ResponseServiceReady(domain, message string) Response {
	if message != "" {
		domain += " " + message
	}
	return reply(CodeServiceReady, "", domain)
}

// ResponseServiceClosing creates a 221 reply that closes the connection.
func ResponseServiceClosing(domain, message string) Response {
	if message != "" {
		domain += " " + message
	}
	r := reply(CodeServiceClosing, ESCSuccess, domain)
	r.Action = ActionClose
	return r
}

// ResponseServiceUnavailable creates a 421 reply that closes the connection.
func ResponseServiceUnavailable(domain, message string) Response {
	if message != "" {
		domain += " " + message
	}
	r := reply(CodeServiceUnavailable, ESCTempFailure, domain)
	r.Action = ActionClose
	return r
}

// ResponseOK creates a 250 reply.
func ResponseOK(message string, esc EnhancedCode) Response {
	return reply(CodeOK, esc, message)
}

// ResponseBadSequence creates a 503 reply.
func ResponseBadSequence(message string) Response {
	if message == "" {
		message = "Bad sequence of commands"
	}
	return reply(CodeBadSequence, ESCBadCommandSequence, message)
}

// ResponseSyntaxError creates a 501 reply for malformed arguments.
func ResponseSyntaxError(message string) Response {
	return reply(CodeSyntaxError, ESCInvalidArgs, message)
}

// ResponseCommandUnrecognized creates a 500 reply.
func ResponseCommandUnrecognized(message string) Response {
	if message == "" {
		message = "Syntax error, command unrecognized"
	}
	return reply(CodeCommandUnrecognized, ESCInvalidCommand, message)
}

// ResponseCommandNotImplemented creates a 502 reply.
func ResponseCommandNotImplemented(command string) Response {
	return reply(CodeCommandNotImplemented, ESCInvalidCommand, command+" not implemented")
}

// ResponseCannotVRFY creates a 252 reply.
func ResponseCannotVRFY(message string) Response {
	if message == "" {
		message = "Cannot VRFY user, but will accept message and attempt delivery"
	}
	return reply(CodeCannotVRFY, ESCSuccess, message)
}

// ResponseAuthRequired creates a 530 reply.
func ResponseAuthRequired(message string) Response {
	if message == "" {
		message = "Authentication required"
	}
	return reply(CodeAuthRequired, ESCSecurityError, message)
}

// ResponseAuthCredentialsInvalid creates a 535 reply.
func ResponseAuthCredentialsInvalid(message string) Response {
	if message == "" {
		message = "Authentication credentials invalid"
	}
	return reply(CodeAuthCredentialsInvalid, ESCAuthCredsInvalid, message)
}

// ResponseLocalError creates a 451 reply for faults on the server side.
func ResponseLocalError(message string) Response {
	if message == "" {
		message = "Requested action aborted: local error in processing"
	}
	return reply(CodeLocalError, ESCTempLocalError, message)
}

// ResponseExceededStorage creates a 552 reply.
func ResponseExceededStorage(message string) Response {
	if message == "" {
		message = "Message size exceeds fixed maximum message size"
	}
	return reply(CodeExceededStorage, ESCMailSystemFull, message)
}

// ResponseTransactionFailed creates a 554 reply.
func ResponseTransactionFailed(message string, esc EnhancedCode) Response {
	if message == "" {
		message = "Transaction failed"
	}
	return reply(CodeTransactionFailed, esc, message)
}
