package wren

import (
	"strconv"
	"strings"
)

// Extension is an EHLO keyword.
type Extension string

const (
	ExtPipelining          Extension = "PIPELINING"          // RFC 2920
	Ext8BitMIME            Extension = "8BITMIME"            // RFC 6152
	ExtSMTPUTF8            Extension = "SMTPUTF8"            // RFC 6531
	ExtEnhancedStatusCodes Extension = "ENHANCEDSTATUSCODES" // RFC 2034
	ExtSize                Extension = "SIZE"                // RFC 1870
	ExtSTARTTLS            Extension = "STARTTLS"            // RFC 3207
	ExtAuth                Extension = "AUTH"                // RFC 4954
)

// Capabilities returns the EHLO keyword lines the session currently offers.
// STARTTLS disappears once TLS is active and AUTH once the client has
// authenticated or while TLS is still required for it.
func (s *Session) Capabilities() []string {
	cfg := s.config
	caps := []string{
		string(ExtPipelining),
		string(Ext8BitMIME),
		string(ExtSMTPUTF8),
	}
	if cfg.EnhancedStatusCodes {
		caps = append(caps, string(ExtEnhancedStatusCodes))
	}
	if cfg.MaxMessageSize > 0 {
		caps = append(caps, string(ExtSize)+" "+strconv.FormatInt(cfg.MaxMessageSize, 10))
	}
	if cfg.EnableStartTLS && !s.tls {
		caps = append(caps, string(ExtSTARTTLS))
	}
	if s.authOffered() {
		caps = append(caps, string(ExtAuth)+" "+strings.Join(cfg.AuthMechanisms, " "))
	}
	return caps
}

func (s *Session) authOffered() bool {
	if len(s.config.AuthMechanisms) == 0 || s.authenticated {
		return false
	}
	return s.tls || !s.config.AuthRequiresTLS
}

func (s *Session) ehloResponse(lines []string) Response {
	rb := NewResponse(CodeOK)
	for _, l := range lines {
		rb.Line(l)
	}
	for _, c := range s.Capabilities() {
		rb.Line(c)
	}
	return rb.Build()
}
