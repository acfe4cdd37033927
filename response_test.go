package wren

import (
	"bytes"
	"testing"
)

func TestResponseBytes(t *testing.T) {
	tests := []struct {
		name string
		r    Response
		want string
	}{
		{
			name: "single line with enhanced code",
			r:    ResponseOK("OK", ESCSuccess),
			want: "250 2.0.0 OK\r\n",
		},
		{
			name: "no enhanced code",
			r:    ResponseServiceReady("mx.example.com", "ESMTP ready"),
			want: "220 mx.example.com ESMTP ready\r\n",
		},
		{
			name: "multi-line",
			r:    NewResponse(CodeOK).Line("mx.example.com Hello c").Line("PIPELINING").Line("SIZE 1000").Build(),
			want: "250-mx.example.com Hello c\r\n250-PIPELINING\r\n250 SIZE 1000\r\n",
		},
		{
			name: "multi-line with enhanced code",
			r:    NewResponse(CodeHelpMessage).WithEnhancedCode(ESCSuccess).Line("a").Line("b").Build(),
			want: "214-2.0.0 a\r\n214 2.0.0 b\r\n",
		},
		{
			name: "empty auth challenge",
			r:    Response{Code: CodeAuthContinue, Lines: []string{""}},
			want: "334 \r\n",
		},
		{
			name: "no lines",
			r:    Response{Code: CodeOK},
			want: "250 \r\n",
		},
		{
			name: "line breaks in text become continuation lines",
			r:    Response{Code: CodeMailboxNotFound, EnhancedCode: ESCBadDestMailbox, Lines: []string{"no\r\n250 ok"}},
			want: "550-5.1.1 no\r\n550 5.1.1 250 ok\r\n",
		},
		{
			name: "bare LF in text",
			r:    Response{Code: CodeOK, Lines: []string{"a\nb", "c"}},
			want: "250-a\r\n250-b\r\n250 c\r\n",
		},
		{
			name: "formatted",
			r:    NewResponse(CodeOK).WithEnhancedCode(ESCSuccess).Linef("queued as %d", 42).Build(),
			want: "250 2.0.0 queued as 42\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(tt.r.Bytes()); got != tt.want {
				t.Errorf("Bytes() = %q, want %q", got, tt.want)
			}
			var buf bytes.Buffer
			n, err := tt.r.WriteTo(&buf)
			if err != nil || n != int64(len(tt.want)) || buf.String() != tt.want {
				t.Errorf("WriteTo() = %d, %v, %q", n, err, buf.String())
			}
		})
	}
}

func TestResponseHelpers(t *testing.T) {
	tests := []struct {
		name   string
		r      Response
		code   SMTPCode
		esc    EnhancedCode
		action Action
	}{
		{"closing", ResponseServiceClosing("h", "bye"), CodeServiceClosing, ESCSuccess, ActionClose},
		{"unavailable", ResponseServiceUnavailable("h", ""), CodeServiceUnavailable, ESCTempFailure, ActionClose},
		{"bad sequence", ResponseBadSequence(""), CodeBadSequence, ESCBadCommandSequence, ActionReply},
		{"syntax", ResponseSyntaxError("x"), CodeSyntaxError, ESCInvalidArgs, ActionReply},
		{"unrecognized", ResponseCommandUnrecognized(""), CodeCommandUnrecognized, ESCInvalidCommand, ActionReply},
		{"not implemented", ResponseCommandNotImplemented("EXPN"), CodeCommandNotImplemented, ESCInvalidCommand, ActionReply},
		{"cannot vrfy", ResponseCannotVRFY(""), CodeCannotVRFY, ESCSuccess, ActionReply},
		{"auth required", ResponseAuthRequired(""), CodeAuthRequired, ESCSecurityError, ActionReply},
		{"auth invalid", ResponseAuthCredentialsInvalid(""), CodeAuthCredentialsInvalid, ESCAuthCredsInvalid, ActionReply},
		{"local error", ResponseLocalError(""), CodeLocalError, ESCTempLocalError, ActionReply},
		{"storage", ResponseExceededStorage(""), CodeExceededStorage, ESCMailSystemFull, ActionReply},
		{"transaction failed", ResponseTransactionFailed("", ESCPermFailure), CodeTransactionFailed, ESCPermFailure, ActionReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.r.Code != tt.code || tt.r.EnhancedCode != tt.esc || tt.r.Action != tt.action {
				t.Errorf("got %d %s %s, want %d %s %s", tt.r.Code, tt.r.EnhancedCode, tt.r.Action, tt.code, tt.esc, tt.action)
			}
			if tt.r.Message() == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestResponseClassification(t *testing.T) {
	tests := []struct {
		code                                     SMTPCode
		success, intermediate, transient, perm bool
	}{
		{CodeOK, true, false, false, false},
		{CodeStartMailInput, false, true, false, false},
		{CodeLocalError, false, false, true, false},
		{CodeBadSequence, false, false, false, true},
	}
	for _, tt := range tests {
		r := Response{Code: tt.code}
		if r.IsSuccess() != tt.success || r.IsIntermediate() != tt.intermediate ||
			r.IsTransientError() != tt.transient || r.IsPermanentError() != tt.perm ||
			r.IsError() != (tt.transient || tt.perm) {
			t.Errorf("classification of %d is wrong", tt.code)
		}
	}
}

func TestEnhancedCodeForClass(t *testing.T) {
	tests := []struct {
		esc   EnhancedCode
		class int
		want  EnhancedCode
	}{
		{"5.1.1", 4, "4.1.1"},
		{"4.7.0", 5, "5.7.0"},
		{"2.0.0", 2, "2.0.0"},
		{"5.5.0", 3, "5.5.0"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := tt.esc.ForClass(tt.class); got != tt.want {
			t.Errorf("%q.ForClass(%d) = %q, want %q", tt.esc, tt.class, got, tt.want)
		}
	}
}

func TestResponseString(t *testing.T) {
	r := NewResponse(CodeOK).Line("a").Line("b").Build()
	if got := r.String(); got != "250-a\r\n250 b" {
		t.Errorf("String() = %q", got)
	}
}
