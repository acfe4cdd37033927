package wren

import (
	"context"
	"errors"
	"testing"

	"github.com/synqronlabs/wren/sasl"
)

func TestDispositionResponse(t *testing.T) {
	def := ResponseOK("OK", ESCSuccess)
	fault := ResponseLocalError("")

	tests := []struct {
		name string
		d    Disposition
		want string
	}{
		{"accept", Accept(), "250 2.0.0 OK\r\n"},
		{"accept with", AcceptWith(CodeOK, ESCSuccess, "Queued"), "250 2.0.0 Queued\r\n"},
		{"accept with default text", AcceptWith(CodeOK, ESCSuccess), "250 2.0.0 OK\r\n"},
		{"reject", Reject(CodeMailboxNotFound, ESCBadDestMailbox, "No such user"), "550 5.1.1 No such user\r\n"},
		{"reject class fixed", Reject(CodeMailboxUnavailable, ESCBadDestMailbox, "Later"), "450 4.1.1 Later\r\n"},
		{"reject default text", Reject(CodeTransactionFailed, ESCPermFailure), "554 5.0.0 Requested action not taken\r\n"},
		{"accept with wrong class", AcceptWith(CodeMailboxNotFound, "", "weird"), "250 2.0.0 OK\r\n"},
		{"reject with success code", Reject(CodeOK, ESCSuccess, "No"), "554 5.0.0 No\r\n"},
		{"fail", Fail(errors.New("boom")), "451 4.3.0 Requested action aborted: local error in processing\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(tt.d.response(def, fault).Bytes()); got != tt.want {
				t.Errorf("response = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDispositionErr(t *testing.T) {
	if Accept().Err() != nil || AcceptWith(CodeOK, "").Err() != nil {
		t.Error("accepting disposition has an error")
	}
	if err := Reject(CodeMailboxNotFound, ""); !errors.Is(err.Err(), ErrHandlerRejected) || err.Accepted() {
		t.Errorf("Reject: Err()=%v Accepted()=%v", err.Err(), err.Accepted())
	}
	cause := errors.New("db down")
	err := Fail(cause).Err()
	if !errors.Is(err, ErrTransientFailure) || !errors.Is(err, cause) {
		t.Errorf("Fail: Err() = %v", err)
	}
	if !errors.Is(Fail(nil).Err(), ErrTransientFailure) {
		t.Error("Fail(nil) lost ErrTransientFailure")
	}
}

func TestCallbacksDefaults(t *testing.T) {
	ctx := context.Background()
	var c Callbacks
	if !c.OnConnect(ctx, PeerInfo{}).Accepted() || !c.OnHelo(ctx, "x").Accepted() ||
		!c.OnMail(ctx, Path{}, nil).Accepted() || !c.OnRcpt(ctx, Path{}, nil).Accepted() ||
		!c.OnDataStart(ctx).Accepted() || !c.OnDataEnd(ctx).Accepted() ||
		!c.OnAuth(ctx, "PLAIN", sasl.Credentials{}).Accepted() {
		t.Error("nil callback did not accept")
	}
	c.OnDataChunk(ctx, []byte("x"))
	c.OnReset(ctx)
	c.OnSessionEnd(ctx)

	r := c.OnVerify(ctx, "bob").response(Response{}, Response{})
	if r.Code != CodeCannotVRFY {
		t.Errorf("default VRFY = %d, want 252", r.Code)
	}
}

func TestCallbacksDispatch(t *testing.T) {
	ctx := context.Background()
	var got []string
	c := &Callbacks{
		Mail: func(_ context.Context, from Path, _ Params) Disposition {
			got = append(got, "mail "+from.String())
			return Reject(CodeMailboxNotFound, ESCPermFailure)
		},
		DataChunk: func(_ context.Context, chunk []byte) {
			got = append(got, "chunk "+string(chunk))
		},
		Reset:      func(context.Context) { got = append(got, "reset") },
		SessionEnd: func(context.Context) { got = append(got, "end") },
	}
	if c.OnMail(ctx, Path{Mailbox: MailboxAddress{"a", "x.com"}}, nil).Accepted() {
		t.Error("Mail callback result ignored")
	}
	c.OnDataChunk(ctx, []byte("hi"))
	c.OnReset(ctx)
	c.OnSessionEnd(ctx)

	want := []string{"mail <a@x.com>", "chunk hi", "reset", "end"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}
