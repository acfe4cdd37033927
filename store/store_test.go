package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/synqronlabs/wren"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "mail.db"), testLogger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testEnvelope() *wren.Envelope {
	return &wren.Envelope{
		From: wren.Path{Mailbox: wren.MailboxAddress{LocalPart: "alice", Domain: "example.com"}},
		To: []wren.Recipient{
			{Path: wren.Path{Mailbox: wren.MailboxAddress{LocalPart: "bob", Domain: "example.org"}}},
		},
		Params:   wren.Params{"BODY": "8BITMIME"},
		BodyType: wren.BodyType8BitMIME,
	}
}

const testBody = "Subject: =?utf-8?q?Caf=C3=A9?=\r\n" +
	"Message-ID: <1234@example.com>\r\n" +
	"\r\n" +
	"Hello\r\n"

func TestPutGet(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Put(ctx, testEnvelope(), "mx.example.com", []byte(testBody))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	m, err := st.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.ID != id {
		t.Errorf("ID = %q, want %q", m.ID, id)
	}
	if m.Subject != "Café" {
		t.Errorf("Subject = %q, want %q", m.Subject, "Café")
	}
	if m.MessageID != "1234@example.com" {
		t.Errorf("MessageID = %q", m.MessageID)
	}
	if m.Size != int64(len(testBody)) {
		t.Errorf("Size = %d, want %d", m.Size, len(testBody))
	}
	if m.Peer != "mx.example.com" {
		t.Errorf("Peer = %q", m.Peer)
	}
	if m.Received.IsZero() {
		t.Error("Received not set")
	}
	if !reflect.DeepEqual(m.Envelope, testEnvelope()) {
		t.Errorf("Envelope = %+v, want %+v", m.Envelope, testEnvelope())
	}

	body, err := st.Body(id)
	if err != nil {
		t.Fatalf("Body: %v", err)
	}
	if string(body) != testBody {
		t.Errorf("Body = %q", body)
	}
}

func TestPutWithoutHeader(t *testing.T) {
	st := openTestStore(t)

	id, err := st.Put(context.Background(), testEnvelope(), "", []byte("no header here"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	m, err := st.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Subject != "" || m.MessageID != "" {
		t.Errorf("Subject = %q, MessageID = %q, want empty", m.Subject, m.MessageID)
	}
}

func TestPutCancelled(t *testing.T) {
	st := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := st.Put(ctx, testEnvelope(), "", []byte(testBody)); !errors.Is(err, context.Canceled) {
		t.Errorf("Put error = %v, want context.Canceled", err)
	}
}

func TestListDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for range 3 {
		id, err := st.Put(ctx, testEnvelope(), "", []byte(testBody))
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		ids = append(ids, id)
	}

	msgs, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("List returned %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != ids[i] {
			t.Errorf("List[%d].ID = %q, want %q", i, m.ID, ids[i])
		}
	}

	if err := st.Delete(ids[1]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Get(ids[1]); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
	if _, err := st.Body(ids[1]); !errors.Is(err, ErrNotFound) {
		t.Errorf("Body after Delete = %v, want ErrNotFound", err)
	}
	if err := st.Delete(ids[1]); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
	if n, err := st.Count(); err != nil || n != 2 {
		t.Errorf("Count = %d, %v, want 2", n, err)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail.db")
	st, err := Open(path, testLogger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := st.Put(context.Background(), testEnvelope(), "", []byte(testBody))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(path, testLogger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if _, err := st.Get(id); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}

func TestMessageUnknownKeys(t *testing.T) {
	m := Message{ID: "x", Size: 3}
	b, err := m.MarshalMsg(nil)
	if err != nil {
		t.Fatal(err)
	}
	// Bump the map length and append an extra key a newer writer might add.
	b[0]++
	b = append(b, 0xa5, 'e', 'x', 't', 'r', 'a', 0x01)

	var got Message
	rest, err := got.UnmarshalMsg(b)
	if err != nil {
		t.Fatalf("UnmarshalMsg: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("%d bytes left over", len(rest))
	}
	if got.ID != "x" || got.Size != 3 || got.Envelope != nil {
		t.Errorf("got %+v", got)
	}
}

func TestHandlerSession(t *testing.T) {
	st := openTestStore(t)
	engine, err := wren.New("mx.test").Logger(testLogger).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	peer := wren.PeerInfo{Hostname: "client.test"}
	sess := engine.NewSession(NewHandler(st, peer, testLogger), peer)
	ctx := context.Background()
	sess.Greet(ctx)

	input := "EHLO client.test\r\n" +
		"MAIL FROM:<alice@example.com> BODY=8bitmime\r\n" +
		"RCPT TO:<bob@example.org>\r\n" +
		"DATA\r\n" +
		testBody +
		".\r\n" +
		"MAIL FROM:<carol@example.com>\r\n" +
		"RSET\r\n" +
		"QUIT\r\n"
	rs := sess.Feed(ctx, []byte(input))

	var queued string
	for _, r := range rs {
		if msg := r.Message(); strings.HasPrefix(msg, "OK queued as ") {
			queued = strings.TrimPrefix(msg, "OK queued as ")
		}
	}
	if queued == "" {
		t.Fatalf("no queued reply in %v", rs)
	}

	msgs, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("stored %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ID != queued {
		t.Errorf("stored ID %q, reply said %q", m.ID, queued)
	}
	if m.Peer != "client.test" {
		t.Errorf("Peer = %q", m.Peer)
	}
	if m.Envelope.BodyType != wren.BodyType8BitMIME {
		t.Errorf("BodyType = %q", m.Envelope.BodyType)
	}
	if got := m.Envelope.Recipients(); len(got) != 1 || got[0].String() != "<bob@example.org>" {
		t.Errorf("Recipients = %v", got)
	}
	body, _ := st.Body(m.ID)
	if string(body) != testBody {
		t.Errorf("Body = %q", body)
	}
}

func TestHandlerStoreFailure(t *testing.T) {
	st := openTestStore(t)
	h := NewHandler(st, wren.PeerInfo{}, testLogger)
	st.Close()

	ctx := context.Background()
	h.OnMail(ctx, wren.Path{}, nil)
	h.OnDataChunk(ctx, []byte("x\r\n"))
	d := h.OnDataEnd(ctx)
	if d.Accepted() {
		t.Fatal("OnDataEnd accepted with a closed store")
	}
	if !errors.Is(d.Err(), wren.ErrTransientFailure) {
		t.Errorf("Err = %v, want ErrTransientFailure", d.Err())
	}
}
