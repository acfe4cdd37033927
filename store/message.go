package store

import (
	"bufio"
	"bytes"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/tinylib/msgp/msgp"

	"github.com/synqronlabs/wren"
)

// Message is the metadata kept for a stored message. The content is stored
// separately and read with Store.Body.
type Message struct {
	ID       string
	Envelope *wren.Envelope
	Received time.Time

	// Peer is the client hostname or address the message came from.
	Peer string

	// Subject and MessageID are taken from the message header, if present.
	Subject   string
	MessageID string

	Size int64
}

// readHeader extracts Subject and Message-ID. A malformed header is not an
// error: the message was already accepted.
func readHeader(body []byte) (subject, messageID string) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(body)))
	if err != nil {
		return "", ""
	}
	mh := mail.Header{Header: message.Header{Header: h}}
	subject, err = mh.Subject()
	if err != nil {
		subject = mh.Get("Subject")
	}
	messageID, _ = mh.MessageID()
	return subject, messageID
}

// MarshalMsg appends the MessagePack encoding of m to b.
func (m *Message) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 7)
	b = msgp.AppendString(b, "id")
	b = msgp.AppendString(b, m.ID)
	b = msgp.AppendString(b, "env")
	if m.Envelope == nil {
		b = msgp.AppendNil(b)
	} else {
		var err error
		if b, err = m.Envelope.MarshalMsg(b); err != nil {
			return b, msgp.WrapError(err, "Envelope")
		}
	}
	b = msgp.AppendString(b, "received")
	b = msgp.AppendTime(b, m.Received)
	b = msgp.AppendString(b, "peer")
	b = msgp.AppendString(b, m.Peer)
	b = msgp.AppendString(b, "subject")
	b = msgp.AppendString(b, m.Subject)
	b = msgp.AppendString(b, "msgid")
	b = msgp.AppendString(b, m.MessageID)
	b = msgp.AppendString(b, "size")
	b = msgp.AppendInt64(b, m.Size)
	return b, nil
}

// UnmarshalMsg decodes m from the front of b.
func (m *Message) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	*m = Message{}
	for range n {
		var key []byte
		if key, b, err = msgp.ReadMapKeyZC(b); err != nil {
			return b, err
		}
		switch string(key) {
		case "id":
			m.ID, b, err = msgp.ReadStringBytes(b)
		case "env":
			if msgp.IsNil(b) {
				b, err = msgp.ReadNilBytes(b)
				break
			}
			m.Envelope = new(wren.Envelope)
			b, err = m.Envelope.UnmarshalMsg(b)
		case "received":
			m.Received, b, err = msgp.ReadTimeBytes(b)
		case "peer":
			m.Peer, b, err = msgp.ReadStringBytes(b)
		case "subject":
			m.Subject, b, err = msgp.ReadStringBytes(b)
		case "msgid":
			m.MessageID, b, err = msgp.ReadStringBytes(b)
		case "size":
			m.Size, b, err = msgp.ReadInt64Bytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return b, msgp.WrapError(err, string(key))
		}
	}
	return b, nil
}
