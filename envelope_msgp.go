package wren

import (
	"github.com/tinylib/msgp/msgp"
)

// Envelopes are persisted as a MessagePack map so that fields can be added
// without breaking records written by older versions. Unknown keys are skipped.

var (
	_ msgp.Marshaler   = (*Envelope)(nil)
	_ msgp.Unmarshaler = (*Envelope)(nil)
	_ msgp.Sizer       = (*Envelope)(nil)
)

// MarshalMsg appends the MessagePack encoding of e to b.
func (e *Envelope) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.Require(b, e.Msgsize())
	b = msgp.AppendMapHeader(b, 7)
	b = msgp.AppendString(b, "from")
	b = appendPath(b, e.From)
	b = msgp.AppendString(b, "to")
	b = msgp.AppendArrayHeader(b, uint32(len(e.To)))
	for _, r := range e.To {
		b = msgp.AppendArrayHeader(b, 2)
		b = appendPath(b, r.Path)
		b = appendParams(b, r.Params)
	}
	b = msgp.AppendString(b, "params")
	b = appendParams(b, e.Params)
	b = msgp.AppendString(b, "body")
	b = msgp.AppendString(b, string(e.BodyType))
	b = msgp.AppendString(b, "size")
	b = msgp.AppendInt64(b, e.Size)
	b = msgp.AppendString(b, "utf8")
	b = msgp.AppendBool(b, e.SMTPUTF8)
	b = msgp.AppendString(b, "auth")
	b = msgp.AppendString(b, e.Auth)
	return b, nil
}

// UnmarshalMsg decodes e from the front of b and returns the remaining bytes.
func (e *Envelope) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	*e = Envelope{}
	for range n {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return b, err
		}
		switch string(key) {
		case "from":
			e.From, b, err = readPath(b)
			if err != nil {
				return b, msgp.WrapError(err, "From")
			}
		case "to":
			var cnt uint32
			cnt, b, err = msgp.ReadArrayHeaderBytes(b)
			if err != nil {
				return b, msgp.WrapError(err, "To")
			}
			e.To = make([]Recipient, cnt)
			for i := range e.To {
				var sz uint32
				sz, b, err = msgp.ReadArrayHeaderBytes(b)
				if err != nil {
					return b, msgp.WrapError(err, "To", i)
				}
				if sz != 2 {
					return b, msgp.WrapError(msgp.ArrayError{Wanted: 2, Got: sz}, "To", i)
				}
				e.To[i].Path, b, err = readPath(b)
				if err != nil {
					return b, msgp.WrapError(err, "To", i)
				}
				e.To[i].Params, b, err = readParams(b)
				if err != nil {
					return b, msgp.WrapError(err, "To", i)
				}
			}
		case "params":
			e.Params, b, err = readParams(b)
			if err != nil {
				return b, msgp.WrapError(err, "Params")
			}
		case "body":
			var s string
			s, b, err = msgp.ReadStringBytes(b)
			if err != nil {
				return b, msgp.WrapError(err, "BodyType")
			}
			e.BodyType = BodyType(s)
		case "size":
			e.Size, b, err = msgp.ReadInt64Bytes(b)
			if err != nil {
				return b, msgp.WrapError(err, "Size")
			}
		case "utf8":
			e.SMTPUTF8, b, err = msgp.ReadBoolBytes(b)
			if err != nil {
				return b, msgp.WrapError(err, "SMTPUTF8")
			}
		case "auth":
			e.Auth, b, err = msgp.ReadStringBytes(b)
			if err != nil {
				return b, msgp.WrapError(err, "Auth")
			}
		default:
			b, err = msgp.Skip(b)
			if err != nil {
				return b, err
			}
		}
	}
	return b, nil
}

// Msgsize returns an upper bound of the encoded size of e.
func (e *Envelope) Msgsize() int {
	s := msgp.MapHeaderSize +
		5 + pathMsgsize(e.From) +
		3 + msgp.ArrayHeaderSize +
		7 + paramsMsgsize(e.Params) +
		5 + msgp.StringPrefixSize + len(e.BodyType) +
		5 + msgp.Int64Size +
		5 + msgp.BoolSize +
		5 + msgp.StringPrefixSize + len(e.Auth)
	for _, r := range e.To {
		s += msgp.ArrayHeaderSize + pathMsgsize(r.Path) + paramsMsgsize(r.Params)
	}
	return s
}

// A path is encoded as [local, domain, [route...]].
func appendPath(b []byte, p Path) []byte {
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendString(b, p.Mailbox.LocalPart)
	b = msgp.AppendString(b, p.Mailbox.Domain)
	b = msgp.AppendArrayHeader(b, uint32(len(p.SourceRoutes)))
	for _, r := range p.SourceRoutes {
		b = msgp.AppendString(b, r)
	}
	return b
}

func readPath(b []byte) (Path, []byte, error) {
	var p Path
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return p, b, err
	}
	if sz != 3 {
		return p, b, msgp.ArrayError{Wanted: 3, Got: sz}
	}
	if p.Mailbox.LocalPart, b, err = msgp.ReadStringBytes(b); err != nil {
		return p, b, err
	}
	if p.Mailbox.Domain, b, err = msgp.ReadStringBytes(b); err != nil {
		return p, b, err
	}
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return p, b, err
	}
	if n > 0 {
		p.SourceRoutes = make([]string, n)
		for i := range p.SourceRoutes {
			if p.SourceRoutes[i], b, err = msgp.ReadStringBytes(b); err != nil {
				return p, b, err
			}
		}
	}
	return p, b, nil
}

func pathMsgsize(p Path) int {
	s := 2*msgp.ArrayHeaderSize + 2*msgp.StringPrefixSize + len(p.Mailbox.LocalPart) + len(p.Mailbox.Domain)
	for _, r := range p.SourceRoutes {
		s += msgp.StringPrefixSize + len(r)
	}
	return s
}

// Nil params are encoded as nil so they decode back to nil.
func appendParams(b []byte, p Params) []byte {
	if p == nil {
		return msgp.AppendNil(b)
	}
	b = msgp.AppendMapHeader(b, uint32(len(p)))
	for k, v := range p {
		b = msgp.AppendString(b, k)
		b = msgp.AppendString(b, v)
	}
	return b
}

func readParams(b []byte) (Params, []byte, error) {
	if msgp.IsNil(b) {
		b, err := msgp.ReadNilBytes(b)
		return nil, b, err
	}
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	p := make(Params, n)
	for range n {
		var k, v string
		if k, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, b, err
		}
		if v, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, b, err
		}
		p[k] = v
	}
	return p, b, nil
}

func paramsMsgsize(p Params) int {
	s := msgp.MapHeaderSize
	for k, v := range p {
		s += 2*msgp.StringPrefixSize + len(k) + len(v)
	}
	return s
}
