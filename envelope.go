package wren

// BodyType is the MAIL BODY parameter value (RFC 6152).
type BodyType string

const (
	BodyType7Bit     BodyType = "7BIT"
	BodyType8BitMIME BodyType = "8BITMIME"
)

// Recipient is one accepted forward-path with its RCPT parameters.
type Recipient struct {
	Path   Path
	Params Params
}

// Envelope is the in-progress mail transaction: created by an accepted MAIL,
// extended by each accepted RCPT and discarded on RSET, when the message
// completes, or when MAIL or DATA is rejected.
type Envelope struct {
	From     Path
	To       []Recipient
	Params   Params
	BodyType BodyType

	// Size is the value of the SIZE parameter, or zero.
	Size int64

	SMTPUTF8 bool

	// Auth is the identity the session authenticated as, if any.
	Auth string
}

// Recipients returns the forward-paths in the order they were accepted.
func (e *Envelope) Recipients() []Path {
	paths := make([]Path, len(e.To))
	for i, r := range e.To {
		paths[i] = r.Path
	}
	return paths
}

// Clone returns a deep copy of e.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	c := *e
	c.From.SourceRoutes = append([]string(nil), e.From.SourceRoutes...)
	c.Params = e.Params.clone()
	c.To = make([]Recipient, len(e.To))
	for i, r := range e.To {
		c.To[i] = Recipient{
			Path:   Path{Mailbox: r.Path.Mailbox, SourceRoutes: append([]string(nil), r.Path.SourceRoutes...)},
			Params: r.Params.clone(),
		}
	}
	return &c
}
