package wren

import (
	"strconv"
)

// Verb identifies a parsed command.
type Verb string

const (
	VerbHelo     Verb = "HELO"
	VerbEhlo     Verb = "EHLO"
	VerbMail     Verb = "MAIL"
	VerbRcpt     Verb = "RCPT"
	VerbData     Verb = "DATA"
	VerbRset     Verb = "RSET"
	VerbNoop     Verb = "NOOP"
	VerbQuit     Verb = "QUIT"
	VerbVrfy     Verb = "VRFY"
	VerbHelp     Verb = "HELP"
	VerbAuth     Verb = "AUTH"
	VerbStartTLS Verb = "STARTTLS"

	// VerbExtension marks any verb the parser does not know. Command.Name
	// carries the verb as sent and Command.Arg the rest of the line.
	VerbExtension Verb = "EXTENSION"
)

// Params holds ESMTP parameters from a MAIL or RCPT command. Keys are upper
// case; a parameter without "=value" maps to the empty string.
type Params map[string]string

// Get returns the value of key, which must be upper case.
func (p Params) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// Size returns the RFC 1870 SIZE value, if declared.
func (p Params) Size() (int64, bool) {
	v, ok := p["SIZE"]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (p Params) clone() Params {
	if p == nil {
		return nil
	}
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Command is one parsed command line.
type Command struct {
	Verb Verb

	// Name is the verb as sent, upper-cased.
	Name string

	// Arg is the HELO/EHLO domain, the VRFY or HELP argument, or the
	// unparsed remainder of an extension command.
	Arg string

	// Path and Params are set for MAIL and RCPT.
	Path   Path
	Params Params

	// Mechanism and InitialResponse are set for AUTH. InitialResponse is
	// "=" when the client sent an explicitly empty response and "" when it
	// sent none.
	Mechanism       string
	InitialResponse string
}
