package wren

import (
	"strings"
)

// ParseCommand parses one command line, without its CRLF. Unknown verbs are
// returned as VerbExtension rather than as an error. Errors are *SyntaxError.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return Command{}, syntaxError("", "empty command")
	}

	name, args, _ := strings.Cut(line, " ")
	if !isVerb(name) {
		return Command{}, syntaxError("", "malformed command verb")
	}
	args = strings.TrimLeft(args, " ")

	verb := canonicalizeVerb(name)
	cmd := Command{Verb: verb, Name: strings.ToUpper(name)}

	switch verb {
	case VerbHelo, VerbEhlo:
		if args == "" {
			return Command{}, syntaxError(verb, "domain required")
		}
		if strings.ContainsAny(args, " \t") {
			return Command{}, syntaxError(verb, "unexpected text after domain")
		}
		cmd.Arg = args
	case VerbMail:
		path, params, err := parsePathArg(verb, args, "FROM:", true)
		if err != nil {
			return Command{}, err
		}
		cmd.Path, cmd.Params = path, params
	case VerbRcpt:
		path, params, err := parsePathArg(verb, args, "TO:", false)
		if err != nil {
			return Command{}, err
		}
		cmd.Path, cmd.Params = path, params
	case VerbData, VerbRset, VerbQuit, VerbStartTLS:
		if args != "" {
			return Command{}, syntaxError(verb, "no arguments allowed")
		}
	case VerbVrfy:
		if args == "" {
			return Command{}, syntaxError(verb, "argument required")
		}
		cmd.Arg = args
	case VerbNoop, VerbHelp, VerbExtension:
		cmd.Arg = args
	case VerbAuth:
		fields := strings.Fields(args)
		if len(fields) == 0 || len(fields) > 2 {
			return Command{}, syntaxError(verb, "mechanism required")
		}
		cmd.Mechanism = strings.ToUpper(fields[0])
		if len(fields) == 2 {
			cmd.InitialResponse = fields[1]
		}
	}
	return cmd, nil
}

func isVerb(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

func canonicalizeVerb(name string) Verb {
	switch len(name) {
	case 4:
		for _, v := range [...]Verb{VerbHelo, VerbEhlo, VerbMail, VerbRcpt, VerbData, VerbRset, VerbNoop, VerbQuit, VerbVrfy, VerbHelp, VerbAuth} {
			if strings.EqualFold(name, string(v)) {
				return v
			}
		}
	case 8:
		if strings.EqualFold(name, string(VerbStartTLS)) {
			return VerbStartTLS
		}
	}
	return VerbExtension
}

// parsePathArg parses "FROM:<path> params" or "TO:<path> params".
// A space between the colon and the path is tolerated.
func parsePathArg(verb Verb, args, prefix string, isMail bool) (Path, Params, error) {
	if len(args) < len(prefix) || !strings.EqualFold(args[:len(prefix)], prefix) {
		return Path{}, nil, syntaxError(verb, "expected "+prefix+"<address>")
	}
	rest := strings.TrimLeft(args[len(prefix):], " ")

	path, rest, err := parsePath(rest, isMail, !isMail)
	if err != nil {
		return Path{}, nil, syntaxError(verb, err.Error())
	}
	params, err := parseParams(verb, strings.TrimSpace(rest))
	if err != nil {
		return Path{}, nil, err
	}
	return path, params, nil
}

// parseParams parses ESMTP keyword[=value] pairs. Duplicates are rejected
// (RFC 3461 Section 4.5) and SIZE must be a decimal number.
func parseParams(verb Verb, s string) (Params, error) {
	if s == "" {
		return nil, nil
	}
	params := make(Params)
	for param := range strings.FieldsSeq(s) {
		key, value, hasValue := strings.Cut(param, "=")
		if !isKeyword(key) {
			return nil, syntaxError(verb, "malformed parameter "+param)
		}
		if hasValue && value == "" {
			return nil, syntaxError(verb, "empty value for parameter "+key)
		}
		key = strings.ToUpper(key)
		if _, dup := params[key]; dup {
			return nil, syntaxError(verb, "duplicate parameter "+key)
		}
		params[key] = value
	}
	if v, ok := params["SIZE"]; ok {
		if _, valid := params.Size(); !valid || strings.HasPrefix(v, "+") || strings.HasPrefix(v, "-") {
			return nil, syntaxError(verb, "SIZE must be a decimal number")
		}
	}
	return params, nil
}

// isKeyword reports an RFC 5321 esmtp-keyword: (ALPHA / DIGIT) *(ALPHA / DIGIT / "-").
func isKeyword(s string) bool {
	if s == "" || s[0] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}
