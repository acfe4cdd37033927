package wren

import (
	"errors"
	"net/netip"
	"strings"

	"golang.org/x/net/idna"

	"github.com/synqronlabs/wren/utils"
)

const (
	maxLocalPartLength = 64  // RFC 5321 Section 4.5.3.1.1
	maxDomainLength    = 255 // RFC 5321 Section 4.5.3.1.2
)

// MailboxAddress is a local-part@domain address (RFC 5321 Section 4.1.2).
// LocalPart holds the unquoted form of a quoted-string local part.
type MailboxAddress struct {
	LocalPart string
	Domain    string
}

// String returns the address, quoting the local part when it is not a dot-atom.
func (m MailboxAddress) String() string {
	if m.LocalPart == "" && m.Domain == "" {
		return ""
	}
	local := m.LocalPart
	if !isDotAtom(local) {
		local = quoteLocalPart(local)
	}
	if m.Domain == "" {
		return local
	}
	return local + "@" + m.Domain
}

// ASCIIDomain returns the domain with any U-labels converted to A-labels.
// Address literals are returned unchanged.
func (m MailboxAddress) ASCIIDomain() (string, error) {
	if strings.HasPrefix(m.Domain, "[") || !utils.ContainsNonASCII(m.Domain) {
		return m.Domain, nil
	}
	return idna.Lookup.ToASCII(m.Domain)
}

// IsASCII reports whether the address can be used without SMTPUTF8.
func (m MailboxAddress) IsASCII() bool {
	return !utils.ContainsNonASCII(m.LocalPart) && !utils.ContainsNonASCII(m.Domain)
}

// Path is an SMTP reverse-path or forward-path. The zero Path is the null
// reverse-path "<>".
type Path struct {
	Mailbox MailboxAddress

	// SourceRoutes holds the obsolete "@a,@b:" route domains. They are
	// parsed so the path is accepted, and otherwise ignored (RFC 5321 Appendix C).
	SourceRoutes []string
}

// IsNull reports whether p is the null reverse-path.
func (p Path) IsNull() bool {
	return p.Mailbox.LocalPart == "" && p.Mailbox.Domain == ""
}

// IsPostmaster reports whether p is the domainless "<Postmaster>" path.
func (p Path) IsPostmaster() bool {
	return p.Mailbox.Domain == "" && strings.EqualFold(p.Mailbox.LocalPart, "postmaster")
}

// String returns the path in angle brackets.
func (p Path) String() string {
	return "<" + p.Mailbox.String() + ">"
}

// ParseMailbox parses "local-part@domain" without angle brackets.
func ParseMailbox(s string) (MailboxAddress, error) {
	if s == "" {
		return MailboxAddress{}, errors.New("empty address")
	}

	var local, rest string
	if s[0] == '"' {
		l, n, err := unquoteLocalPart(s)
		if err != nil {
			return MailboxAddress{}, err
		}
		local, rest = l, s[n:]
		if local == "" {
			return MailboxAddress{}, errors.New("empty local-part")
		}
	} else {
		at := strings.IndexByte(s, '@')
		if at < 0 {
			return MailboxAddress{}, errors.New("missing @ in address")
		}
		local, rest = s[:at], s[at:]
		if !isDotAtom(local) {
			return MailboxAddress{}, errors.New("invalid local-part")
		}
	}
	if len(local) > maxLocalPartLength {
		return MailboxAddress{}, errors.New("local-part too long")
	}

	if rest == "" || rest[0] != '@' {
		return MailboxAddress{}, errors.New("missing @ in address")
	}
	domain := rest[1:]
	if err := validateDomain(domain); err != nil {
		return MailboxAddress{}, err
	}
	return MailboxAddress{LocalPart: local, Domain: domain}, nil
}

// parsePath parses an angle-bracketed path at the start of s and returns the
// text that follows it. allowNull permits "<>"; allowPostmaster permits the
// domainless "<Postmaster>".
func parsePath(s string, allowNull, allowPostmaster bool) (Path, string, error) {
	if s == "" || s[0] != '<' {
		return Path{}, "", errors.New("path must be enclosed in angle brackets")
	}

	end := -1
	inQuote := false
	for i := 1; i < len(s) && end < 0; i++ {
		switch c := s[i]; {
		case inQuote && c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case !inQuote && c == '>':
			end = i
		}
	}
	if end < 0 {
		return Path{}, "", errors.New("missing closing angle bracket")
	}

	inner, rest := s[1:end], s[end+1:]
	if rest != "" && rest[0] != ' ' {
		return Path{}, "", errors.New("unexpected text after path")
	}

	if inner == "" {
		if !allowNull {
			return Path{}, "", errors.New("null path not allowed")
		}
		return Path{}, rest, nil
	}

	var path Path
	if inner[0] == '@' {
		colon := strings.IndexByte(inner, ':')
		if colon < 0 {
			return Path{}, "", errors.New("malformed source route")
		}
		for hop := range strings.SplitSeq(inner[:colon], ",") {
			if len(hop) < 2 || hop[0] != '@' {
				return Path{}, "", errors.New("malformed source route")
			}
			if err := validateDomain(hop[1:]); err != nil {
				return Path{}, "", err
			}
			path.SourceRoutes = append(path.SourceRoutes, hop[1:])
		}
		inner = inner[colon+1:]
	}

	if allowPostmaster && strings.EqualFold(inner, "postmaster") {
		path.Mailbox = MailboxAddress{LocalPart: inner}
		return path, rest, nil
	}

	mb, err := ParseMailbox(inner)
	if err != nil {
		return Path{}, "", err
	}
	path.Mailbox = mb
	return path, rest, nil
}

// unquoteLocalPart reads a quoted-string starting at s[0] and returns its
// unescaped content and the number of bytes consumed.
func unquoteLocalPart(s string) (string, int, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			i++
			if i >= len(s) {
				return "", 0, errors.New("trailing backslash in quoted local-part")
			}
			if s[i] < 32 || s[i] == 127 {
				return "", 0, errors.New("invalid escaped character in local-part")
			}
			b.WriteByte(s[i])
		case c == '"':
			return b.String(), i + 1, nil
		case c < 32 || c == 127:
			return "", 0, errors.New("control character in quoted local-part")
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated quoted local-part")
}

func quoteLocalPart(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

func isDotAtom(s string) bool {
	if s == "" || s[0] == '.' || s[len(s)-1] == '.' || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if r != '.' && !isAtext(r) {
			return false
		}
	}
	return true
}

// isAtext reports RFC 5322 atext, extended with UTF-8 by RFC 6531.
func isAtext(r rune) bool {
	if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r >= 0x80 {
		return true
	}
	return strings.ContainsRune("!#$%&'*+-/=?^_`{|}~", r)
}

func validateDomain(d string) error {
	if d == "" {
		return errors.New("empty domain")
	}
	if len(d) > maxDomainLength {
		return errors.New("domain too long")
	}
	if d[0] == '[' {
		return validateAddressLiteral(d)
	}
	if utils.ContainsNonASCII(d) {
		a, err := idna.Lookup.ToASCII(d)
		if err != nil {
			return errors.New("invalid internationalized domain")
		}
		d = a
	}
	for label := range strings.SplitSeq(d, ".") {
		if !isLDHLabel(label) {
			return errors.New("invalid domain")
		}
	}
	return nil
}

func isLDHLabel(l string) bool {
	if l == "" || len(l) > 63 || l[0] == '-' || l[len(l)-1] == '-' {
		return false
	}
	for i := 0; i < len(l); i++ {
		c := l[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}

// validateAddressLiteral accepts "[1.2.3.4]", "[IPv6:...]" and general
// "[tag:content]" literals (RFC 5321 Section 4.1.3).
func validateAddressLiteral(d string) error {
	if len(d) < 3 || d[len(d)-1] != ']' {
		return errors.New("malformed address literal")
	}
	lit := d[1 : len(d)-1]
	if tag, addr, ok := strings.Cut(lit, ":"); ok {
		if strings.EqualFold(tag, "IPv6") {
			ip, err := netip.ParseAddr(addr)
			if err != nil || !ip.Is6() {
				return errors.New("invalid IPv6 address literal")
			}
			return nil
		}
		if !isLDHLabel(tag) || addr == "" {
			return errors.New("malformed address literal")
		}
		return nil
	}
	ip, err := netip.ParseAddr(lit)
	if err != nil || !ip.Is4() {
		return errors.New("invalid IPv4 address literal")
	}
	return nil
}
