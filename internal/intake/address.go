package intake

import (
	"fmt"
	"net/mail"
	"strings"
)

// Address is an email address split into its parts, the tag is the part
// after the first "+" of the local part (base+tag@domain).
type Address struct {
	Local  string
	Tag    string
	Domain string
}

// ParseAddress parses an address with or without display name. Local part and
// domain are lowercased, the tag is kept as written.
func ParseAddress(s string) (Address, error) {
	parsed, err := mail.ParseAddress(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	at := strings.LastIndex(parsed.Address, "@")
	if at <= 0 || at == len(parsed.Address)-1 {
		return Address{}, fmt.Errorf("parse address %q: missing local part or domain", s)
	}
	local := parsed.Address[:at]
	domain := strings.ToLower(parsed.Address[at+1:])

	tag := ""
	if plus := strings.Index(local, "+"); plus >= 0 {
		tag = local[plus+1:]
		local = local[:plus]
	}
	return Address{
		Local:  strings.ToLower(local),
		Tag:    tag,
		Domain: domain,
	}, nil
}

// Base returns the address without its tag.
func (a Address) Base() string {
	return a.Local + "@" + a.Domain
}

func (a Address) WithTag(tag string) string {
	if tag == "" {
		return a.Base()
	}
	return a.Local + "+" + tag + "@" + a.Domain
}

func (a Address) String() string {
	return a.WithTag(a.Tag)
}

// Routes reports whether a is a tagged variant of the route address.
func (a Address) Routes(route Address) bool {
	return a.Tag != "" && a.Local == route.Local && a.Domain == route.Domain
}

type TargetKind int

const (
	// reply into an existing portal thread
	TargetThread TargetKind = iota
	// new thread to the teacher with the given portal id
	TargetTeacherID
	// new thread to the teacher whose name best matches
	TargetTeacherName
)

// Target is the portal destination encoded in an address tag.
type Target struct {
	Kind  TargetKind
	Value string
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ParseTag decodes a tag: `t<digits>` is a thread, `<digits>` a teacher id
// and anything else a teacher name where dots, dashes and underscores stand
// for spaces.
func ParseTag(tag string) Target {
	if len(tag) > 1 && (tag[0] == 't' || tag[0] == 'T') && isDigits(tag[1:]) {
		return Target{Kind: TargetThread, Value: tag[1:]}
	}
	if isDigits(tag) {
		return Target{Kind: TargetTeacherID, Value: tag}
	}
	name := strings.NewReplacer(".", " ", "-", " ", "_", " ").Replace(tag)
	return Target{Kind: TargetTeacherName, Value: strings.TrimSpace(name)}
}

// ThreadTag is the tag routing a reply into the given portal thread.
func ThreadTag(threadID string) string {
	return "t" + threadID
}
