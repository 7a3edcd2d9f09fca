package offer

import (
	"regexp"
	"strings"
)

var mentionRe = regexp.MustCompile(`^<@([UW][A-Z0-9]+)(?:\|([^>]*))?>$`)

// Handle is a reference to a workspace member as typed by a person.
type Handle struct {
	Raw  string
	ID   string
	Name string
}

// ParseHandle splits raw into an embedded member ID and/or a bare name.
// "<@U123>" and "<@U123|dan>" carry an ID; "@dan" and "dan" carry a name.
func ParseHandle(raw string) Handle {
	h := Handle{Raw: strings.TrimSpace(raw)}
	if h.Raw == "" {
		return h
	}
	if m := mentionRe.FindStringSubmatch(h.Raw); m != nil {
		h.ID = m[1]
		h.Name = m[2]
		return h
	}
	name := strings.Trim(h.Raw, "<>")
	h.Name = strings.TrimPrefix(name, "@")
	return h
}

// IsZero reports whether no handle was given.
func (h Handle) IsZero() bool { return h.Raw == "" }

// Embedded reports whether the handle carries a member ID.
func (h Handle) Embedded() bool { return h.ID != "" }

// Member is the subset of a directory entry used for handle matching.
type Member struct {
	ID          string
	Username    string
	DisplayName string
	RealName    string
	Email       string
	Deleted     bool
}

// MatchMember finds name in members, comparing case-insensitively against
// username, display name, real name and email in that order of preference.
// An email matches on the full address or its local part.
func MatchMember(members []Member, name string) (Member, bool) {
	name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "@"))
	if name == "" {
		return Member{}, false
	}
	fields := []func(Member) []string{
		func(m Member) []string { return []string{m.Username} },
		func(m Member) []string { return []string{m.DisplayName} },
		func(m Member) []string { return []string{m.RealName} },
		func(m Member) []string {
			local, _, _ := strings.Cut(m.Email, "@")
			return []string{m.Email, local}
		},
	}
	for _, field := range fields {
		for _, m := range members {
			if m.Deleted {
				continue
			}
			for _, v := range field(m) {
				if v != "" && strings.EqualFold(v, name) {
					return m, true
				}
			}
		}
	}
	return Member{}, false
}
