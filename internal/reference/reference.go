// Package reference decodes the hierarchical codes printed on member cards
// and resolves them against the group directory.
//
// Two code shapes exist in the field. The strict card format is
// COUNTRY.DISTRICT.SACCO.GROUP.MEMBER (5 segments) or the legacy
// DISTRICT.SACCO.GROUP.MEMBER (4 segments). References typed into payment
// messages are looser: the group code always sits at index 2 and the member
// code, when present, at index 3.
package reference

import "strings"

// Token is a fully parsed card reference.
type Token struct {
	Country  string
	District string
	Sacco    string
	Group    string
	Member   string
}

// ParseToken parses a strict card reference. It accepts the 5-segment
// country-qualified form and the 4-segment legacy form, and returns ok=false
// for anything else.
func ParseToken(raw string) (Token, bool) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(raw)), ".")

	switch len(parts) {
	case 5:
		return Token{
			Country:  parts[0],
			District: parts[1],
			Sacco:    parts[2],
			Group:    parts[3],
			Member:   parts[4],
		}, true
	case 4:
		return Token{
			District: parts[0],
			Sacco:    parts[1],
			Group:    parts[2],
			Member:   parts[3],
		}, true
	default:
		return Token{}, false
	}
}

// SplitCodes extracts the group and member codes from a free-form payment
// reference. Fewer than 3 segments yields nothing; the member code is
// optional.
func SplitCodes(reference string) (groupCode, memberCode string) {
	if reference == "" {
		return "", ""
	}
	parts := strings.Split(reference, ".")
	if len(parts) < 3 {
		return "", ""
	}
	groupCode = parts[2]
	if len(parts) >= 4 {
		memberCode = parts[3]
	}
	return groupCode, memberCode
}
