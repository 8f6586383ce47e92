// Package uof holds the Betradar Unified Odds Feed domain types shared by the
// control client, the ingestion pipe and the storage layer: URNs, the feed
// message envelope and sport-event summaries.
package uof

import (
	"errors"
	"fmt"
	"strings"
)

// Event types accepted by the replay endpoint.
const (
	TypeMatch      = "match"
	TypeStage      = "stage"
	TypeSeason     = "season"
	TypeTournament = "tournament"
)

var ErrInvalidURN = errors.New("invalid urn")

// URN identifies a sport event, e.g. "sr:match:12345".
type URN string

// ParseURN validates the three-part prefix:type:id form. The id part must be
// non-empty and numeric; the prefix is usually "sr" but virtual feeds use
// their own, so only its presence is checked.
func ParseURN(s string) (URN, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidURN, s)
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURN, s)
	}
	for _, r := range parts[2] {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidURN, s)
		}
	}
	return URN(s), nil
}

// BuildURN combines an event type and a bare numeric id. Inputs that already
// carry the full URN form are validated and passed through.
func BuildURN(eventType, id string) (URN, error) {
	if strings.Contains(id, ":") {
		return ParseURN(id)
	}
	return ParseURN("sr:" + NormalizeEventType(eventType) + ":" + id)
}

// NormalizeEventType maps loose operator input ("Match", "sr:stage") to a
// known event type, defaulting to match.
func NormalizeEventType(s string) string {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "sr:"))
	switch s {
	case TypeStage, TypeSeason, TypeTournament:
		return s
	default:
		return TypeMatch
	}
}

// Kind returns the type segment ("match", "stage", ...).
func (u URN) Kind() string {
	parts := strings.Split(string(u), ":")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// EventID returns the numeric tail of the URN.
func (u URN) EventID() string {
	parts := strings.Split(string(u), ":")
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

func (u URN) String() string { return string(u) }
