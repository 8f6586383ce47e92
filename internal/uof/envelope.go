package uof

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
)

// Envelope is the routing metadata common to every feed message: the root
// element name is the message type, and producer/event/timestamp ride along
// as attributes. The payload body is opaque to this layer.
type Envelope struct {
	Type      string // root element, e.g. "odds_change"
	Producer  string // "unknown" when the attribute is missing
	EventID   string // sport event URN, "" for system messages like alive
	Timestamp int64  // message-origin epoch millis, 0 when absent or invalid
}

// ParseEnvelope reads the root element of a feed message. On malformed input
// it still returns a usable envelope with type and producer set to "unknown",
// alongside the parse error, so callers can persist and forward the raw
// payload regardless.
func ParseEnvelope(raw []byte) (Envelope, error) {
	env := Envelope{Type: "unknown", Producer: "unknown"}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return env, fmt.Errorf("parse envelope: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		env.Type = start.Name.Local
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "producer":
				env.Producer = attr.Value
			case "event_id":
				env.EventID = attr.Value
			case "timestamp":
				if ts, err := strconv.ParseInt(attr.Value, 10, 64); err == nil {
					env.Timestamp = ts
				}
			}
		}
		return env, nil
	}
}
