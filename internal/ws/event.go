package ws

import (
	"strconv"
	"time"

	"github.com/gdszyy/betradar-replay-tester/internal/store"
)

// TopicGlobal receives every event published to any topic. Connections are
// subscribed to it automatically on register and may opt out.
const TopicGlobal = "global"

// MatchTopic returns the topic carrying feed messages for a single event URN.
func MatchTopic(matchID string) string {
	return "match:" + matchID
}

// SessionTopic returns the topic carrying lifecycle updates for one session.
func SessionTopic(id int64) string {
	return "session:" + strconv.FormatInt(id, 10)
}

// Event is anything the hub can fan out to subscribers.
type Event interface {
	EventType() string
	payload() any
}

// MessageEvent wraps a stored feed message for delivery.
type MessageEvent struct {
	Message *store.Message
}

func (e MessageEvent) EventType() string { return "message" }
func (e MessageEvent) payload() any      { return e.Message }

// StatusEvent announces a replay session state change.
type StatusEvent struct {
	SessionID int64  `json:"session_id"`
	Status    string `json:"status"`
	Degraded  bool   `json:"degraded,omitempty"`
}

func (e StatusEvent) EventType() string { return "replay:status" }
func (e StatusEvent) payload() any      { return e }

// RawEvent carries an arbitrary typed payload, for events that have no
// dedicated struct.
type RawEvent struct {
	Type string
	Data any
}

func (e RawEvent) EventType() string { return e.Type }
func (e RawEvent) payload() any      { return e.Data }

// frame is the wire envelope for every outbound websocket message.
type frame struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Data  any    `json:"data,omitempty"`
	TS    int64  `json:"ts"`
}

func newFrame(eventType, topic string, data any) frame {
	return frame{
		Type:  eventType,
		Topic: topic,
		Data:  data,
		TS:    time.Now().UnixMilli(),
	}
}

// clientRequest is the inbound protocol: subscribe, unsubscribe or ping.
type clientRequest struct {
	Action string `json:"action"`
	Topic  string `json:"topic,omitempty"`
}
