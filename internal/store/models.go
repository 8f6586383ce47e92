package store

import "time"

// Replay session statuses. setting_up is observable while a start is in
// flight but is never written to disk; a crashed start therefore recovers as
// whatever the slot held before.
const (
	StatusIdle      = "idle"
	StatusSettingUp = "setting_up"
	StatusPlaying   = "playing"
	StatusStopped   = "stopped"
)

// Match is the locally mirrored view of a sport event, keyed by its URN.
type Match struct {
	ID          string     `json:"match_id"`
	Name        string     `json:"name,omitempty"`
	Sport       string     `json:"sport,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Status      string     `json:"status,omitempty"`
	HomeTeam    string     `json:"home_team,omitempty"`
	AwayTeam    string     `json:"away_team,omitempty"`
	Raw         string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ReplaySession is the single control slot driven against the remote replay
// endpoint. Rows are never deleted; the latest row is the current slot.
type ReplaySession struct {
	ID        int64      `json:"id"`
	Label     string     `json:"label,omitempty"`
	Status    string     `json:"status"`
	Speed     int        `json:"speed"`
	MaxDelay  int        `json:"max_delay"`
	NodeID    int        `json:"node_id,omitempty"`
	Products  []string   `json:"products,omitempty"`
	StartedBy string     `json:"started_by,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PlaylistItem mirrors one queued event of a session. Positions are ordered
// but not necessarily contiguous.
type PlaylistItem struct {
	SessionID int64     `json:"session_id"`
	MatchID   string    `json:"match_id"`
	Position  int       `json:"position"`
	AddedAt   time.Time `json:"added_at"`
}

// Message is one feed message as received from the replay queue. Append-only.
type Message struct {
	ID         int64     `json:"id"`
	SessionID  *int64    `json:"session_id,omitempty"`
	MatchID    string    `json:"match_id,omitempty"`
	Type       string    `json:"message_type"`
	Producer   string    `json:"producer"`
	Timestamp  int64     `json:"timestamp,omitempty"` // origin epoch millis
	RoutingKey string    `json:"routing_key"`
	RawContent string    `json:"raw_content"`
	Parsed     string    `json:"parsed_data,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// MessageFilter narrows ListMessages. Zero values mean "any".
type MessageFilter struct {
	MatchID   string
	SessionID int64
	Type      string
}
