// Package store persists the replay tester's four records (matches, replay
// sessions, playlist items, feed messages) in a single SQLite file. DB is the
// error-returning layer; Gateway wraps it with the degrade-on-failure policy
// the rest of the system relies on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS matches (
	match_id     TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	sport        TEXT NOT NULL DEFAULT '',
	scheduled_at INTEGER,
	status       TEXT NOT NULL DEFAULT '',
	home_team    TEXT NOT NULL DEFAULT '',
	away_team    TEXT NOT NULL DEFAULT '',
	raw          TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS replay_sessions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	label      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'idle',
	speed      INTEGER NOT NULL DEFAULT 10,
	max_delay  INTEGER NOT NULL DEFAULT 10000,
	node_id    INTEGER NOT NULL DEFAULT 0,
	products   TEXT NOT NULL DEFAULT '',
	started_by TEXT NOT NULL DEFAULT '',
	started_at INTEGER,
	ended_at   INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS playlist_items (
	session_id INTEGER NOT NULL,
	match_id   TEXT NOT NULL,
	position   INTEGER NOT NULL,
	added_at   INTEGER NOT NULL,
	PRIMARY KEY (session_id, match_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   INTEGER,
	match_id     TEXT,
	message_type TEXT NOT NULL DEFAULT '',
	producer     TEXT NOT NULL DEFAULT '',
	timestamp    INTEGER NOT NULL DEFAULT 0,
	routing_key  TEXT NOT NULL DEFAULT '',
	raw          BLOB,
	parsed       TEXT NOT NULL DEFAULT '',
	received_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_match ON messages(match_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
CREATE INDEX IF NOT EXISTS idx_matches_updated ON matches(updated_at);
`

type DB struct {
	db     *sql.DB
	codec  *payloadCodec
	logger *zap.Logger
}

func Open(path string, logger *zap.Logger) (*DB, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	codec, err := newPayloadCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db, codec: codec, logger: logger}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between the ingest writer
	// and API readers; WAL keeps the file readable by external tools.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	return db, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// GetMatch returns nil without error when the match is unknown.
func (d *DB) GetMatch(ctx context.Context, id string) (*Match, error) {
	row := d.db.QueryRowContext(ctx, `
SELECT match_id, name, sport, scheduled_at, status, home_team, away_team, raw, created_at, updated_at
FROM matches WHERE match_id = ?`, id)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get match", err)
	}
	return m, nil
}

// UpsertMatch merges on match id, overwriting only fields present in the
// input so partial updates from different sources accumulate.
func (d *DB) UpsertMatch(ctx context.Context, m *Match) error {
	now := time.Now()
	_, err := d.db.ExecContext(ctx, `
INSERT INTO matches (match_id, name, sport, scheduled_at, status, home_team, away_team, raw, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(match_id) DO UPDATE SET
	name         = CASE WHEN excluded.name <> '' THEN excluded.name ELSE matches.name END,
	sport        = CASE WHEN excluded.sport <> '' THEN excluded.sport ELSE matches.sport END,
	scheduled_at = COALESCE(excluded.scheduled_at, matches.scheduled_at),
	status       = CASE WHEN excluded.status <> '' THEN excluded.status ELSE matches.status END,
	home_team    = CASE WHEN excluded.home_team <> '' THEN excluded.home_team ELSE matches.home_team END,
	away_team    = CASE WHEN excluded.away_team <> '' THEN excluded.away_team ELSE matches.away_team END,
	raw          = CASE WHEN excluded.raw <> '' THEN excluded.raw ELSE matches.raw END,
	updated_at   = excluded.updated_at`,
		m.ID, m.Name, m.Sport, nullNS(m.ScheduledAt), m.Status, m.HomeTeam, m.AwayTeam, m.Raw,
		now.UnixNano(), now.UnixNano())
	if err != nil {
		return storageErr("upsert match", err)
	}
	return nil
}

func (d *DB) ListRecentMatches(ctx context.Context, since time.Time, limit int) ([]Match, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT match_id, name, sport, scheduled_at, status, home_team, away_team, raw, created_at, updated_at
FROM matches WHERE updated_at >= ? ORDER BY updated_at DESC LIMIT ?`, since.UnixNano(), limit)
	if err != nil {
		return nil, storageErr("list recent matches", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, storageErr("list recent matches", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list recent matches", err)
	}
	return out, nil
}

// CreateSession inserts s and fills its ID and timestamps.
func (d *DB) CreateSession(ctx context.Context, s *ReplaySession) error {
	now := time.Now()
	if s.Status == "" {
		s.Status = StatusIdle
	}
	res, err := d.db.ExecContext(ctx, `
INSERT INTO replay_sessions (label, status, speed, max_delay, node_id, products, started_by, started_at, ended_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Label, s.Status, s.Speed, s.MaxDelay, s.NodeID, strings.Join(s.Products, ","),
		s.StartedBy, nullNS(s.StartedAt), nullNS(s.EndedAt), now.UnixNano(), now.UnixNano())
	if err != nil {
		return storageErr("create session", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageErr("create session", err)
	}
	s.ID = id
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

func (d *DB) GetSession(ctx context.Context, id int64) (*ReplaySession, error) {
	row := d.db.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get session", err)
	}
	return s, nil
}

// GetLatestSession returns the current slot, nil when no session exists yet.
func (d *DB) GetLatestSession(ctx context.Context) (*ReplaySession, error) {
	row := d.db.QueryRowContext(ctx, sessionSelect+` ORDER BY id DESC LIMIT 1`)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get latest session", err)
	}
	return s, nil
}

// UpdateSession writes every mutable field of s back to its row.
func (d *DB) UpdateSession(ctx context.Context, s *ReplaySession) error {
	now := time.Now()
	_, err := d.db.ExecContext(ctx, `
UPDATE replay_sessions
SET label = ?, status = ?, speed = ?, max_delay = ?, node_id = ?, products = ?,
	started_by = ?, started_at = ?, ended_at = ?, updated_at = ?
WHERE id = ?`,
		s.Label, s.Status, s.Speed, s.MaxDelay, s.NodeID, strings.Join(s.Products, ","),
		s.StartedBy, nullNS(s.StartedAt), nullNS(s.EndedAt), now.UnixNano(), s.ID)
	if err != nil {
		return storageErr("update session", err)
	}
	s.UpdatedAt = now
	return nil
}

// UpdateSessionStatus sets the status and both lifecycle timestamps exactly
// as given; passing nil clears a timestamp.
func (d *DB) UpdateSessionStatus(ctx context.Context, id int64, status string, startedAt, endedAt *time.Time) error {
	now := time.Now()
	_, err := d.db.ExecContext(ctx, `
UPDATE replay_sessions SET status = ?, started_at = ?, ended_at = ?, updated_at = ? WHERE id = ?`,
		status, nullNS(startedAt), nullNS(endedAt), now.UnixNano(), id)
	if err != nil {
		return storageErr("update session status", err)
	}
	return nil
}

func (d *DB) AddPlaylistItem(ctx context.Context, sessionID int64, matchID string, position int) error {
	_, err := d.db.ExecContext(ctx, `
INSERT INTO playlist_items (session_id, match_id, position, added_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id, match_id) DO NOTHING`,
		sessionID, matchID, position, time.Now().UnixNano())
	if err != nil {
		return storageErr("add playlist item", err)
	}
	return nil
}

// RemovePlaylistItem reports whether a row was actually deleted.
func (d *DB) RemovePlaylistItem(ctx context.Context, sessionID int64, matchID string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM playlist_items WHERE session_id = ? AND match_id = ?`, sessionID, matchID)
	if err != nil {
		return false, storageErr("remove playlist item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("remove playlist item", err)
	}
	return n > 0, nil
}

// NextPlaylistPosition returns max(position)+1 for the session, 0 when empty.
func (d *DB) NextPlaylistPosition(ctx context.Context, sessionID int64) (int, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position)+1, 0) FROM playlist_items WHERE session_id = ?`, sessionID)
	var pos int
	if err := row.Scan(&pos); err != nil {
		return 0, storageErr("next playlist position", err)
	}
	return pos, nil
}

func (d *DB) ListPlaylist(ctx context.Context, sessionID int64) ([]PlaylistItem, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT session_id, match_id, position, added_at
FROM playlist_items WHERE session_id = ? ORDER BY position ASC`, sessionID)
	if err != nil {
		return nil, storageErr("list playlist", err)
	}
	defer func() { _ = rows.Close() }()

	var out []PlaylistItem
	for rows.Next() {
		var it PlaylistItem
		var addedNS int64
		if err := rows.Scan(&it.SessionID, &it.MatchID, &it.Position, &addedNS); err != nil {
			return nil, storageErr("list playlist", err)
		}
		it.AddedAt = time.Unix(0, addedNS)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list playlist", err)
	}
	return out, nil
}

// AppendMessage stores one feed message, compressing the raw payload, and
// fills m.ID with the assigned monotonic id.
func (d *DB) AppendMessage(ctx context.Context, m *Message) error {
	var sessionID any
	if m.SessionID != nil {
		sessionID = *m.SessionID
	}
	var matchID any
	if m.MatchID != "" {
		matchID = m.MatchID
	}
	res, err := d.db.ExecContext(ctx, `
INSERT INTO messages (session_id, match_id, message_type, producer, timestamp, routing_key, raw, parsed, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, matchID, m.Type, m.Producer, m.Timestamp, m.RoutingKey,
		d.codec.compress([]byte(m.RawContent)), m.Parsed, m.ReceivedAt.UnixNano())
	if err != nil {
		return storageErr("append message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageErr("append message", err)
	}
	m.ID = id
	return nil
}

// ListMessages returns newest-first, bounded by limit.
func (d *DB) ListMessages(ctx context.Context, f MessageFilter, limit int) ([]Message, error) {
	q := `
SELECT id, session_id, match_id, message_type, producer, timestamp, routing_key, raw, parsed, received_at
FROM messages`
	var conds []string
	var args []any
	if f.MatchID != "" {
		conds = append(conds, "match_id = ?")
		args = append(args, f.MatchID)
	}
	if f.SessionID != 0 {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Type != "" {
		conds = append(conds, "message_type = ?")
		args = append(args, f.Type)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var m Message
		var sessionID sql.NullInt64
		var matchID sql.NullString
		var raw []byte
		var receivedNS int64
		if err := rows.Scan(&m.ID, &sessionID, &matchID, &m.Type, &m.Producer, &m.Timestamp,
			&m.RoutingKey, &raw, &m.Parsed, &receivedNS); err != nil {
			return nil, storageErr("list messages", err)
		}
		if sessionID.Valid {
			m.SessionID = &sessionID.Int64
		}
		m.MatchID = matchID.String
		m.RawContent = string(d.codec.decompress(raw))
		m.ReceivedAt = time.Unix(0, receivedNS)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list messages", err)
	}
	return out, nil
}

const sessionSelect = `
SELECT id, label, status, speed, max_delay, node_id, products, started_by, started_at, ended_at, created_at, updated_at
FROM replay_sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*ReplaySession, error) {
	var s ReplaySession
	var products string
	var startedNS, endedNS sql.NullInt64
	var createdNS, updatedNS int64
	if err := row.Scan(&s.ID, &s.Label, &s.Status, &s.Speed, &s.MaxDelay, &s.NodeID, &products,
		&s.StartedBy, &startedNS, &endedNS, &createdNS, &updatedNS); err != nil {
		return nil, err
	}
	if products != "" {
		s.Products = strings.Split(products, ",")
	}
	s.StartedAt = nsTime(startedNS)
	s.EndedAt = nsTime(endedNS)
	s.CreatedAt = time.Unix(0, createdNS)
	s.UpdatedAt = time.Unix(0, updatedNS)
	return &s, nil
}

func scanMatch(row rowScanner) (*Match, error) {
	var m Match
	var scheduledNS sql.NullInt64
	var createdNS, updatedNS int64
	if err := row.Scan(&m.ID, &m.Name, &m.Sport, &scheduledNS, &m.Status, &m.HomeTeam, &m.AwayTeam,
		&m.Raw, &createdNS, &updatedNS); err != nil {
		return nil, err
	}
	m.ScheduledAt = nsTime(scheduledNS)
	m.CreatedAt = time.Unix(0, createdNS)
	m.UpdatedAt = time.Unix(0, updatedNS)
	return &m, nil
}

func nullNS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nsTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}
