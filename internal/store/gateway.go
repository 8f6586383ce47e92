package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gdszyy/betradar-replay-tester/internal/metrics"
)

// Message list bounds applied by the gateway.
const (
	DefaultMessageLimit = 100
	MaxMessageLimit     = 1000
)

// Querier is the storage contract the gateway degrades over. *DB implements
// it; tests substitute failing fakes.
type Querier interface {
	GetMatch(ctx context.Context, id string) (*Match, error)
	UpsertMatch(ctx context.Context, m *Match) error
	ListRecentMatches(ctx context.Context, since time.Time, limit int) ([]Match, error)
	CreateSession(ctx context.Context, s *ReplaySession) error
	GetSession(ctx context.Context, id int64) (*ReplaySession, error)
	GetLatestSession(ctx context.Context) (*ReplaySession, error)
	UpdateSession(ctx context.Context, s *ReplaySession) error
	UpdateSessionStatus(ctx context.Context, id int64, status string, startedAt, endedAt *time.Time) error
	AddPlaylistItem(ctx context.Context, sessionID int64, matchID string, position int) error
	RemovePlaylistItem(ctx context.Context, sessionID int64, matchID string) (bool, error)
	NextPlaylistPosition(ctx context.Context, sessionID int64) (int, error)
	ListPlaylist(ctx context.Context, sessionID int64) ([]PlaylistItem, error)
	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, f MessageFilter, limit int) ([]Message, error)
}

// Gateway shields callers from storage failures: every error is logged and
// turned into an absent/empty result or a false ok flag. Callers degrade,
// they never crash on a broken store.
type Gateway struct {
	q       Querier
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewGateway(q Querier, logger *zap.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{q: q, logger: logger, metrics: m}
}

func (g *Gateway) degrade(op string, err error) {
	g.logger.Warn("storage unavailable", zap.String("op", op), zap.Error(err))
	if g.metrics != nil {
		g.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (g *Gateway) GetMatch(ctx context.Context, id string) *Match {
	m, err := g.q.GetMatch(ctx, id)
	if err != nil {
		g.degrade("get_match", err)
		return nil
	}
	return m
}

func (g *Gateway) UpsertMatch(ctx context.Context, m *Match) bool {
	if err := g.q.UpsertMatch(ctx, m); err != nil {
		g.degrade("upsert_match", err)
		return false
	}
	return true
}

func (g *Gateway) ListRecentMatches(ctx context.Context, since time.Time, limit int) []Match {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	out, err := g.q.ListRecentMatches(ctx, since, limit)
	if err != nil {
		g.degrade("list_recent_matches", err)
		return nil
	}
	return out
}

// CreateSession reports whether s was persisted; on false s.ID stays zero and
// the caller runs with an ephemeral slot.
func (g *Gateway) CreateSession(ctx context.Context, s *ReplaySession) bool {
	if err := g.q.CreateSession(ctx, s); err != nil {
		g.degrade("create_session", err)
		return false
	}
	return true
}

func (g *Gateway) GetSession(ctx context.Context, id int64) *ReplaySession {
	s, err := g.q.GetSession(ctx, id)
	if err != nil {
		g.degrade("get_session", err)
		return nil
	}
	return s
}

func (g *Gateway) GetLatestSession(ctx context.Context) *ReplaySession {
	s, err := g.q.GetLatestSession(ctx)
	if err != nil {
		g.degrade("get_latest_session", err)
		return nil
	}
	return s
}

// EnsureSession returns the current session slot, creating an idle one when
// the table is empty. Returns nil only when storage is down.
func (g *Gateway) EnsureSession(ctx context.Context) *ReplaySession {
	if s := g.GetLatestSession(ctx); s != nil {
		return s
	}
	s := &ReplaySession{Status: StatusIdle}
	if !g.CreateSession(ctx, s) {
		return nil
	}
	return s
}

func (g *Gateway) UpdateSession(ctx context.Context, s *ReplaySession) bool {
	if err := g.q.UpdateSession(ctx, s); err != nil {
		g.degrade("update_session", err)
		return false
	}
	return true
}

func (g *Gateway) UpdateSessionStatus(ctx context.Context, id int64, status string, startedAt, endedAt *time.Time) bool {
	if err := g.q.UpdateSessionStatus(ctx, id, status, startedAt, endedAt); err != nil {
		g.degrade("update_session_status", err)
		return false
	}
	return true
}

func (g *Gateway) AddPlaylistItem(ctx context.Context, sessionID int64, matchID string, position int) bool {
	if err := g.q.AddPlaylistItem(ctx, sessionID, matchID, position); err != nil {
		g.degrade("add_playlist_item", err)
		return false
	}
	return true
}

func (g *Gateway) RemovePlaylistItem(ctx context.Context, sessionID int64, matchID string) bool {
	found, err := g.q.RemovePlaylistItem(ctx, sessionID, matchID)
	if err != nil {
		g.degrade("remove_playlist_item", err)
		return false
	}
	return found
}

func (g *Gateway) NextPlaylistPosition(ctx context.Context, sessionID int64) int {
	pos, err := g.q.NextPlaylistPosition(ctx, sessionID)
	if err != nil {
		g.degrade("next_playlist_position", err)
		return 0
	}
	return pos
}

func (g *Gateway) ListPlaylist(ctx context.Context, sessionID int64) []PlaylistItem {
	items, err := g.q.ListPlaylist(ctx, sessionID)
	if err != nil {
		g.degrade("list_playlist", err)
		return nil
	}
	return items
}

// AppendMessage reports success; the ingestion pipe keeps publishing live on
// failure, so durability loss is visible only in the log and the counter.
func (g *Gateway) AppendMessage(ctx context.Context, m *Message) bool {
	if err := g.q.AppendMessage(ctx, m); err != nil {
		g.degrade("append_message", err)
		return false
	}
	return true
}

// ListMessages applies the default and maximum limits before querying.
func (g *Gateway) ListMessages(ctx context.Context, f MessageFilter, limit int) []Message {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}
	out, err := g.q.ListMessages(ctx, f, limit)
	if err != nil {
		g.degrade("list_messages", err)
		return nil
	}
	return out
}
