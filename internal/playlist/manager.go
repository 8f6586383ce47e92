package playlist

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gdszyy/betradar-replay-tester/internal/control"
	"github.com/gdszyy/betradar-replay-tester/internal/store"
	"github.com/gdszyy/betradar-replay-tester/internal/uof"
)

const summaryFetchTimeout = 15 * time.Second

// Remote is the slice of the control client the playlist manager drives.
type Remote interface {
	AddEvent(ctx context.Context, urn uof.URN, startTime int) error
	RemoveEvent(ctx context.Context, urn uof.URN) error
	ListEvents(ctx context.Context) ([]control.PlaylistEvent, error)
	EventSummary(ctx context.Context, urn uof.URN, lang string) ([]byte, error)
}

// Entry is one queued event as reported to operators.
type Entry struct {
	MatchID  string `json:"match_id"`
	Type     string `json:"type,omitempty"`
	Position int    `json:"position"`
}

// List is a playlist read. Fallback marks a local-mirror answer served
// because the remote endpoint was unreachable.
type List struct {
	Events   []Entry `json:"events"`
	Fallback bool    `json:"fallback"`
}

// Manager reconciles the remote playlist with the local mirror. The remote
// endpoint decides what will actually replay; the mirror exists so the
// console still has a list to show when the endpoint blips.
type Manager struct {
	gw     *store.Gateway
	remote Remote
	logger *zap.Logger
}

func NewManager(gw *store.Gateway, remote Remote, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{gw: gw, remote: remote, logger: logger}
}

// Add queues an event remotely, then mirrors it with the next ordinal.
// The remote write comes first: a failed remote add persists nothing, so the
// mirror never lists an event the endpoint will not replay.
func (m *Manager) Add(ctx context.Context, matchID, eventType string, startTime int) (*store.PlaylistItem, error) {
	urn, err := uof.BuildURN(eventType, matchID)
	if err != nil {
		return nil, err
	}

	sess := m.gw.EnsureSession(ctx)

	if err := m.remote.AddEvent(ctx, urn, startTime); err != nil {
		return nil, err
	}

	item := &store.PlaylistItem{MatchID: urn.String()}
	if sess != nil {
		item.SessionID = sess.ID
		item.Position = m.gw.NextPlaylistPosition(ctx, sess.ID)
		m.gw.AddPlaylistItem(ctx, sess.ID, urn.String(), item.Position)
	}

	go m.fetchSummary(urn)

	m.logger.Info("playlist add",
		zap.String("matchID", urn.String()),
		zap.Int("position", item.Position))
	return item, nil
}

// Remove deletes an event remotely and from the mirror. A remote 404 counts
// as success so both sides converge on "not present"; any other remote
// failure aborts before the mirror is touched.
func (m *Manager) Remove(ctx context.Context, matchID, eventType string) (bool, error) {
	urn, err := uof.BuildURN(eventType, matchID)
	if err != nil {
		return false, err
	}

	if err := m.remote.RemoveEvent(ctx, urn); err != nil {
		var cerr *control.ControlError
		if !errors.As(err, &cerr) || cerr.Code != http.StatusNotFound {
			return false, err
		}
	}

	removed := false
	if sess := m.gw.GetLatestSession(ctx); sess != nil {
		removed = m.gw.RemovePlaylistItem(ctx, sess.ID, urn.String())
	}

	m.logger.Info("playlist remove",
		zap.String("matchID", urn.String()),
		zap.Bool("removed", removed))
	return removed, nil
}

// Get returns the remote playlist when reachable, otherwise the local
// mirror with Fallback set.
func (m *Manager) Get(ctx context.Context) *List {
	events, err := m.remote.ListEvents(ctx)
	if err == nil {
		out := &List{Events: make([]Entry, 0, len(events))}
		for i, ev := range events {
			out.Events = append(out.Events, Entry{MatchID: ev.ID, Type: ev.Type, Position: i})
		}
		return out
	}

	m.logger.Warn("remote playlist unreachable, serving local mirror", zap.Error(err))
	out := &List{Events: []Entry{}, Fallback: true}
	sess := m.gw.GetLatestSession(ctx)
	if sess == nil {
		return out
	}
	for _, item := range m.gw.ListPlaylist(ctx, sess.ID) {
		entry := Entry{MatchID: item.MatchID, Position: item.Position}
		if urn, err := uof.ParseURN(item.MatchID); err == nil {
			entry.Type = urn.Kind()
		}
		out.Events = append(out.Events, entry)
	}
	return out
}

// fetchSummary pulls the event summary in the background so the console can
// label playlist entries. Failures only cost the label.
func (m *Manager) fetchSummary(urn uof.URN) {
	ctx, cancel := context.WithTimeout(context.Background(), summaryFetchTimeout)
	defer cancel()

	raw, err := m.remote.EventSummary(ctx, urn, "en")
	if err != nil {
		m.logger.Debug("summary fetch failed", zap.String("matchID", urn.String()), zap.Error(err))
		return
	}
	sum, err := uof.ParseMatchSummary(raw)
	if err != nil {
		m.logger.Debug("summary parse failed", zap.String("matchID", urn.String()), zap.Error(err))
		return
	}

	m.gw.UpsertMatch(ctx, &store.Match{
		ID:          urn.String(),
		Name:        sum.Name,
		Sport:       sum.Sport,
		ScheduledAt: sum.Scheduled,
		Status:      sum.Status,
		HomeTeam:    sum.HomeTeam,
		AwayTeam:    sum.AwayTeam,
		Raw:         string(raw),
	})
}
