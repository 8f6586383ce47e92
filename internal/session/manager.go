package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gdszyy/betradar-replay-tester/internal/control"
	"github.com/gdszyy/betradar-replay-tester/internal/store"
	"github.com/gdszyy/betradar-replay-tester/internal/ws"
)

// Defaults and allowed ranges for start parameters.
const (
	DefaultSpeed    = 10
	DefaultMaxDelay = 10000

	minSpeed    = 1
	maxSpeed    = 100
	minMaxDelay = 1000
	maxMaxDelay = 60000
)

// ControlAPI is the slice of the remote control client the state machine
// drives.
type ControlAPI interface {
	Start(ctx context.Context, p control.StartParams) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	Status(ctx context.Context) (*control.StatusInfo, error)
	Scenarios(ctx context.Context) ([]control.Scenario, error)
	PlayScenario(ctx context.Context, id string) error
}

// Publisher pushes session lifecycle events to live subscribers.
type Publisher interface {
	Publish(topic string, ev ws.Event) bool
}

// StartOpts are the operator-supplied start parameters. Zero speed and
// max delay take the defaults.
type StartOpts struct {
	Label              string   `json:"label,omitempty"`
	Speed              int      `json:"speed,omitempty"`
	MaxDelay           int      `json:"max_delay,omitempty"`
	UseReplayTimestamp bool     `json:"use_replay_timestamp,omitempty"`
	NodeID             int      `json:"node_id,omitempty"`
	Products           []string `json:"products,omitempty"`
	StartedBy          string   `json:"started_by,omitempty"`
}

func (o *StartOpts) normalize() error {
	if o.Speed == 0 {
		o.Speed = DefaultSpeed
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Speed < minSpeed || o.Speed > maxSpeed {
		return &ValidationError{Field: "speed", Message: fmt.Sprintf("must be between %d and %d", minSpeed, maxSpeed)}
	}
	if o.MaxDelay < minMaxDelay || o.MaxDelay > maxMaxDelay {
		return &ValidationError{Field: "max_delay", Message: fmt.Sprintf("must be between %d and %d", minMaxDelay, maxMaxDelay)}
	}
	return nil
}

// StatusResult is what status queries return. Status is the local view,
// with an in-memory setting_up overlay while a start is in flight. Remote
// carries the endpoint's answer when reachable; Degraded is set instead of
// failing when it is not.
type StatusResult struct {
	Status   string               `json:"status"`
	Remote   string               `json:"remote_status,omitempty"`
	Degraded bool                 `json:"degraded"`
	Session  *store.ReplaySession `json:"session,omitempty"`
}

// Manager owns the single replay session slot. Every transition funnels
// through it; nothing else mutates session rows.
type Manager struct {
	gw     *store.Gateway
	remote ControlAPI
	bus    Publisher
	logger *zap.Logger

	currentID atomic.Int64

	mu           sync.Mutex
	inFlight     bool
	transitional string // setting_up while a start is in flight, never persisted

	statusGroup singleflight.Group
}

func NewManager(gw *store.Gateway, remote ControlAPI, bus Publisher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{gw: gw, remote: remote, bus: bus, logger: logger}
}

// Restore seeds the slot from storage at startup so ingestion stamps
// messages correctly after a daemon restart.
func (m *Manager) Restore(ctx context.Context) {
	if sess := m.gw.GetLatestSession(ctx); sess != nil {
		m.currentID.Store(sess.ID)
		m.logger.Info("restored session slot",
			zap.Int64("sessionID", sess.ID),
			zap.String("status", sess.Status))
	}
}

// CurrentID returns the id of the current session slot, zero when none
// exists yet.
func (m *Manager) CurrentID() int64 {
	return m.currentID.Load()
}

// Start drives the slot through setting_up into playing. The persisted
// status changes only after the remote endpoint accepts the start, so a
// failed attempt leaves no false "live" state behind.
func (m *Manager) Start(ctx context.Context, opts StartOpts) (*store.ReplaySession, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if err := m.acquire(); err != nil {
		return nil, err
	}
	defer m.release()

	sess := m.gw.EnsureSession(ctx)
	if sess != nil {
		m.currentID.Store(sess.ID)
		if sess.Status == store.StatusPlaying {
			return nil, &ConflictError{Message: "replay already playing"}
		}
	}

	m.setTransitional(store.StatusSettingUp)
	m.publishStatus(sess, store.StatusSettingUp, false)

	err := m.remote.Start(ctx, control.StartParams{
		Speed:              opts.Speed,
		MaxDelay:           opts.MaxDelay,
		UseReplayTimestamp: opts.UseReplayTimestamp,
		NodeID:             opts.NodeID,
		Products:           opts.Products,
	})
	if err != nil {
		// Observers see the slot fall back to whatever it held before.
		m.publishStatus(sess, persistedStatus(sess), false)
		return nil, err
	}

	now := time.Now().UTC()
	if sess != nil {
		if opts.Label != "" {
			sess.Label = opts.Label
		}
		if opts.StartedBy != "" {
			sess.StartedBy = opts.StartedBy
		}
		sess.Status = store.StatusPlaying
		sess.Speed = opts.Speed
		sess.MaxDelay = opts.MaxDelay
		sess.NodeID = opts.NodeID
		sess.Products = opts.Products
		sess.StartedAt = &now
		sess.EndedAt = nil
		m.gw.UpdateSession(ctx, sess)
	}
	m.publishStatus(sess, store.StatusPlaying, false)
	m.logger.Info("replay started",
		zap.Int("speed", opts.Speed),
		zap.Int("maxDelay", opts.MaxDelay),
		zap.Int("nodeID", opts.NodeID))
	return sess, nil
}

// Stop ends playback. Stopping an already stopped slot is a no-op success;
// stopping an idle slot is a conflict.
func (m *Manager) Stop(ctx context.Context) (*store.ReplaySession, error) {
	if err := m.acquire(); err != nil {
		return nil, err
	}
	defer m.release()

	sess := m.gw.GetLatestSession(ctx)
	if sess != nil {
		m.currentID.Store(sess.ID)
		switch sess.Status {
		case store.StatusStopped:
			return sess, nil
		case store.StatusIdle:
			return nil, &ConflictError{Message: "no replay in progress"}
		}
	}

	if err := m.remote.Stop(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if sess != nil {
		sess.Status = store.StatusStopped
		sess.EndedAt = &now
		m.gw.UpdateSessionStatus(ctx, sess.ID, store.StatusStopped, sess.StartedAt, &now)
	}
	m.publishStatus(sess, store.StatusStopped, false)
	m.logger.Info("replay stopped")
	return sess, nil
}

// Reset returns the slot to idle from any state and clears its timestamps.
// The playlist is preserved; operators replay the same lineup repeatedly.
func (m *Manager) Reset(ctx context.Context) (*store.ReplaySession, error) {
	if err := m.acquire(); err != nil {
		return nil, err
	}
	defer m.release()

	sess := m.gw.GetLatestSession(ctx)
	if sess != nil {
		m.currentID.Store(sess.ID)
	}

	if err := m.remote.Reset(ctx); err != nil {
		return nil, err
	}

	if sess != nil {
		sess.Status = store.StatusIdle
		sess.StartedAt = nil
		sess.EndedAt = nil
		m.gw.UpdateSessionStatus(ctx, sess.ID, store.StatusIdle, nil, nil)
	}
	m.publishStatus(sess, store.StatusIdle, false)
	m.logger.Info("replay reset")
	return sess, nil
}

// PlayScenario starts one of the endpoint's predefined scenarios instead of
// the queued playlist.
func (m *Manager) PlayScenario(ctx context.Context, id string) (*store.ReplaySession, error) {
	if err := m.acquire(); err != nil {
		return nil, err
	}
	defer m.release()

	sess := m.gw.EnsureSession(ctx)
	if sess != nil {
		m.currentID.Store(sess.ID)
		if sess.Status == store.StatusPlaying {
			return nil, &ConflictError{Message: "replay already playing"}
		}
	}

	m.setTransitional(store.StatusSettingUp)
	m.publishStatus(sess, store.StatusSettingUp, false)

	if err := m.remote.PlayScenario(ctx, id); err != nil {
		m.publishStatus(sess, persistedStatus(sess), false)
		return nil, err
	}

	now := time.Now().UTC()
	if sess != nil {
		sess.Label = "scenario " + id
		sess.Status = store.StatusPlaying
		sess.StartedAt = &now
		sess.EndedAt = nil
		m.gw.UpdateSession(ctx, sess)
	}
	m.publishStatus(sess, store.StatusPlaying, false)
	m.logger.Info("scenario started", zap.String("scenario", id))
	return sess, nil
}

// Scenarios lists the endpoint's predefined scenarios.
func (m *Manager) Scenarios(ctx context.Context) ([]control.Scenario, error) {
	return m.remote.Scenarios(ctx)
}

// Status reports the slot without mutating it. Concurrent polls share one
// remote round trip.
func (m *Manager) Status(ctx context.Context) *StatusResult {
	v, _, _ := m.statusGroup.Do("status", func() (any, error) {
		return m.fetchStatus(ctx), nil
	})
	return v.(*StatusResult)
}

func (m *Manager) fetchStatus(ctx context.Context) *StatusResult {
	res := &StatusResult{Status: store.StatusIdle}

	if sess := m.gw.GetLatestSession(ctx); sess != nil {
		m.currentID.Store(sess.ID)
		res.Session = sess
		res.Status = sess.Status
	}

	m.mu.Lock()
	if m.transitional != "" {
		res.Status = m.transitional
	}
	m.mu.Unlock()

	info, err := m.remote.Status(ctx)
	if err != nil {
		res.Degraded = true
		return res
	}
	res.Remote = info.Status
	return res
}

// acquire claims the single transition slot or reports a conflict. Status
// queries are not gated; only mutations are.
func (m *Manager) acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight {
		return &ConflictError{Message: "another transition is in flight"}
	}
	m.inFlight = true
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.inFlight = false
	m.transitional = ""
	m.mu.Unlock()
}

func (m *Manager) setTransitional(status string) {
	m.mu.Lock()
	m.transitional = status
	m.mu.Unlock()
}

func (m *Manager) publishStatus(sess *store.ReplaySession, status string, degraded bool) {
	if m.bus == nil {
		return
	}
	ev := ws.StatusEvent{Status: status, Degraded: degraded}
	topic := ws.TopicGlobal
	if sess != nil {
		ev.SessionID = sess.ID
		topic = ws.SessionTopic(sess.ID)
	}
	m.bus.Publish(topic, ev)
}

func persistedStatus(sess *store.ReplaySession) string {
	if sess == nil {
		return store.StatusIdle
	}
	return sess.Status
}
