package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gdszyy/betradar-replay-tester/internal/config"
	"github.com/gdszyy/betradar-replay-tester/internal/control"
	"github.com/gdszyy/betradar-replay-tester/internal/playlist"
	"github.com/gdszyy/betradar-replay-tester/internal/session"
	"github.com/gdszyy/betradar-replay-tester/internal/store"
	"github.com/gdszyy/betradar-replay-tester/internal/uof"
)

// fakeRemote stands in for the Betradar replay API across the session
// manager, the playlist manager and the raw document proxy.
type fakeRemote struct {
	mu          sync.Mutex
	startErr    error
	stopErr     error
	resetErr    error
	statusInfo  *control.StatusInfo
	statusErr   error
	scenarios   []control.Scenario
	playErr     error
	addErr      error
	removeErr   error
	events      []control.PlaylistEvent
	listErr     error
	summary     []byte
	summaryErr  error
	timeline    []byte
	timelineErr error

	lastStart control.StartParams
	playedIDs []string
}

// set mutates fake state under the same lock the handler goroutines take, so
// tests can reconfigure the remote between requests.
func (f *fakeRemote) set(fn func(*fakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeRemote) startParams() control.StartParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastStart
}

func (f *fakeRemote) played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.playedIDs...)
}

func (f *fakeRemote) Start(ctx context.Context, p control.StartParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastStart = p
	return f.startErr
}

func (f *fakeRemote) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopErr
}

func (f *fakeRemote) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resetErr
}

func (f *fakeRemote) Status(ctx context.Context) (*control.StatusInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.statusInfo != nil {
		return f.statusInfo, nil
	}
	return &control.StatusInfo{Status: "stopped"}, nil
}

func (f *fakeRemote) Scenarios(ctx context.Context) ([]control.Scenario, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scenarios, nil
}

func (f *fakeRemote) PlayScenario(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playedIDs = append(f.playedIDs, id)
	return f.playErr
}

func (f *fakeRemote) AddEvent(ctx context.Context, urn uof.URN, startTime int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addErr
}

func (f *fakeRemote) RemoveEvent(ctx context.Context, urn uof.URN) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeErr
}

func (f *fakeRemote) ListEvents(ctx context.Context) ([]control.PlaylistEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events, f.listErr
}

func (f *fakeRemote) EventSummary(ctx context.Context, urn uof.URN, lang string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary, f.summaryErr
}

func (f *fakeRemote) EventTimeline(ctx context.Context, urn uof.URN, lang string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeline, f.timelineErr
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeRemote, *store.Gateway) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gw := store.NewGateway(db, zap.NewNop(), nil)
	remote := &fakeRemote{summaryErr: fmt.Errorf("no summary configured")}
	sessions := session.NewManager(gw, remote, nil, zap.NewNop())
	playlists := playlist.NewManager(gw, remote, zap.NewNop())

	srv := NewServer(&config.Config{}, sessions, playlists, gw, remote, nil, nil, zap.NewNop())
	ts := httptest.NewServer(NewRouter(srv))
	t.Cleanup(ts.Close)
	return ts, remote, gw
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := doRequest(t, ts, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStartReturnsSession(t *testing.T) {
	ts, remote, _ := newTestServer(t)

	resp, body := doRequest(t, ts, http.MethodPost, "/api/replay/start", map[string]any{
		"speed": 30, "max_delay": 2000,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["status"] != store.StatusPlaying {
		t.Errorf("status field = %v", body["status"])
	}
	sess, ok := body["session"].(map[string]any)
	if !ok {
		t.Fatalf("no session in body: %v", body)
	}
	if sess["speed"].(float64) != 30 {
		t.Errorf("session speed = %v", sess["speed"])
	}
	if p := remote.startParams(); p.Speed != 30 || p.MaxDelay != 2000 {
		t.Errorf("remote params = %+v", p)
	}
}

func TestStartWithEmptyBodyUsesDefaults(t *testing.T) {
	ts, remote, _ := newTestServer(t)

	resp, _ := doRequest(t, ts, http.MethodPost, "/api/replay/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if p := remote.startParams(); p.Speed != session.DefaultSpeed {
		t.Errorf("speed = %d, want default %d", p.Speed, session.DefaultSpeed)
	}
}

func TestStartWhilePlayingReturns409(t *testing.T) {
	ts, _, _ := newTestServer(t)

	if resp, _ := doRequest(t, ts, http.MethodPost, "/api/replay/start", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first start: %d", resp.StatusCode)
	}
	resp, body := doRequest(t, ts, http.MethodPost, "/api/replay/start", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if body["error"] == nil {
		t.Error("no error field in body")
	}
}

func TestStartValidationReturns400(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, _ := doRequest(t, ts, http.MethodPost, "/api/replay/start", map[string]any{"speed": 500})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUpstreamFailureReturns502(t *testing.T) {
	ts, remote, _ := newTestServer(t)
	remote.set(func(r *fakeRemote) { r.startErr = &control.ControlError{Code: 503, Message: "maintenance"} })

	resp, body := doRequest(t, ts, http.MethodPost, "/api/replay/start", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if body["upstream_code"].(float64) != 503 {
		t.Errorf("upstream_code = %v", body["upstream_code"])
	}
	if body["error"] != "maintenance" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestStopFromIdleReturns409(t *testing.T) {
	ts, _, gw := newTestServer(t)
	gw.EnsureSession(context.Background())

	resp, _ := doRequest(t, ts, http.MethodPost, "/api/replay/stop", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestStartStopResetLifecycle(t *testing.T) {
	ts, _, _ := newTestServer(t)

	if resp, _ := doRequest(t, ts, http.MethodPost, "/api/replay/start", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d", resp.StatusCode)
	}

	resp, body := doRequest(t, ts, http.MethodPost, "/api/replay/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: %d", resp.StatusCode)
	}
	if body["status"] != store.StatusStopped {
		t.Errorf("stop status = %v", body["status"])
	}

	resp, body = doRequest(t, ts, http.MethodPost, "/api/replay/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: %d", resp.StatusCode)
	}
	sess := body["session"].(map[string]any)
	if sess["status"] != store.StatusIdle {
		t.Errorf("session after reset = %v", sess)
	}
	if _, ok := sess["started_at"]; ok {
		t.Error("started_at not cleared by reset")
	}
}

func TestStatusReportsRemoteAndDegraded(t *testing.T) {
	ts, remote, _ := newTestServer(t)
	remote.set(func(r *fakeRemote) { r.statusInfo = &control.StatusInfo{Status: "playing"} })

	resp, body := doRequest(t, ts, http.MethodGet, "/api/replay/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != store.StatusIdle {
		t.Errorf("local status = %v", body["status"])
	}
	if body["remote_status"] != "playing" {
		t.Errorf("remote_status = %v", body["remote_status"])
	}
	if body["degraded"] != false {
		t.Errorf("degraded = %v", body["degraded"])
	}

	remote.set(func(r *fakeRemote) { r.statusErr = &control.ControlError{Message: "connection refused"} })
	resp, body = doRequest(t, ts, http.MethodGet, "/api/replay/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("degraded status = %d", resp.StatusCode)
	}
	if body["degraded"] != true {
		t.Errorf("degraded = %v, want true", body["degraded"])
	}
}

func TestPlaylistRoundTrip(t *testing.T) {
	ts, remote, _ := newTestServer(t)

	resp, body := doRequest(t, ts, http.MethodPost, "/api/replay/playlist", map[string]any{"event_id": "12345"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add: %d, body %v", resp.StatusCode, body)
	}
	if body["match_id"] != "sr:match:12345" {
		t.Errorf("match_id = %v", body["match_id"])
	}
	if body["position"].(float64) != 0 {
		t.Errorf("position = %v", body["position"])
	}

	remote.set(func(r *fakeRemote) { r.events = []control.PlaylistEvent{{ID: "sr:match:12345", Type: "match"}} })
	resp, body = doRequest(t, ts, http.MethodGet, "/api/replay/playlist", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: %d", resp.StatusCode)
	}
	events := body["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("events = %v", events)
	}
	if body["fallback"] != false {
		t.Errorf("fallback = %v", body["fallback"])
	}

	resp, body = doRequest(t, ts, http.MethodDelete, "/api/replay/playlist", map[string]any{"event_id": "12345"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove: %d", resp.StatusCode)
	}
	if body["removed"] != true {
		t.Errorf("removed = %v", body["removed"])
	}
}

func TestPlaylistRejectsMalformedID(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, _ := doRequest(t, ts, http.MethodPost, "/api/replay/playlist", map[string]any{"event_id": "sr:match:abc"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPlaylistRequiresEventID(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, method := range []string{http.MethodPost, http.MethodDelete} {
		resp, _ := doRequest(t, ts, method, "/api/replay/playlist", map[string]any{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", method, resp.StatusCode)
		}
	}
}

func TestScenariosListAndPlay(t *testing.T) {
	ts, remote, _ := newTestServer(t)
	remote.set(func(r *fakeRemote) { r.scenarios = []control.Scenario{{ID: "1"}, {ID: "2", Description: "two matches"}} })

	resp, body := doRequest(t, ts, http.MethodGet, "/api/replay/scenarios", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v", body["count"])
	}

	resp, body = doRequest(t, ts, http.MethodPost, "/api/replay/scenarios/2/play", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("play: %d, body %v", resp.StatusCode, body)
	}
	if body["status"] != store.StatusPlaying {
		t.Errorf("status = %v", body["status"])
	}
	if played := remote.played(); len(played) != 1 || played[0] != "2" {
		t.Errorf("played scenarios = %v", played)
	}
}

func TestMatchLookup(t *testing.T) {
	ts, _, gw := newTestServer(t)
	gw.UpsertMatch(context.Background(), &store.Match{
		ID: "sr:match:777", Name: "Home FC vs Away FC", Sport: "Soccer",
	})

	resp, body := doRequest(t, ts, http.MethodGet, "/api/matches/sr:match:777", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("full urn: %d", resp.StatusCode)
	}
	if body["name"] != "Home FC vs Away FC" {
		t.Errorf("name = %v", body["name"])
	}

	// Bare numeric ids resolve to the same row.
	resp, _ = doRequest(t, ts, http.MethodGet, "/api/matches/777", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bare id: %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, ts, http.MethodGet, "/api/matches/999", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing: %d, want 404", resp.StatusCode)
	}

	resp, _ = doRequest(t, ts, http.MethodGet, "/api/matches/bad:id", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed: %d, want 400", resp.StatusCode)
	}
}

func TestRecentMatches(t *testing.T) {
	ts, _, gw := newTestServer(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		gw.UpsertMatch(ctx, &store.Match{ID: fmt.Sprintf("sr:match:%d", i)})
	}

	resp, body := doRequest(t, ts, http.MethodGet, "/api/matches?limit=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v", body["count"])
	}
}

func TestSummaryProxyPassesXMLThrough(t *testing.T) {
	ts, remote, _ := newTestServer(t)
	remote.set(func(r *fakeRemote) {
		r.summaryErr = nil
		r.summary = []byte(`<match_summary><sport_event id="sr:match:123"/></match_summary>`)
		r.timeline = []byte(`<match_timeline/>`)
	})

	resp, err := ts.Client().Get(ts.URL + "/api/matches/123/summary")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/xml" {
		t.Errorf("content-type = %q", ct)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), remote.summary) {
		t.Errorf("body = %s", buf.String())
	}

	tl, err := ts.Client().Get(ts.URL + "/api/matches/123/timeline")
	if err != nil {
		t.Fatalf("get timeline: %v", err)
	}
	defer tl.Body.Close()
	if tl.StatusCode != http.StatusOK {
		t.Fatalf("timeline status = %d", tl.StatusCode)
	}
}

func TestSummaryProxyUpstreamFailure(t *testing.T) {
	ts, remote, _ := newTestServer(t)
	remote.set(func(r *fakeRemote) { r.summaryErr = &control.ControlError{Code: 404, Message: "event not found"} })

	resp, body := doRequest(t, ts, http.MethodGet, "/api/matches/123/summary", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if body["upstream_code"].(float64) != 404 {
		t.Errorf("upstream_code = %v", body["upstream_code"])
	}
}

func TestMessagesFilterAndLimit(t *testing.T) {
	ts, _, gw := newTestServer(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		matchID := "sr:match:100"
		if i%2 == 1 {
			matchID = "sr:match:200"
		}
		gw.AppendMessage(ctx, &store.Message{
			MatchID:    matchID,
			Type:       "odds_change",
			Producer:   "1",
			RoutingKey: "hi.-.live.odds_change",
			RawContent: "<odds_change/>",
			ReceivedAt: base.Add(time.Duration(i) * time.Millisecond),
		})
	}

	// Bare numeric match filter is normalized to the URN form.
	resp, body := doRequest(t, ts, http.MethodGet, "/api/messages?match_id=100", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["count"].(float64) != 3 {
		t.Errorf("count = %v", body["count"])
	}

	resp, body = doRequest(t, ts, http.MethodGet, "/api/messages?limit=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	msgs := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d", len(msgs))
	}
	// Newest first.
	first := msgs[0].(map[string]any)["id"].(float64)
	second := msgs[1].(map[string]any)["id"].(float64)
	if first <= second {
		t.Errorf("order = %v, %v", first, second)
	}

	resp, _ = doRequest(t, ts, http.MethodGet, "/api/messages?session_id=abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad session_id: %d, want 400", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/replay/status", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("allow-origin = %q", origin)
	}
}
