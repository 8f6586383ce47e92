// Package control is the stateless transport adapter for the Betradar replay
// API. One request per call, bounded by the client timeout; every failure
// surfaces as a *ControlError.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gdszyy/betradar-replay-tester/internal/metrics"
	"github.com/gdszyy/betradar-replay-tester/internal/uof"
)

const (
	DefaultBaseURL = "https://api.betradar.com/v1"
	DefaultTimeout = 30 * time.Second

	maxErrorBody = 300
)

// StartParams mirrors the replay/play query parameters.
type StartParams struct {
	Speed              int
	MaxDelay           int
	UseReplayTimestamp bool
	NodeID             int      // 0 = not sent
	Products           []string // empty = not sent
}

// StatusInfo is the remote's view of the replay, status normalized to
// lowercase ("playing", "stopped", "setting_up", "unknown").
type StatusInfo struct {
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"raw_status,omitempty"`
}

// PlaylistEvent is one entry of the remote playlist.
type PlaylistEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Scenario is a predefined replay lineup offered by the remote endpoint.
type Scenario struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewClient(baseURL, token string, timeout time.Duration, ratePerSec int, logger *zap.Logger, m *metrics.Metrics) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		logger:     logger,
		metrics:    m,
	}
}

// Start begins playback of the queued events.
func (c *Client) Start(ctx context.Context, p StartParams) error {
	q := url.Values{}
	q.Set("speed", strconv.Itoa(p.Speed))
	q.Set("max_delay", strconv.Itoa(p.MaxDelay))
	q.Set("use_replay_timestamp", strconv.FormatBool(p.UseReplayTimestamp))
	if p.NodeID != 0 {
		q.Set("node_id", strconv.Itoa(p.NodeID))
	}
	for _, prod := range p.Products {
		q.Add("product", prod)
	}
	_, err := c.do(ctx, "start", http.MethodPost, "/replay/play", q)
	return err
}

func (c *Client) Stop(ctx context.Context) error {
	_, err := c.do(ctx, "stop", http.MethodPost, "/replay/stop", nil)
	return err
}

// Reset stops playback and clears the remote playlist.
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.do(ctx, "reset", http.MethodPost, "/replay/reset", nil)
	return err
}

func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	body, err := c.do(ctx, "status", http.MethodGet, "/replay/status", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Status string `json:"status"`
	}
	// Some deployments answer with plain text; keep the raw body either way.
	_ = json.Unmarshal(body, &payload)
	status := strings.ToLower(strings.TrimSpace(payload.Status))
	if status == "" {
		status = "unknown"
	}
	return &StatusInfo{Status: status, Raw: json.RawMessage(body)}, nil
}

// AddEvent queues an event for replay. startTime is minutes relative to the
// event start; values <= 0 leave the remote default (replay from the top).
func (c *Client) AddEvent(ctx context.Context, urn uof.URN, startTime int) error {
	var q url.Values
	if startTime > 0 {
		q = url.Values{"start_time": []string{strconv.Itoa(startTime)}}
	}
	_, err := c.do(ctx, "add_event", http.MethodPut, "/replay/events/"+urn.String(), q)
	return err
}

func (c *Client) RemoveEvent(ctx context.Context, urn uof.URN) error {
	_, err := c.do(ctx, "remove_event", http.MethodDelete, "/replay/events/"+urn.String(), nil)
	return err
}

// ListEvents returns the remote's authoritative playlist.
func (c *Client) ListEvents(ctx context.Context) ([]PlaylistEvent, error) {
	body, err := c.do(ctx, "list_events", http.MethodGet, "/replay/", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Events []PlaylistEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ControlError{Message: fmt.Sprintf("decode playlist: %v", err)}
	}
	return payload.Events, nil
}

func (c *Client) Scenarios(ctx context.Context) ([]Scenario, error) {
	body, err := c.do(ctx, "scenarios", http.MethodGet, "/replay/scenario", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Scenarios []Scenario `json:"scenarios"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ControlError{Message: fmt.Sprintf("decode scenarios: %v", err)}
	}
	return payload.Scenarios, nil
}

func (c *Client) PlayScenario(ctx context.Context, id string) error {
	_, err := c.do(ctx, "play_scenario", http.MethodPost, "/replay/scenario/play/"+url.PathEscape(id), nil)
	return err
}

// EventSummary fetches the sport-event summary document (XML) for display.
func (c *Client) EventSummary(ctx context.Context, urn uof.URN, lang string) ([]byte, error) {
	if lang == "" {
		lang = "en"
	}
	return c.do(ctx, "event_summary", http.MethodGet,
		fmt.Sprintf("/sports/%s/sport_events/%s/summary.xml", url.PathEscape(lang), urn), nil)
}

// EventTimeline fetches the sport-event timeline document (XML), passed
// through untouched.
func (c *Client) EventTimeline(ctx context.Context, urn uof.URN, lang string) ([]byte, error) {
	if lang == "" {
		lang = "en"
	}
	return c.do(ctx, "event_timeline", http.MethodGet,
		fmt.Sprintf("/sports/%s/sport_events/%s/timeline.xml", url.PathEscape(lang), urn), nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(op, &ControlError{Message: fmt.Sprintf("rate limiter: %v", err)})
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, c.fail(op, &ControlError{Message: fmt.Sprintf("build request: %v", err)})
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("control request", zap.String("method", method), zap.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(op, &ControlError{Message: err.Error()})
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, c.fail(op, &ControlError{Message: fmt.Sprintf("read response: %v", readErr)})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(op, &ControlError{Code: resp.StatusCode, Message: truncate(string(body))})
	}

	if c.metrics != nil {
		c.metrics.ControlRequests.WithLabelValues(op, "ok").Inc()
	}
	return body, nil
}

func (c *Client) fail(op string, cerr *ControlError) error {
	c.logger.Warn("control request failed", zap.String("op", op),
		zap.Int("code", cerr.Code), zap.String("message", cerr.Message))
	if c.metrics != nil {
		c.metrics.ControlRequests.WithLabelValues(op, "error").Inc()
	}
	return cerr
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
