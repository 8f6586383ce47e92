package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// View structs mirror the daemon's JSON responses.

type sessionView struct {
	ID        int64      `json:"id"`
	Label     string     `json:"label,omitempty"`
	Status    string     `json:"status"`
	Speed     int        `json:"speed"`
	MaxDelay  int        `json:"max_delay"`
	NodeID    int        `json:"node_id,omitempty"`
	Products  []string   `json:"products,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type sessionReply struct {
	Status  string       `json:"status"`
	Session *sessionView `json:"session,omitempty"`
}

type statusReply struct {
	Status   string       `json:"status"`
	Remote   string       `json:"remote_status,omitempty"`
	Degraded bool         `json:"degraded"`
	Session  *sessionView `json:"session,omitempty"`
}

type startRequest struct {
	Label              string   `json:"label,omitempty"`
	Speed              int      `json:"speed,omitempty"`
	MaxDelay           int      `json:"max_delay,omitempty"`
	UseReplayTimestamp bool     `json:"use_replay_timestamp,omitempty"`
	NodeID             int      `json:"node_id,omitempty"`
	Products           []string `json:"products,omitempty"`
	StartedBy          string   `json:"started_by,omitempty"`
}

type playlistRequest struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type,omitempty"`
	StartTime int    `json:"start_time,omitempty"`
}

type playlistEntryView struct {
	MatchID  string `json:"match_id"`
	Type     string `json:"type,omitempty"`
	Position int    `json:"position"`
}

type playlistReply struct {
	Events   []playlistEntryView `json:"events"`
	Fallback bool                `json:"fallback"`
}

type playlistItemView struct {
	SessionID int64  `json:"session_id"`
	MatchID   string `json:"match_id"`
	Position  int    `json:"position"`
}

type scenarioView struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

type scenariosReply struct {
	Scenarios []scenarioView `json:"scenarios"`
	Count     int            `json:"count"`
}

type removeReply struct {
	Removed bool `json:"removed"`
}

// apiError is a non-2xx daemon response. UpstreamCode carries the Betradar
// status when the daemon relayed a control endpoint failure.
type apiError struct {
	Status       int
	Message      string `json:"error"`
	UpstreamCode int    `json:"upstream_code,omitempty"`
}

func (e *apiError) Error() string {
	if e.UpstreamCode != 0 {
		return fmt.Sprintf("%s (HTTP %d, upstream %d)", e.Message, e.Status, e.UpstreamCode)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var decoded apiError
		if json.Unmarshal(data, &decoded) == nil && decoded.Message != "" {
			apiErr.Message = decoded.Message
			apiErr.UpstreamCode = decoded.UpstreamCode
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *apiClient) start(ctx context.Context, req startRequest) (*sessionReply, error) {
	var reply sessionReply
	if err := c.do(ctx, http.MethodPost, "/api/replay/start", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *apiClient) stop(ctx context.Context) (*sessionReply, error) {
	var reply sessionReply
	if err := c.do(ctx, http.MethodPost, "/api/replay/stop", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *apiClient) reset(ctx context.Context) (*sessionReply, error) {
	var reply sessionReply
	if err := c.do(ctx, http.MethodPost, "/api/replay/reset", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *apiClient) status(ctx context.Context) (*statusReply, error) {
	var reply statusReply
	if err := c.do(ctx, http.MethodGet, "/api/replay/status", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *apiClient) playlistList(ctx context.Context) (*playlistReply, error) {
	var reply playlistReply
	if err := c.do(ctx, http.MethodGet, "/api/replay/playlist", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *apiClient) playlistAdd(ctx context.Context, req playlistRequest) (*playlistItemView, error) {
	var reply playlistItemView
	if err := c.do(ctx, http.MethodPost, "/api/replay/playlist", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *apiClient) playlistRemove(ctx context.Context, req playlistRequest) (bool, error) {
	var reply removeReply
	if err := c.do(ctx, http.MethodDelete, "/api/replay/playlist", req, &reply); err != nil {
		return false, err
	}
	return reply.Removed, nil
}

func (c *apiClient) scenarios(ctx context.Context) (*scenariosReply, error) {
	var reply scenariosReply
	if err := c.do(ctx, http.MethodGet, "/api/replay/scenarios", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *apiClient) scenarioPlay(ctx context.Context, id string) (*sessionReply, error) {
	var reply sessionReply
	if err := c.do(ctx, http.MethodPost, "/api/replay/scenarios/"+id+"/play", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
