package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func newTestClient(h *Hub, connID string, buffer int) *Client {
	return &Client{
		hub:    h,
		send:   make(chan []byte, buffer),
		connID: connID,
		topics: make(map[string]bool),
		logger: zap.NewNop(),
	}
}

func registerClient(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	h.register <- c
	waitFor(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.clients[c]
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func recvFrame(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return frame{}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("unexpected frame: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegisterAutoSubscribesGlobal(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "c1", sendBufferSize)
	registerClient(t, h, c)

	if !h.Publish(TopicGlobal, RawEvent{Type: "hello", Data: "world"}) {
		t.Fatal("publish returned false")
	}

	f := recvFrame(t, c)
	if f.Type != "hello" {
		t.Errorf("type = %q, want %q", f.Type, "hello")
	}
	if f.Topic != TopicGlobal {
		t.Errorf("topic = %q, want %q", f.Topic, TopicGlobal)
	}
	if f.TS == 0 {
		t.Error("expected non-zero timestamp")
	}
}

func TestTopicDeliveryAndGlobalOverlap(t *testing.T) {
	h := newTestHub(t)

	subscriber := newTestClient(h, "subscriber", sendBufferSize)
	globalOnly := newTestClient(h, "global-only", sendBufferSize)
	other := newTestClient(h, "other", sendBufferSize)
	for _, c := range []*Client{subscriber, globalOnly, other} {
		registerClient(t, h, c)
	}

	h.Subscribe(subscriber, "match:sr:match:100")
	h.Subscribe(other, "match:sr:match:200")
	h.Unsubscribe(other, TopicGlobal)

	h.Publish("match:sr:match:100", RawEvent{Type: "message", Data: "m1"})

	// The topic subscriber and the global listener each get one copy.
	for _, c := range []*Client{subscriber, globalOnly} {
		f := recvFrame(t, c)
		if f.Topic != "match:sr:match:100" {
			t.Errorf("%s: topic = %q", c.connID, f.Topic)
		}
	}
	// A client on a different match with no global subscription gets nothing.
	assertNoFrame(t, other)
}

func TestTopicAndGlobalSubscriberGetsOneCopy(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "both", sendBufferSize)
	registerClient(t, h, c)
	h.Subscribe(c, "match:sr:match:1")

	h.Publish("match:sr:match:1", RawEvent{Type: "message", Data: 1})

	recvFrame(t, c)
	assertNoFrame(t, c)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "dup", sendBufferSize)
	registerClient(t, h, c)

	h.Unsubscribe(c, TopicGlobal)
	h.Subscribe(c, "session:1")
	h.Subscribe(c, "session:1")

	h.Publish("session:1", StatusEvent{SessionID: 1, Status: "playing"})

	recvFrame(t, c)
	assertNoFrame(t, c)
}

func TestSlowConsumerLosesCopyOthersKeepOrder(t *testing.T) {
	h := newTestHub(t)
	fast := newTestClient(h, "fast", sendBufferSize)
	slow := newTestClient(h, "slow", 1)
	registerClient(t, h, fast)
	registerClient(t, h, slow)

	for _, data := range []string{"m1", "m2", "m3", "done"} {
		h.Publish(TopicGlobal, RawEvent{Type: "message", Data: data})
	}

	// The fast client sees every event in publish order. Deliveries run
	// one frame at a time, so once "done" arrives every drop the slow
	// client suffered is final.
	for _, want := range []string{"m1", "m2", "m3", "done"} {
		f := recvFrame(t, fast)
		got, _ := f.Data.(string)
		if got != want {
			t.Errorf("fast client got %q, want %q", got, want)
		}
	}

	// The slow client keeps its one buffered event and loses the rest,
	// but stays connected.
	f := recvFrame(t, slow)
	if got, _ := f.Data.(string); got != "m1" {
		t.Errorf("slow client got %q, want %q", got, "m1")
	}
	assertNoFrame(t, slow)

	h.mu.RLock()
	stillConnected := h.clients[slow]
	h.mu.RUnlock()
	if !stillConnected {
		t.Error("slow client should not be disconnected")
	}
}

func TestUnsubscribeGlobalStopsDelivery(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "quiet", sendBufferSize)
	registerClient(t, h, c)

	h.Unsubscribe(c, TopicGlobal)
	h.Publish(TopicGlobal, RawEvent{Type: "message", Data: "x"})

	assertNoFrame(t, c)
}

func TestUnregisterCleansUpSubscriptions(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "leaver", sendBufferSize)
	registerClient(t, h, c)
	h.Subscribe(c, "match:sr:match:5")

	h.unregister <- c
	waitFor(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return !h.clients[c]
	})

	if topics := h.ActiveTopics(); len(topics) != 0 {
		t.Errorf("active topics after unregister: %v", topics)
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	// No Run loop, so the broadcast queue only fills.
	h := NewHub(zap.NewNop(), nil)

	for i := 0; i < broadcastBufferSize; i++ {
		if !h.Publish(TopicGlobal, RawEvent{Type: "message", Data: i}) {
			t.Fatalf("publish %d returned false before queue was full", i)
		}
	}
	if h.Publish(TopicGlobal, RawEvent{Type: "message", Data: "overflow"}) {
		t.Error("publish should report a drop once the queue is full")
	}
}

func TestValidTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  bool
	}{
		{"global", true},
		{"match:sr:match:12345", true},
		{"session:7", true},
		{"match:", false},
		{"session:", false},
		{"", false},
		{"orders", false},
	}
	for _, tt := range tests {
		if got := ValidTopic(tt.topic); got != tt.want {
			t.Errorf("ValidTopic(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestServeWSEndToEnd(t *testing.T) {
	h := newTestHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readFrame := func() frame {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		return f
	}

	if f := readFrame(); f.Type != "connected" {
		t.Fatalf("first frame type = %q, want connected", f.Type)
	}

	if err := conn.WriteJSON(clientRequest{Action: "subscribe", Topic: "match:sr:match:1"}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if f := readFrame(); f.Type != "subscribed" || f.Topic != "match:sr:match:1" {
		t.Fatalf("expected subscribed ack, got %+v", f)
	}

	h.Publish("match:sr:match:1", RawEvent{Type: "message", Data: "payload"})
	if f := readFrame(); f.Type != "message" || f.Topic != "match:sr:match:1" {
		t.Fatalf("expected published event, got %+v", f)
	}

	if err := conn.WriteJSON(clientRequest{Action: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if f := readFrame(); f.Type != "pong" {
		t.Fatalf("expected pong, got %+v", f)
	}

	if err := conn.WriteJSON(clientRequest{Action: "subscribe", Topic: "bogus"}); err != nil {
		t.Fatalf("write invalid subscribe: %v", err)
	}
	if f := readFrame(); f.Type != "error" {
		t.Fatalf("expected error frame, got %+v", f)
	}
}
