package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/gdszyy/betradar-replay-tester/internal/metrics"
)

const broadcastBufferSize = 256

// topicFrame is a pre-marshaled event bound for one topic.
type topicFrame struct {
	topic     string
	eventType string
	payload   []byte
}

// Hub owns all websocket connections and fans events out to topic
// subscribers. Deliveries are serialized through the Run loop, which is
// what keeps per-topic delivery order stable.
type Hub struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Client]bool
	topics  map[string]map[*Client]bool // topic -> subscribers

	register   chan *Client
	unregister chan *Client
	broadcast  chan *topicFrame
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		metrics:    m,
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *topicFrame, broadcastBufferSize),
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.joinLocked(client, TopicGlobal)
			total := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.WSConnections.Inc()
			}
			h.logger.Info("client connected",
				zap.String("connID", client.connID),
				zap.Int("total", total),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for topic := range client.topics {
					h.leaveLocked(client, topic)
				}
				client.closeSend()
				if h.metrics != nil {
					h.metrics.WSConnections.Dec()
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected",
				zap.String("connID", client.connID),
				zap.Int("total", total),
			)

		case tf := <-h.broadcast:
			h.deliver(tf)
		}
	}
}

// Publish marshals the event once and hands it to the Run loop. It never
// blocks: when the broadcast queue is full the event is dropped and counted.
func (h *Hub) Publish(topic string, ev Event) bool {
	payload, err := json.Marshal(newFrame(ev.EventType(), topic, ev.payload()))
	if err != nil {
		h.logger.Error("failed to marshal event",
			zap.String("eventType", ev.EventType()),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return false
	}
	select {
	case h.broadcast <- &topicFrame{topic: topic, eventType: ev.EventType(), payload: payload}:
		if h.metrics != nil {
			h.metrics.EventsPublished.WithLabelValues(ev.EventType()).Inc()
		}
		return true
	default:
		if h.metrics != nil {
			h.metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		}
		h.logger.Warn("broadcast queue full, dropping event",
			zap.String("eventType", ev.EventType()),
			zap.String("topic", topic),
		)
		return false
	}
}

// deliver pushes one frame to every subscriber of its topic plus every
// global subscriber, each client at most once. A client whose send buffer
// is full loses its copy rather than stalling the others; the ping cycle
// reaps connections that are actually dead.
func (h *Hub) deliver(tf *topicFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]bool, len(h.topics[tf.topic]))
	for client := range h.topics[tf.topic] {
		seen[client] = true
		h.send(client, tf)
	}
	if tf.topic != TopicGlobal {
		for client := range h.topics[TopicGlobal] {
			if seen[client] {
				continue
			}
			h.send(client, tf)
		}
	}
}

func (h *Hub) send(client *Client, tf *topicFrame) {
	if client.enqueue(tf.payload) {
		return
	}
	if h.metrics != nil {
		h.metrics.EventsDropped.WithLabelValues("slow_consumer").Inc()
	}
	h.logger.Warn("dropping event for slow client",
		zap.String("connID", client.connID),
		zap.String("eventType", tf.eventType),
		zap.String("topic", tf.topic),
	)
}

// shutdown closes every client's send channel and empties the registries.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
	h.topics = make(map[string]map[*Client]bool)
}

// Subscribe adds a client to a topic. Subscribing twice is a no-op.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	h.joinLocked(client, topic)
	h.mu.Unlock()

	h.logger.Debug("client subscribed",
		zap.String("connID", client.connID),
		zap.String("topic", topic),
	)
}

// Unsubscribe removes a client from a topic, the global one included.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	h.leaveLocked(client, topic)
	h.mu.Unlock()

	h.logger.Debug("client unsubscribed",
		zap.String("connID", client.connID),
		zap.String("topic", topic),
	)
}

func (h *Hub) joinLocked(client *Client, topic string) {
	if client.topics[topic] {
		return
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][client] = true
	client.topics[topic] = true
	if h.metrics != nil {
		h.metrics.WSSubscriptions.WithLabelValues(metrics.TopicKind(topic)).Inc()
	}
}

func (h *Hub) leaveLocked(client *Client, topic string) {
	if !client.topics[topic] {
		return
	}
	delete(client.topics, topic)
	if clients, ok := h.topics[topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.topics, topic)
		}
	}
	if h.metrics != nil {
		h.metrics.WSSubscriptions.WithLabelValues(metrics.TopicKind(topic)).Dec()
	}
}

// ActiveTopics returns all topics with at least one subscriber.
func (h *Hub) ActiveTopics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var topics []string
	for topic, clients := range h.topics {
		if len(clients) > 0 {
			topics = append(topics, topic)
		}
	}
	return topics
}

// ValidTopic reports whether the topic belongs to one of the three families
// the hub serves: global, match:<urn> or session:<id>.
func ValidTopic(topic string) bool {
	if topic == TopicGlobal {
		return true
	}
	if rest, ok := strings.CutPrefix(topic, "match:"); ok {
		return rest != ""
	}
	if rest, ok := strings.CutPrefix(topic, "session:"); ok {
		return rest != ""
	}
	return false
}
