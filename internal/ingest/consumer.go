package ingest

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/gdszyy/betradar-replay-tester/internal/metrics"
	"github.com/gdszyy/betradar-replay-tester/internal/store"
	"github.com/gdszyy/betradar-replay-tester/internal/uof"
	"github.com/gdszyy/betradar-replay-tester/internal/ws"
)

// Replay feed defaults. The replay queue speaks AMQP over TLS with the
// access token as SASL username and an empty password.
const (
	DefaultHost      = "global.replaymq.betradar.com"
	DefaultPort      = 5671
	DefaultVHost     = "/"
	DefaultExchange  = "unifiedfeed"
	DefaultHeartbeat = 60 * time.Second

	connectionName = "betradar-replay-tester"

	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Options configure the feed connection.
type Options struct {
	Host        string
	Port        int
	Token       string
	VHost       string
	Exchange    string
	RoutingKeys []string
	Heartbeat   time.Duration
	DisableTLS  bool // plain TCP, for local test brokers
	InsecureTLS bool // skip certificate verification
}

func (o *Options) applyDefaults() {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.VHost == "" {
		o.VHost = DefaultVHost
	}
	if o.Exchange == "" {
		o.Exchange = DefaultExchange
	}
	if len(o.RoutingKeys) == 0 {
		o.RoutingKeys = []string{"#"}
	}
	if o.Heartbeat == 0 {
		o.Heartbeat = DefaultHeartbeat
	}
}

// Publisher pushes received messages to live subscribers.
type Publisher interface {
	Publish(topic string, ev ws.Event) bool
}

// SessionSource reports the current session slot id, zero for none.
type SessionSource interface {
	CurrentID() int64
}

// Consumer pulls the replay feed and drives each message through the
// persist-then-publish pipeline. A single goroutine processes deliveries,
// so publish order equals receipt order by construction.
type Consumer struct {
	opts    Options
	gw      *store.Gateway
	bus     Publisher
	source  SessionSource
	logger  *zap.Logger
	metrics *metrics.Metrics

	retry retrypolicy.RetryPolicy[*feed]
	clock monoClock
}

// feed is one live subscription over one connection.
type feed struct {
	conn       *amqp.Connection
	deliveries <-chan amqp.Delivery
}

func NewConsumer(opts Options, gw *store.Gateway, bus Publisher, source SessionSource, logger *zap.Logger, m *metrics.Metrics) *Consumer {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		opts:    opts,
		gw:      gw,
		bus:     bus,
		source:  source,
		logger:  logger,
		metrics: m,
		retry: retrypolicy.NewBuilder[*feed]().
			WithBackoff(reconnectBaseDelay, reconnectMaxDelay).
			WithJitterFactor(0.1).
			WithMaxRetries(-1).
			Build(),
	}
}

// Run consumes until ctx is canceled, reconnecting with backoff whenever
// the broker drops the connection.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		f, err := c.connect(ctx)
		if err != nil {
			return err
		}
		c.logger.Info("consuming replay feed",
			zap.String("host", c.opts.Host),
			zap.Strings("routingKeys", c.opts.RoutingKeys))

		c.consume(ctx, f.deliveries)
		f.conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.metrics != nil {
			c.metrics.IngestReconnects.Inc()
		}
		c.logger.Warn("replay feed connection lost, reconnecting")
	}
}

// connect retries indefinitely with backoff; it only fails when ctx ends.
func (c *Consumer) connect(ctx context.Context) (*feed, error) {
	return failsafe.With(c.retry).WithContext(ctx).Get(func() (*feed, error) {
		f, err := c.open()
		if err != nil {
			c.logger.Warn("replay feed connect failed",
				zap.String("host", c.opts.Host),
				zap.Error(err))
		}
		return f, err
	})
}

func (c *Consumer) open() (*feed, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)
	cfg := amqp.Config{
		Vhost:     c.opts.VHost,
		Heartbeat: c.opts.Heartbeat,
		SASL: []amqp.Authentication{&amqp.PlainAuth{
			Username: c.opts.Token,
			Password: "",
		}},
		Properties: props,
	}

	scheme := "amqps"
	if c.opts.DisableTLS {
		scheme = "amqp"
	} else {
		cfg.TLSClientConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.opts.InsecureTLS,
		}
	}

	conn, err := amqp.DialConfig(fmt.Sprintf("%s://%s:%d/", scheme, c.opts.Host, c.opts.Port), cfg)
	if err != nil {
		return nil, fmt.Errorf("dial replay feed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// Server-named exclusive queue; the broker discards it on disconnect.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range c.opts.RoutingKeys {
		if err := ch.QueueBind(q.Name, key, c.opts.Exchange, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("bind %q: %w", key, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("start consume: %w", err)
	}
	return &feed{conn: conn, deliveries: deliveries}, nil
}

func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.process(ctx, &d)
		}
	}
}

// process persists, publishes and acks one delivery. Persistence failure
// never blocks live publication, and every delivery is acked; the replay
// queue is a firehose, not a work queue.
func (c *Consumer) process(ctx context.Context, d *amqp.Delivery) {
	msg := c.buildMessage(d.Body, d.RoutingKey)

	c.gw.AppendMessage(ctx, msg)
	c.publish(msg)

	if err := d.Ack(false); err != nil {
		c.logger.Warn("ack failed", zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.IngestMessages.WithLabelValues(msg.Type).Inc()
	}
}

// parsedSummary is the extracted envelope stored alongside the raw payload.
type parsedSummary struct {
	MessageType string `json:"message_type"`
	Producer    string `json:"producer"`
	EventID     string `json:"event_id,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (c *Consumer) buildMessage(body []byte, routingKey string) *store.Message {
	env, err := uof.ParseEnvelope(body)
	summary := parsedSummary{
		MessageType: env.Type,
		Producer:    env.Producer,
		EventID:     env.EventID,
		Timestamp:   env.Timestamp,
	}
	if err != nil {
		summary.Error = err.Error()
		c.logger.Debug("unparseable feed message",
			zap.String("routingKey", routingKey),
			zap.Error(err))
	}
	parsed, _ := json.Marshal(summary)

	msg := &store.Message{
		MatchID:    env.EventID,
		Type:       env.Type,
		Producer:   env.Producer,
		Timestamp:  env.Timestamp,
		RoutingKey: routingKey,
		RawContent: string(body),
		Parsed:     string(parsed),
		ReceivedAt: c.clock.next(),
	}
	if id := c.source.CurrentID(); id > 0 {
		msg.SessionID = &id
	}
	return msg
}

func (c *Consumer) publish(msg *store.Message) {
	ev := ws.MessageEvent{Message: msg}
	if msg.MatchID != "" {
		// Global listeners receive match-topic events too; one publish
		// reaches both audiences without duplicates.
		c.bus.Publish(ws.MatchTopic(msg.MatchID), ev)
		return
	}
	c.bus.Publish(ws.TopicGlobal, ev)
}

// monoClock hands out strictly increasing receipt timestamps even when the
// wall clock does not advance between two messages. Only the consume
// goroutine touches it.
type monoClock struct {
	last time.Time
}

func (c *monoClock) next() time.Time {
	now := time.Now().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}
