package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/orderwatch/internal/dispatch"
	"github.com/alanyoungcy/orderwatch/internal/domain"
)

// mirroredTopics are the dispatcher topics republished to Redis pub/sub.
var mirroredTopics = []string{
	domain.TopicSyncComplete,
	domain.TopicOrderCreated,
	domain.TopicOrderFilled,
	domain.TopicOrderCanceled,
	domain.TopicOrdersUpdated,
	domain.TopicConnState,
}

// Mirror republishes in-process dispatcher events onto Redis pub/sub
// channels so out-of-process consumers can follow the same feed. The
// in-memory cache stays authoritative; the mirror is best-effort and publish
// failures are logged, never propagated.
type Mirror struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
	tokens map[string]string
}

// NewMirror creates a Mirror that publishes under "<prefix>:<topic>".
func NewMirror(c *Client, prefix string, logger *slog.Logger) *Mirror {
	if prefix == "" {
		prefix = "orderwatch"
	}
	return &Mirror{
		rdb:    c.Underlying(),
		prefix: prefix,
		logger: logger.With(slog.String("component", "redis_mirror")),
		tokens: make(map[string]string),
	}
}

// Attach subscribes the mirror to every mirrored topic on the dispatcher.
func (m *Mirror) Attach(bus *dispatch.Dispatcher) {
	for _, topic := range mirroredTopics {
		topic := topic
		m.tokens[topic] = bus.Subscribe(topic, "redis-mirror", func(payload any) {
			m.forward(topic, payload)
		})
	}
}

// Detach removes the mirror's subscriptions.
func (m *Mirror) Detach(bus *dispatch.Dispatcher) {
	for topic, token := range m.tokens {
		bus.Unsubscribe(topic, token)
	}
}

func (m *Mirror) channel(topic string) string {
	return m.prefix + ":" + topic
}

func (m *Mirror) forward(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Warn("mirror payload not serializable",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := m.rdb.Publish(context.Background(), m.channel(topic), data).Err(); err != nil {
		m.logger.Warn("mirror publish failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}
