// Package eventbus wraps the NATS connection shared by all opmas services.
// The connection is an explicit object passed through constructors; there is
// no package-level client.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Bus is a topic-addressed publish/subscribe transport with queue-group
// (competing-consumer) delivery. Delivery is at-most-once: messages in
// flight during a disconnect are lost.
type Bus struct {
	conn     *nats.Conn
	logger   *zap.Logger
	degraded atomic.Bool
}

// Connect dials NATS with the reconnect policy used across opmas services.
// The client name shows up in NATS monitoring and defaults the queue group
// naming downstream.
func Connect(url, name string, logger *zap.Logger) (*Bus, error) {
	b := &Bus{logger: logger}

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.degraded.Store(true)
			logger.Warn("bus disconnected, entering degraded state", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.degraded.Store(false)
			logger.Info("bus reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("bus connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	b.conn = conn
	logger.Info("connected to NATS", zap.String("url", url), zap.String("client", name))

	return b, nil
}

// Publish marshals v as JSON and publishes it on subject.
func (b *Bus) Publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", subject, err)
	}

	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	return nil
}

// Subscribe registers a plain subscription.
func (b *Bus) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.logger.Info("subscribed", zap.String("subject", subject))
	return sub, nil
}

// QueueSubscribe registers a queue-group subscription so multiple members of
// the same group compete for each message.
func (b *Bus) QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to queue-subscribe to %s (%s): %w", subject, queue, err)
	}

	b.logger.Info("subscribed", zap.String("subject", subject), zap.String("queue", queue))
	return sub, nil
}

// IsConnected reports whether the underlying connection is up.
func (b *Bus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// IsDegraded reports whether the bus is between a disconnect and a reconnect.
func (b *Bus) IsDegraded() bool {
	return b.degraded.Load()
}

// Drain flushes pending messages, tears down subscriptions and closes the
// connection.
func (b *Bus) Drain() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("bus drain failed, closing hard", zap.Error(err))
		b.conn.Close()
	}
}
