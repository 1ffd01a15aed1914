package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Kind labels an assignment lifecycle event.
type Kind string

const (
	KindClaimed     Kind = "claimed"
	KindReleased    Kind = "released"
	KindTransferred Kind = "transferred"
)

// AssignmentEvent is the payload fanned out to the statistics
// aggregator whenever the assignment relation changes.
type AssignmentEvent struct {
	Kind        Kind      `json:"kind"`
	AdminID     int64     `json:"admin_id"`
	FromAdminID int64     `json:"from_admin_id,omitempty"`
	ClientID    int64     `json:"client_id"`
	At          time.Time `json:"at"`
}

// Publisher publishes assignment events to a fanout exchange. A nil
// Publisher is valid and publishes nothing, so callers never have to
// guard the call site. Publishing is fire-and-forget: a broker failure
// is logged and never affects the committed routing decision.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}

	logger.Info("event publisher connected", zap.String("exchange", exchange))
	return &Publisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, ev AssignmentEvent) {
	if p == nil {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode assignment event", zap.Error(err))
		return
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   ev.At,
		Body:        body,
	})
	if err != nil {
		p.logger.Error("failed to publish assignment event",
			zap.Error(err),
			zap.String("kind", string(ev.Kind)))
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
