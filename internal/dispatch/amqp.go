package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp.Channel the sink needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes requests to a topic exchange under
// trip.notification.<kind>.
type AMQPSink struct {
	pub      Publisher
	exchange string
	conn     *amqp.Connection
}

func NewAMQPSink(pub Publisher, exchange string) *AMQPSink {
	return &AMQPSink{pub: pub, exchange: exchange}
}

// DialAMQPSink connects and declares the exchange.
func DialAMQPSink(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{pub: ch, exchange: exchange, conn: conn}, nil
}

func (a *AMQPSink) Name() string { return "amqp" }

func RoutingKey(req Request) string { return "trip.notification." + string(req.Kind) }

func (a *AMQPSink) Deliver(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := a.pub.PublishWithContext(ctx, a.exchange, RoutingKey(req), false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   req.TripID + ":" + string(req.Kind),
		Body:        body,
		Timestamp:   time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (a *AMQPSink) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
