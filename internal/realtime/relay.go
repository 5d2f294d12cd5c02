package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"chatwave/internal/util"
)

// Relay bridges the in-process hub across server instances through a
// RabbitMQ fanout exchange. Each instance publishes its own events to
// the exchange and re-broadcasts everything it consumes from other
// instances into the local hub, so subscribers on any node see every
// change.
type Relay struct {
	hub      *Hub
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	instance string
}

type relayEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// NewRelay connects, declares the fanout exchange together with an
// exclusive queue for this instance, and starts the consume loop.
func NewRelay(url, exchange string, hub *Hub) (*Relay, error) {
	if exchange == "" {
		exchange = "chatwave.changes"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", false, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	r := &Relay{
		hub:      hub,
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		instance: util.NewID(),
	}
	go r.consume(deliveries)
	return r, nil
}

// Publish broadcasts locally and forwards to the exchange for the
// other instances. A broker failure degrades to local-only delivery.
func (r *Relay) Publish(ev Event) {
	r.hub.Publish(ev)

	body, err := json.Marshal(relayEnvelope{Origin: r.instance, Event: ev})
	if err != nil {
		slog.Error("marshal relay envelope", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = r.ch.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		slog.Error("publish change event to relay", "table", ev.Table, "err", err)
	}
}

func (r *Relay) consume(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		var env relayEnvelope
		if err := json.Unmarshal(d.Body, &env); err != nil {
			slog.Warn("drop malformed relay envelope", "err", err)
			continue
		}
		if env.Origin == r.instance {
			continue // already delivered locally in Publish
		}
		r.hub.Publish(env.Event)
	}
}

// Close tears down the AMQP connection.
func (r *Relay) Close() error {
	return r.conn.Close()
}
