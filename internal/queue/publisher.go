package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends domain events to RabbitMQ.  Each publish dials its own
// connection so a broker outage never poisons a shared channel; callers
// treat failures as best-effort and carry on.
type Publisher struct {
	url string
	log *slog.Logger
}

func NewPublisher(url string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{url: url, log: log}
}

// PurchaseConfirmed publishes ev to the purchase.confirmed queue.
func (p *Publisher) PurchaseConfirmed(ctx context.Context, ev PurchaseConfirmedEvent) error {
	return p.publish(ctx, PurchaseConfirmedQueue, ev)
}

// OversellDetected publishes ev to the operator queue.
func (p *Publisher) OversellDetected(ctx context.Context, ev OversellDetectedEvent) error {
	return p.publish(ctx, OversellDetectedQueue, ev)
}

func (p *Publisher) publish(ctx context.Context, queue string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Warn("rabbitmq dial failed", "queue", queue, "err", err)
		return errors.Wrap(err, "dial broker")
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("rabbitmq channel open failed", "queue", queue, "err", err)
		return errors.Wrap(err, "open channel")
	}
	defer func() { _ = ch.Close() }()

	if err := declare(ch, queue); err != nil {
		p.log.Warn("rabbitmq queue declare failed", "queue", queue, "err", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.log.Warn("rabbitmq publish failed", "queue", queue, "err", err)
		return errors.Wrap(err, "publish")
	}
	return nil
}

// declare is idempotent; queues are durable so messages survive broker
// restarts.
func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	return errors.Wrapf(err, "declare %s", queue)
}
