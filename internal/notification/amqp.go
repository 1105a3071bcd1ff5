package notification

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes events as persistent JSON messages on a topic
// exchange, using the event kind as routing key.
type AMQPNotifier struct {
	channel  *amqp.Channel
	exchange string
}

// NewAMQPNotifier declares the exchange and returns a publisher bound to it.
func NewAMQPNotifier(ch *amqp.Channel, exchange string) (*AMQPNotifier, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPNotifier{channel: ch, exchange: exchange}, nil
}

// Send publishes the message.
func (n *AMQPNotifier) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = n.channel.PublishWithContext(ctx, n.exchange, message.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    message.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", message.Kind, err)
	}
	return nil
}
