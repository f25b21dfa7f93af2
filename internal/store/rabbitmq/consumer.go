package rabbitmq

import (
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer receives job deliveries with manual acks and a prefetch of concurrency.
type Consumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

func NewConsumer(url, queue string, concurrency int) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	fail := func(err error) (*Consumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if err := TopologyFor(queue).Declare(ch); err != nil {
		return fail(err)
	}
	// strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fail(err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fail(err)
	}
	return &Consumer{conn: conn, ch: ch, deliveries: msgs}, nil
}

// Deliveries is closed when the channel or connection closes.
func (c *Consumer) Deliveries() <-chan amqp.Delivery { return c.deliveries }

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// formatTTL renders a per-message expiration in milliseconds, as RabbitMQ expects.
func formatTTL(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
