package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageHandler processes one delivery. A nil return acks the message;
// an error nacks it back onto the queue after a backoff.
type MessageHandler func(ctx context.Context, body []byte) error

const maxBackoff = 60 * time.Second

type ConsumerConfig struct {
	URL         string
	Queue       string
	RoutingKey  string
	Exchange    string
	DLQ         string
	Prefetch    int
	WorkerCount int
	BaseDelayMs int
}

// Consumer runs a fixed pool of workers over one queue. Failed
// deliveries are requeued in place after a backoff; permanent-failure
// parking on the DLQ is the handler's call, not the broker's.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     ConsumerConfig
	handler MessageHandler
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &Consumer{
		conn:    conn,
		channel: ch,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
	if err := c.declareTopology(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declareTopology() error {
	if err := c.channel.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
	}

	queues := []string{c.cfg.Queue}
	if c.cfg.DLQ != "" {
		queues = append(queues, c.cfg.DLQ)
	}
	for _, q := range queues {
		if _, err := c.channel.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	if err := c.channel.QueueBind(c.cfg.Queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s: %w", c.cfg.Queue, c.cfg.Exchange, err)
	}

	if err := c.channel.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	return nil
}

// Start consumes until ctx is cancelled, then waits for in-flight
// deliveries to settle.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx, c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}

	c.logger.Info("consuming",
		zap.String("queue", c.cfg.Queue),
		zap.String("routing_key", c.cfg.RoutingKey),
		zap.Int("workers", c.cfg.WorkerCount),
	)

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.runWorker(ctx, i, deliveries)
	}

	<-ctx.Done()
	c.logger.Info("draining workers")
	c.wg.Wait()
	return nil
}

func (c *Consumer) runWorker(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		case d, open := <-deliveries:
			if !open {
				log.Info("delivery channel closed")
				return
			}
			c.settle(ctx, d, log)
		}
	}
}

func (c *Consumer) settle(ctx context.Context, d amqp.Delivery, log *zap.Logger) {
	err := c.handler(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	attempt := deliveryAttempt(d)
	delay := backoffDelay(time.Duration(c.cfg.BaseDelayMs)*time.Millisecond, attempt)
	log.Warn("handler failed, requeueing after backoff",
		zap.Error(err),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)

	select {
	case <-time.After(delay):
		_ = d.Nack(false, true)
	case <-ctx.Done():
		// Shutting down mid-backoff: leave the delivery unacked. The
		// broker requeues it when the channel closes, so the message
		// survives the restart.
	}
}

// deliveryAttempt reads the broker's x-death count. It is populated only
// when the queue is fed through dead-lettering; plain requeued messages
// carry no header and retry at the base delay, with the real escalation
// tracked in the job's attempt column.
func deliveryAttempt(d amqp.Delivery) int {
	deaths, ok := d.Headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return 1
	}
	return len(deaths)
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
