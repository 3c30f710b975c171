package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	_ Publisher = (*RabbitMQPublisher)(nil)
	_ Reciever  = (*RabbitMQReceiver)(nil)

	errPublisherClosed = errors.New("rabbitmq publisher is closed")
	errReceiverClosed  = errors.New("rabbitmq receiver is closed")
)

func connectToRabbitMQ(url string, attempts int) (*amqp.Connection, error) {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(RetryDelay)
		}

		var conn *amqp.Connection
		if conn, err = amqp.Dial(url); err == nil {
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", i+1, "max_attempts", attempts, "error", err)
	}
	return nil, fmt.Errorf("unable to connect to rabbitmq after %d attempts: %w", attempts, err)
}

// RabbitMQPublisher publishes report tasks on a single channel. A channel the
// broker closed is reopened on the next publish.
type RabbitMQPublisher struct {
	url string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

func NewRabbitMQPublisher(rabbitMQURL string) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{url: rabbitMQURL}
	if err := p.open(MaxConnectRetry); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) open(attempts int) error {
	conn, err := connectToRabbitMQ(p.url, attempts)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if _, err := channel.QueueDeclare(ReportQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare rabbitmq queue %s: %w", ReportQueue, err)
	}

	p.conn, p.channel = conn, channel
	return nil
}

func (p *RabbitMQPublisher) ensureChannel() error {
	if p.closed {
		return errPublisherClosed
	}
	if p.channel != nil && !p.channel.IsClosed() {
		return nil
	}

	slog.Warn("rabbitmq channel closed, reconnecting publisher")
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.channel = nil, nil
	return p.open(1)
}

func (p *RabbitMQPublisher) PublishReportTask(ctx context.Context, payload ReportTaskPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", ReportQueue, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ReportQueue, err)
	}

	err = p.channel.PublishWithContext(ctx, "", ReportQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", ReportQueue, err)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	}
}

type RabbitMQTask struct {
	d amqp.Delivery
}

func (t *RabbitMQTask) Type() string {
	return t.d.RoutingKey
}

func (t *RabbitMQTask) Payload() []byte {
	return t.d.Body
}

func (t *RabbitMQTask) Ack() error {
	return t.d.Ack(false)
}

// Nack requeues the task once. A task that fails on redelivery is dropped so
// a conversation that can never be summarized does not loop forever.
func (t *RabbitMQTask) Nack() error {
	return t.d.Nack(false, !t.d.Redelivered)
}

func (t *RabbitMQTask) Reject() error {
	return t.d.Reject(false)
}

// RabbitMQReceiver delivers report tasks from RabbitMQ. Tasks() is closed once
// Close has been called and every consumer has handed off or requeued its
// in-flight delivery.
type RabbitMQReceiver struct {
	url   string
	tasks chan Task
	stop  chan struct{}

	mu        sync.Mutex
	closed    bool
	consumers sync.WaitGroup
}

func newRabbitMQReceiver(rabbitMQURL string) *RabbitMQReceiver {
	return &RabbitMQReceiver{
		url:   rabbitMQURL,
		tasks: make(chan Task),
		stop:  make(chan struct{}),
	}
}

func NewRabbitMQReceiver(rabbitMQURL string) (*RabbitMQReceiver, error) {
	c := newRabbitMQReceiver(rabbitMQURL)
	if err := c.subscribe(); err != nil {
		return nil, err
	}
	return c, nil
}

// startConsumer registers a consumer goroutine for deliveries. It returns false
// once the receiver is closed.
func (c *RabbitMQReceiver) startConsumer(deliveries <-chan amqp.Delivery) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	c.consumers.Add(1)
	go func() {
		defer c.consumers.Done()
		c.consume(deliveries)
	}()
	return true
}

func (c *RabbitMQReceiver) consume(deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-c.stop:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			select {
			case c.tasks <- &RabbitMQTask{d: d}:
			case <-c.stop:
				// Nobody will process it, hand it back to the broker.
				if err := d.Nack(false, true); err != nil {
					slog.Warn("error requeueing report task on shutdown", "error", err)
				}
				return
			}
		}
	}
}

func (c *RabbitMQReceiver) subscribe() error {
	conn, err := connectToRabbitMQ(c.url, MaxConnectRetry)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	// One unacknowledged report at a time per worker.
	if err := channel.Qos(1, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set channel qos: %w", err)
	}

	if _, err := channel.QueueDeclare(ReportQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare rabbitmq queue %s: %w", ReportQueue, err)
	}

	deliveries, err := channel.Consume(ReportQueue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to consume from rabbitmq queue %s: %w", ReportQueue, err)
	}

	if !c.startConsumer(deliveries) {
		conn.Close()
		return errReceiverClosed
	}

	go c.watch(conn, channel)

	slog.Info("consuming report tasks", "queue", ReportQueue)
	return nil
}

// watch closes the connection on shutdown and resubscribes when the broker
// drops the channel.
func (c *RabbitMQReceiver) watch(conn *amqp.Connection, channel *amqp.Channel) {
	closed := channel.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-c.stop:
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
		return

	case err, ok := <-closed:
		if !ok {
			return
		}
		slog.Warn("rabbitmq channel closed, resubscribing", "error", err)
	}

	for {
		err := c.subscribe()
		if err == nil {
			slog.Info("resubscribed to rabbitmq")
			return
		}
		if errors.Is(err, errReceiverClosed) {
			return
		}

		select {
		case <-c.stop:
			return
		case <-time.After(RetryDelay * 10):
		}
	}
}

func (c *RabbitMQReceiver) Tasks() <-chan Task {
	return c.tasks
}

func (c *RabbitMQReceiver) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	c.consumers.Wait()
	close(c.tasks)
	slog.Info("rabbitmq receiver closed")
}
