package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"report-filing-bot/models"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

const connectTimeout = 60 * time.Second

// channel is the subset of *amqp.Channel the publisher uses
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// connection is the subset of *amqp.Connection the publisher uses
type connection interface {
	IsClosed() bool
	Close() error
}

type dialFunc func(url string) (connection, channel, error)

func dialAMQP(url string) (connection, channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return conn, ch, nil
}

// Publisher publishes report lifecycle events to a direct exchange
type Publisher struct {
	mu         sync.Mutex
	amqpURL    string
	conn       connection
	channel    channel
	exchange   string
	routingKey string
	dial       dialFunc
	now        func() time.Time
}

// NewPublisher connects to the broker and declares the exchange
func NewPublisher(amqpURL, exchangeName, routingKey string) (*Publisher, error) {
	return newPublisher(amqpURL, exchangeName, routingKey, dialAMQP)
}

func newPublisher(amqpURL, exchangeName, routingKey string, dial dialFunc) (*Publisher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	p := &Publisher{
		amqpURL:    amqpURL,
		exchange:   exchangeName,
		routingKey: routingKey,
		dial:       dial,
		now:        time.Now,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// PublishReportEvent publishes a status change with the configured routing key
func (p *Publisher) PublishReportEvent(ctx context.Context, event models.ReportEvent) error {
	return p.PublishWithRoutingKey(ctx, p.routingKey, event)
}

// PublishWithRoutingKey sends a JSON message to the exchange with a custom routing key
func (p *Publisher) PublishWithRoutingKey(ctx context.Context, routingKey string, message interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
	}

	return p.publish(ctx, routingKey, publishing)
}

// Close closes the publisher connection and channel
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error

	if p.channel != nil {
		if channelErr := p.channel.Close(); channelErr != nil {
			log.WithError(channelErr).Warn("Failed to close RabbitMQ channel")
			err = channelErr
		}
		p.channel = nil
	}

	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil {
			log.WithError(connErr).Warn("Failed to close RabbitMQ connection")
			if err == nil {
				err = connErr
			}
		}
		p.conn = nil
	}

	return err
}

// IsConnected indicates whether the publisher currently has an open connection and channel
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil
}

func (p *Publisher) connectLocked(ctx context.Context) error {
	conn, ch, err := p.dial(p.amqpURL)
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(
		p.exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	select {
	case <-ctx.Done():
		ch.Close()
		conn.Close()
		return fmt.Errorf("context done while connecting publisher: %w", ctx.Err())
	default:
	}

	p.conn = conn
	p.channel = ch
	return nil
}

func (p *Publisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func isConnClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "channel/connection is not open")
}

func (p *Publisher) publish(ctx context.Context, routingKey string, publishing amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.channel == nil {
		p.closeLocked()
		if err := p.connectLocked(ctx); err != nil {
			return err
		}
	}

	err := p.channel.Publish(p.exchange, routingKey, false, false, publishing)
	if err != nil && isConnClosedErr(err) {
		log.WithError(err).Info("RabbitMQ connection lost, reconnecting")
		p.closeLocked()
		if connErr := p.connectLocked(ctx); connErr != nil {
			return fmt.Errorf("failed to publish message: %w (reconnect failed: %v)", err, connErr)
		}
		err = p.channel.Publish(p.exchange, routingKey, false, false, publishing)
	}
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("context done while publishing message: %w", ctx.Err())
	default:
	}
	return nil
}
