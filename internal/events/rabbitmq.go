package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	publishTimeout = 3 * time.Second
	dialTimeout    = 5 * time.Second
	redialInterval = 5 * time.Second
)

// ErrPublisherClosed is returned by publishes after Close
var ErrPublisherClosed = errors.New("event publisher closed")

// amqpChannel is the part of *amqp.Channel the publisher needs
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// session is one broker connection with its publishing channel. closed
// yields (or is closed) when the connection goes away.
type session struct {
	conn   io.Closer
	ch     amqpChannel
	closed <-chan *amqp.Error
}

type dialFunc func(url, exchange string) (*session, error)

// RabbitMQPublisher publishes JSON events to a durable topic exchange. A
// dropped connection is redialled on the next publish, at most once per
// redialInterval.
type RabbitMQPublisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	dial     dialFunc
	sess     *session
	lastDial time.Time
	lastErr  error
	shutdown bool
	now      func() time.Time
}

// NewRabbitMQPublisher dials the broker and declares the exchange
func NewRabbitMQPublisher(url, exchange string) (*RabbitMQPublisher, error) {
	p := newRabbitMQPublisher(url, exchange, dialAMQP)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func newRabbitMQPublisher(url, exchange string, dial dialFunc) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		url:      url,
		exchange: exchange,
		dial:     dial,
		now:      time.Now,
	}
}

func dialAMQP(url, exchange string) (*session, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &session{
		conn:   conn,
		ch:     ch,
		closed: conn.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

// connectLocked dials a new session and starts watching it. p.mu must be held.
func (p *RabbitMQPublisher) connectLocked() error {
	p.lastDial = p.now()
	sess, err := p.dial(p.url, p.exchange)
	if err != nil {
		p.lastErr = err
		return err
	}
	p.sess = sess
	p.lastErr = nil
	go p.watch(sess)
	return nil
}

// watch forgets sess once its connection closes so the next publish redials
func (p *RabbitMQPublisher) watch(sess *session) {
	if sess.closed == nil {
		return
	}
	<-sess.closed

	p.mu.Lock()
	if p.sess == sess {
		p.sess = nil
	}
	p.mu.Unlock()
}

// dropLocked discards the current session. p.mu must be held.
func (p *RabbitMQPublisher) dropLocked() {
	if p.sess == nil {
		return
	}
	_ = p.sess.ch.Close()
	_ = p.sess.conn.Close()
	p.sess = nil
}

// PublishPasteCreated sends a paste.created event
func (p *RabbitMQPublisher) PublishPasteCreated(ctx context.Context, event PasteCreated) error {
	return p.publish(ctx, KeyPasteCreated, event)
}

// PublishPasteViewed sends a paste.viewed event
func (p *RabbitMQPublisher) PublishPasteViewed(ctx context.Context, event PasteViewed) error {
	return p.publish(ctx, KeyPasteViewed, event)
}

func (p *RabbitMQPublisher) publish(ctx context.Context, key string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", key, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	// One retry covers a connection that died since the last publish
	for attempt := 0; ; attempt++ {
		if err := p.ensureSessionLocked(); err != nil {
			return err
		}
		err := p.sess.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
		if !errors.Is(err, amqp.ErrClosed) || attempt > 0 {
			return err
		}
		p.dropLocked()
	}
}

// ensureSessionLocked redials when there is no live session. p.mu must be held.
func (p *RabbitMQPublisher) ensureSessionLocked() error {
	if p.shutdown {
		return ErrPublisherClosed
	}
	if p.sess != nil {
		return nil
	}
	if p.lastErr != nil && p.now().Sub(p.lastDial) < redialInterval {
		return fmt.Errorf("rabbitmq unavailable: %w", p.lastErr)
	}
	return p.connectLocked()
}

// Close closes the channel and the connection. Later publishes fail with
// ErrPublisherClosed.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shutdown = true
	if p.sess == nil {
		return nil
	}

	firstErr := p.sess.ch.Close()
	if err := p.sess.conn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	p.sess = nil
	return firstErr
}
