// Package rabbitmq implements the broker client over a single reconnecting
// AMQP connection. Work messages travel through a direct exchange with one
// durable queue per process type; status messages fan in through a single
// durable queue consumed by the gateway. Connectivity to the broker is
// treated as eventually-available infrastructure: every operation retries
// with capped exponential backoff rather than failing fatally.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// ErrClientClosed is returned when an operation is attempted on a closed client.
var ErrClientClosed = errors.New("rabbitmq client closed")

var (
	_ processing.WorkPublisher    = (*Client)(nil)
	_ processing.StatusPublisher  = (*Client)(nil)
	_ processing.WorkSubscriber   = (*Client)(nil)
	_ processing.StatusSubscriber = (*Client)(nil)
)

// Client wraps one long-lived AMQP connection with automatic reconnection.
// Publishes are serialized through a single writer goroutine because AMQP
// channels forbid concurrent use; consumers each own a dedicated channel and
// re-establish themselves after a connection drop.
type Client struct {
	cfg Config
	log *logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection

	publishCh chan publishRequest

	done     chan struct{}
	closeOne sync.Once
}

type publishRequest struct {
	exchange string
	key      string
	body     []byte
	resp     chan error
}

// NewClient creates a client and establishes the initial connection,
// retrying with backoff until the broker is reachable or ctx is canceled.
func NewClient(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	c := &Client{
		cfg:       cfg.withDefaults(),
		log:       log,
		publishCh: make(chan publishRequest, 256),
		done:      make(chan struct{}),
	}

	if _, err := c.connection(ctx); err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}

	go c.publishLoop()

	return c, nil
}

// Close shuts the client down and releases the underlying connection.
func (c *Client) Close() error {
	var err error
	c.closeOne.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil && !c.conn.IsClosed() {
			err = c.conn.Close()
		}
	})
	return err
}

// newBackoff returns the capped, unlimited-retry backoff used for dial and
// publish retries.
func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitial
	b.MaxInterval = c.cfg.ReconnectMax
	b.MaxElapsedTime = 0
	return b
}

// connection returns the live connection, dialing with backoff if needed.
func (c *Client) connection(ctx context.Context) (*amqp.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}

	var conn *amqp.Connection
	operation := func() error {
		select {
		case <-c.done:
			return backoff.Permanent(ErrClientClosed)
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		default:
		}

		var err error
		conn, err = amqp.Dial(c.cfg.URL)
		if err != nil {
			c.log.Warn(ctx, "broker dial failed, will retry", "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, c.newBackoff()); err != nil {
		return nil, err
	}

	c.conn = conn
	c.log.Info(ctx, "connected to broker", "client_id", c.cfg.ClientID)
	return c.conn, nil
}

// channel opens a fresh channel on the live connection and declares the
// exchanges both sides depend on.
func (c *Client) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := c.declareTopology(ch); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

func (c *Client) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(c.cfg.TaskExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring task exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.StatusExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring status exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring dead-letter queue: %w", err)
	}
	return nil
}

// publishLoop is the single writer for this connection. Each request is
// retried with backoff across reconnects until it is enqueued at the broker,
// so a publish is queued for send rather than dropped while the broker is
// unreachable.
func (c *Client) publishLoop() {
	ctx := context.Background()

	var ch *amqp.Channel
	for {
		select {
		case <-c.done:
			if ch != nil {
				ch.Close()
			}
			return
		case req := <-c.publishCh:
			req.resp <- c.publishWithRetry(ctx, &ch, req)
		}
	}
}

func (c *Client) publishWithRetry(ctx context.Context, ch **amqp.Channel, req publishRequest) error {
	operation := func() error {
		select {
		case <-c.done:
			return backoff.Permanent(ErrClientClosed)
		default:
		}

		if *ch == nil || (*ch).IsClosed() {
			fresh, err := c.channel(ctx)
			if err != nil {
				return err
			}
			*ch = fresh
		}

		err := (*ch).PublishWithContext(ctx, req.exchange, req.key, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         req.body,
		})
		if err != nil {
			c.log.Warn(ctx, "publish failed, will retry", "exchange", req.exchange, "error", err)
			(*ch).Close()
			*ch = nil
			return err
		}
		return nil
	}

	return backoff.Retry(operation, c.newBackoff())
}

// publish hands a payload to the writer goroutine and waits for the outcome.
func (c *Client) publish(ctx context.Context, exchange, key string, body []byte) error {
	req := publishRequest{exchange: exchange, key: key, body: body, resp: make(chan error, 1)}

	select {
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.publishCh <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.resp:
		return err
	}
}

// PublishWork publishes a work message, routed to the durable queue of its
// process type.
func (c *Client) PublishWork(ctx context.Context, msg processing.WorkMessage) error {
	body, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("encoding work message: %w", err)
	}
	return c.publish(ctx, c.cfg.TaskExchange, msg.ProcessType.String(), body)
}

// PublishStatus publishes a status message onto the fan-in channel.
func (c *Client) PublishStatus(ctx context.Context, msg processing.StatusMessage) error {
	body, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("encoding status message: %w", err)
	}
	return c.publish(ctx, c.cfg.StatusExchange, "", body)
}

// PublishDeadLetter moves a work message that exhausted its attempt budget
// onto the dead-letter queue for operator inspection.
func (c *Client) PublishDeadLetter(ctx context.Context, msg processing.WorkMessage) error {
	body, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("encoding dead-letter message: %w", err)
	}
	// Default exchange routes directly to the queue by name.
	return c.publish(ctx, "", c.cfg.DeadLetterQueue, body)
}
