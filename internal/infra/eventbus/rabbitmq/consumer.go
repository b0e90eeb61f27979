package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ahrav/vidflow/internal/domain/processing"
)

// SubscribeWork binds the durable queue for a process type and consumes work
// messages with manual acknowledgment. A handler error rejects the delivery
// without requeue; retry bookkeeping happens in the worker runtime, which
// republishes with an advanced attempt counter before rejecting. If the
// connection drops, the consumer re-establishes itself with backoff and the
// broker redelivers anything left unacknowledged.
func (c *Client) SubscribeWork(ctx context.Context, processType processing.ProcessType, handler processing.WorkHandler) error {
	queue := WorkQueueName(processType.String())

	go c.consumeLoop(ctx, queue, func(ctx context.Context, d amqp.Delivery) {
		msg, err := processing.DecodeWorkMessage(d.Body)
		if err != nil {
			// Corrupt payloads are logged and discarded; requeueing them
			// would poison the queue.
			c.log.Error(ctx, "malformed work message, discarding", "queue", queue, "error", err)
			_ = d.Ack(false)
			return
		}

		if err := handler(ctx, msg); err != nil {
			c.log.Warn(ctx, "work handler failed, rejecting delivery",
				"file_id", msg.FileID, "process_type", msg.ProcessType, "error", err)
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)
	}, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring work queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, processType.String(), c.cfg.TaskExchange, false, nil); err != nil {
			return fmt.Errorf("binding work queue %s: %w", queue, err)
		}
		return nil
	})

	return nil
}

// SubscribeStatus consumes the single fan-in status queue. Deliveries are
// acknowledged after the handler returns regardless of outcome: an absent
// client connection is not an error, and the client can recover state via a
// synchronous query.
func (c *Client) SubscribeStatus(ctx context.Context, handler processing.StatusHandler) error {
	queue := c.cfg.StatusQueue

	go c.consumeLoop(ctx, queue, func(ctx context.Context, d amqp.Delivery) {
		defer func() { _ = d.Ack(false) }()

		msg, err := processing.DecodeStatusMessage(d.Body)
		if err != nil {
			c.log.Error(ctx, "malformed status message, discarding", "queue", queue, "error", err)
			return
		}

		if err := handler(ctx, msg); err != nil {
			c.log.Error(ctx, "status handler failed",
				"file_id", msg.FileID, "process_type", msg.ProcessType, "error", err)
		}
	}, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring status queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, "", c.cfg.StatusExchange, false, nil); err != nil {
			return fmt.Errorf("binding status queue %s: %w", queue, err)
		}
		return nil
	})

	return nil
}

// consumeLoop owns one channel and one delivery stream for a queue. When the
// stream ends because the connection dropped, it backs off and rebuilds the
// subscription; it exits only when ctx is canceled or the client closes.
func (c *Client) consumeLoop(
	ctx context.Context,
	queue string,
	handle func(context.Context, amqp.Delivery),
	setup func(*amqp.Channel) error,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if err := c.consumeOnce(ctx, queue, handle, setup); err != nil {
			c.log.Warn(ctx, "consumer stream ended, re-establishing",
				"queue", queue, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(c.cfg.ReconnectInitial):
		}
	}
}

func (c *Client) consumeOnce(
	ctx context.Context,
	queue string,
	handle func(context.Context, amqp.Delivery),
	setup func(*amqp.Channel) error,
) error {
	ch, err := c.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := setup(ch); err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("setting qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, c.cfg.ClientID, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", queue, err)
	}

	c.log.Info(ctx, "consuming", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery stream for %s closed", queue)
			}
			handle(ctx, d)
		}
	}
}
