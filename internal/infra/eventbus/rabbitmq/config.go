package rabbitmq

import "time"

// Default topology names. The task exchange fans work out to one durable
// queue per process type; the status exchange fans worker updates back in to
// the single gateway queue.
const (
	defaultTaskExchange    = "video_tasks"
	defaultStatusExchange  = "processing_status"
	defaultStatusQueue     = "status_updates_queue"
	defaultDeadLetterQueue = "video_tasks_dlq"
)

// Config defines the information needed to connect to RabbitMQ.
type Config struct {
	// URL is the AMQP connection string.
	URL string

	// TaskExchange receives work messages, routed by process type.
	TaskExchange string

	// StatusExchange receives status messages from all workers.
	StatusExchange string

	// StatusQueue is the durable fan-in queue the gateway consumes.
	StatusQueue string

	// DeadLetterQueue holds work messages discarded after exhausting their
	// attempt budget.
	DeadLetterQueue string

	// Prefetch bounds the number of unacknowledged deliveries per consumer.
	Prefetch int

	// ReconnectInitial and ReconnectMax bound the reconnection backoff.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// ClientID identifies this process in consumer tags and logs.
	ClientID string
}

func (c Config) withDefaults() Config {
	if c.TaskExchange == "" {
		c.TaskExchange = defaultTaskExchange
	}
	if c.StatusExchange == "" {
		c.StatusExchange = defaultStatusExchange
	}
	if c.StatusQueue == "" {
		c.StatusQueue = defaultStatusQueue
	}
	if c.DeadLetterQueue == "" {
		c.DeadLetterQueue = defaultDeadLetterQueue
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 1
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	return c
}

// WorkQueueName returns the durable queue name for a process type. One named
// queue per worker type makes broker-level redelivery possible when a worker
// crashes before acknowledging.
func WorkQueueName(processType string) string {
	return processType + "_queue"
}
