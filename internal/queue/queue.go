// Package queue hands completed document uploads to the processing workers
// over NATS and relays worker status updates back into the job store.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/domain"
)

// ProcessingTask is the message published when a document enters the queue.
type ProcessingTask struct {
	JobID      string                   `json:"jobId"`
	UserID     string                   `json:"userId"`
	ObjectKey  string                   `json:"objectKey"`
	FileName   string                   `json:"fileName"`
	FileSize   int64                    `json:"fileSize"`
	Options    domain.ProcessingOptions `json:"options"`
	EnqueuedAt time.Time                `json:"enqueuedAt"`
}

// StatusUpdate is published by workers as a job advances.
type StatusUpdate struct {
	JobID           string           `json:"jobId"`
	Status          domain.JobStatus `json:"status"`
	Progress        int              `json:"progress,omitempty"` // 0-100
	ProcessingStage string           `json:"processingStage,omitempty"`
	Error           string           `json:"error,omitempty"`
	ResultKey       string           `json:"resultKey,omitempty"`
	Result          json.RawMessage  `json:"result,omitempty"`
}

// Publisher enqueues processing tasks.
type Publisher interface {
	Enqueue(ctx context.Context, task ProcessingTask) error
}

// Queue wraps a NATS connection for task publishing and status consumption.
type Queue struct {
	conn          *nats.Conn
	subject       string
	statusSubject string
	logger        *slog.Logger
	sub           *nats.Subscription
}

var _ Publisher = (*Queue)(nil)

// New connects to NATS with reconnect handling.
func New(cfg config.QueueConfig, logger *slog.Logger) (*Queue, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("queue disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("queue reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to queue: %w", err)
	}
	return &Queue{
		conn:          conn,
		subject:       cfg.Subject,
		statusSubject: cfg.StatusSubject,
		logger:        logger,
	}, nil
}

// Enqueue publishes a processing task and flushes so the handoff is durable
// from the caller's point of view.
func (q *Queue) Enqueue(ctx context.Context, task ProcessingTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.conn.Publish(q.subject, data); err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}
	if err := q.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush queue: %w", err)
	}
	q.logger.Debug("task enqueued",
		slog.String("job_id", task.JobID),
		slog.String("subject", q.subject))
	return nil
}

// SubscribeStatus consumes worker status updates. Malformed messages are
// logged and dropped rather than redelivered.
func (q *Queue) SubscribeStatus(handler func(StatusUpdate)) error {
	sub, err := q.conn.Subscribe(q.statusSubject, func(msg *nats.Msg) {
		var update StatusUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			q.logger.Error("dropping malformed status update", slog.String("error", err.Error()))
			return
		}
		handler(update)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to status updates: %w", err)
	}
	q.sub = sub
	return nil
}

// Close drains the subscription and closes the connection.
func (q *Queue) Close() error {
	if q.sub != nil {
		if err := q.sub.Drain(); err != nil {
			q.logger.Warn("failed to drain status subscription", slog.String("error", err.Error()))
		}
	}
	return q.conn.Drain()
}
