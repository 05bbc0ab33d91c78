/*
Package jobqueue provides a River-based durable queue for Slack message
processing. It is the alternative to the in-process task runner when
background work must survive a restart.

For configuration options and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/askbot/internal/metrics"
	"github.com/askbot/internal/slack"
)

// MessageHandler processes one inbound Slack message
type MessageHandler interface {
	HandleSlackMessage(ctx context.Context, teamID string, event *slack.MessageEvent) error
}

// SlackMessageArgs represents the arguments for a Slack message job
type SlackMessageArgs struct {
	TeamID string             `json:"team_id"`
	Event  slack.MessageEvent `json:"event"`
}

// Kind returns the job kind for River
func (SlackMessageArgs) Kind() string {
	return "slack_message"
}

// SlackMessageWorker handles Slack message jobs
type SlackMessageWorker struct {
	river.WorkerDefaults[SlackMessageArgs]
	handler MessageHandler
	config  *QueueConfig
}

// Timeout bounds a single attempt
func (w *SlackMessageWorker) Timeout(*river.Job[SlackMessageArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work processes the message
func (w *SlackMessageWorker) Work(ctx context.Context, job *river.Job[SlackMessageArgs]) error {
	args := job.Args
	logger := log.With().
		Int64("job_id", job.ID).
		Int("attempt", job.Attempt).
		Str("channel", args.Event.Channel).
		Str("ts", args.Event.TS).
		Logger()

	logger.Debug().Msg("Processing Slack message job")

	if err := w.handler.HandleSlackMessage(ctx, args.TeamID, &args.Event); err != nil {
		metrics.BackgroundTaskFailures.WithLabelValues(args.Kind()).Inc()
		logger.Error().Err(err).Msg("Slack message job failed")
		return fmt.Errorf("failed to handle slack message: %w", err)
	}

	logger.Debug().Msg("Slack message job completed")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	config *QueueConfig
}

// NewJobQueue creates a new job queue instance on an existing pool
func NewJobQueue(pool *pgxpool.Pool, handler MessageHandler, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &SlackMessageWorker{handler: handler, config: config})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// Dispatch queues a Slack message job
func (jq *JobQueue) Dispatch(ctx context.Context, teamID string, event *slack.MessageEvent) error {
	args := SlackMessageArgs{TeamID: teamID, Event: *event}

	_, err := jq.client.Insert(ctx, args, jq.insertOpts())
	if err != nil {
		return fmt.Errorf("failed to queue slack message job: %w", err)
	}

	return nil
}

func (jq *JobQueue) insertOpts() *river.InsertOpts {
	attempts := jq.config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &river.InsertOpts{
		MaxAttempts: attempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}
