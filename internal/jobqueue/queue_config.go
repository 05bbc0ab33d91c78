/*
Package jobqueue configuration - tunable parameters for the River job queue.

Slack message jobs run at most once. A retried job would append the same
human turn to the thread a second time, and a job that fails after posting
would answer twice. Identical events are deduplicated on insert since Slack
redelivers events it considers unacknowledged.

## Database Requirements:
- PostgreSQL with River schema migrations applied
  (`river migrate-up --database-url "$DATABASE_URL"`)
- Connection pool sized for MaxWorkers concurrent jobs
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int // Number of concurrent workers processing jobs (default: 16)

	// Retry Configuration
	MaxAttempts int           // Attempts per job including the first (default: 1)
	JobTimeout  time.Duration // Maximum time a single job can run (default: 5 minutes)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  16,
		MaxAttempts: 1,
		JobTimeout:  5 * time.Minute,
	}
}

// WithWorkers returns a copy with the worker count overridden when positive
func (c *QueueConfig) WithWorkers(n int) *QueueConfig {
	out := *c
	if n > 0 {
		out.MaxWorkers = n
	}
	return &out
}

// RiverQueueConfig returns the River queue configuration
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
