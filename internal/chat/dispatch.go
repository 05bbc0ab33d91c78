package chat

import (
	"context"

	"github.com/askbot/internal/slack"
	"github.com/askbot/internal/tasks"
)

// MessageHandler processes one inbound Slack message
type MessageHandler interface {
	HandleSlackMessage(ctx context.Context, teamID string, event *slack.MessageEvent) error
}

// RunnerDispatcher hands Slack messages to the in-process task runner. The
// webhook request context is not used, so work outlives the request.
type RunnerDispatcher struct {
	runner  *tasks.Runner
	handler MessageHandler
}

// NewRunnerDispatcher creates a dispatcher on runner
func NewRunnerDispatcher(runner *tasks.Runner, handler MessageHandler) *RunnerDispatcher {
	return &RunnerDispatcher{runner: runner, handler: handler}
}

// Dispatch queues the message and returns immediately
func (d *RunnerDispatcher) Dispatch(_ context.Context, teamID string, event *slack.MessageEvent) error {
	ev := *event
	return d.runner.Submit("slack_message", func(ctx context.Context) error {
		return d.handler.HandleSlackMessage(ctx, teamID, &ev)
	})
}
