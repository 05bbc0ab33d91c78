// Package slack talks to the Slack Events and Web APIs: it verifies and
// decodes inbound events, renders replies as layout blocks and posts them.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/askbot/internal/config"
	"github.com/askbot/internal/retry"
	"github.com/askbot/pkg/models"
)

// Client wraps the Slack Web API with an outbound rate limit and retries
type Client struct {
	api     *slack.Client
	limiter *rate.Limiter
	retry   retry.RetryConfig
}

// NewClient creates a client authenticated with the bot token
func NewClient(cfg config.SlackConfig, opts ...slack.Option) *Client {
	perSecond := cfg.PostsPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	rc := retry.SlackRetryConfig()
	rc.RetryIf = isRetryable
	rc.RetryAfter = retryAfter
	return &Client{
		api:     slack.New(cfg.BotToken, opts...),
		limiter: rate.NewLimiter(rate.Limit(perSecond), 3),
		retry:   rc,
	}
}

// WithRetry overrides the retry policy
func (c *Client) WithRetry(rc retry.RetryConfig) *Client {
	if rc.RetryIf == nil {
		rc.RetryIf = isRetryable
	}
	if rc.RetryAfter == nil {
		rc.RetryAfter = retryAfter
	}
	c.retry = rc
	return c
}

func isRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) && r.Retryable() {
		return true
	}
	return retry.IsRetryableError(err)
}

// retryAfter honours the Retry-After header of a rate limited response
func retryAfter(err error) time.Duration {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

func (c *Client) do(ctx context.Context, op string, fn func() error) error {
	result := retry.RetryWithBackoff(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn()
	}, &log.Logger)
	if err := result.Err(); err != nil {
		return fmt.Errorf("slack %s failed after %d attempts: %w", op, result.Attempts, err)
	}
	return nil
}

// PostMessage posts text into a thread with blocks rendered from markdown
func (c *Client) PostMessage(ctx context.Context, channel, threadTS, text string) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(BlocksFromMarkdown(text)...),
	}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	return c.do(ctx, "chat.postMessage", func() error {
		_, _, err := c.api.PostMessageContext(ctx, channel, opts...)
		return err
	})
}

// UserProfile fetches users.info and maps the profile onto a User
func (c *Client) UserProfile(ctx context.Context, teamID, userID string) (*models.User, error) {
	var su *slack.User
	err := c.do(ctx, "users.info", func() error {
		var err error
		su, err = c.api.GetUserInfoContext(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &models.User{
		SlackTeamID: teamID,
		SlackUserID: userID,
		Name:        optional(su.Name),
		FirstName:   optional(su.Profile.FirstName),
		LastName:    optional(su.Profile.LastName),
		RealName:    optional(su.Profile.RealName),
		DisplayName: optional(su.Profile.DisplayName),
		Email:       optional(su.Profile.Email),
	}, nil
}

// FetchFile downloads a private file URL using the bot token
func (c *Client) FetchFile(ctx context.Context, url string) (string, error) {
	var buf strings.Builder
	err := c.do(ctx, "file download", func() error {
		buf.Reset()
		return c.api.GetFileContext(ctx, url, &buf)
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch file %s: %w", url, err)
	}
	return buf.String(), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
