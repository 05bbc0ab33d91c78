// Package chat drives conversations from Slack and the web API through the
// response graph and records every turn.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/askbot/internal/conversation"
	"github.com/askbot/internal/graph"
	"github.com/askbot/internal/llm"
	"github.com/askbot/internal/slack"
	"github.com/askbot/pkg/models"
)

// ErrEmptyReply is returned when the graph finishes without an answer
var ErrEmptyReply = errors.New("graph produced no reply")

// ErrRejectedInput is returned when the input guard refuses a message
var ErrRejectedInput = errors.New("message rejected")

// Invoker runs one turn of a thread
type Invoker interface {
	Invoke(ctx context.Context, threadID string, in graph.Input) (*graph.State, error)
}

// SlackAPI is the subset of the Slack Web API the service calls
type SlackAPI interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) error
	UserProfile(ctx context.Context, teamID, userID string) (*models.User, error)
	FetchFile(ctx context.Context, url string) (string, error)
}

// InputGuard screens inbound text before anything is stored
type InputGuard interface {
	Check(ctx context.Context, texts ...string) error
}

// Service coordinates storage, the graph and the reply channel
type Service struct {
	store    conversation.Store
	graph    Invoker
	slack    SlackAPI
	scrubber graph.Scrubber
	guard    InputGuard
}

// Option configures a Service
type Option func(*Service)

// WithSlack enables HandleSlackMessage
func WithSlack(api SlackAPI) Option {
	return func(s *Service) { s.slack = api }
}

// WithScrubber redacts inbound text and file content
func WithScrubber(sc graph.Scrubber) Option {
	return func(s *Service) { s.scrubber = sc }
}

// WithGuard rejects flagged messages before they reach the graph
func WithGuard(g InputGuard) Option {
	return func(s *Service) { s.guard = g }
}

// NewService creates a chat service
func NewService(store conversation.Store, g Invoker, opts ...Option) *Service {
	s := &Service{store: store, graph: g}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ThreadView is a thread with its messages in order
type ThreadView struct {
	Thread   *models.Thread    `json:"thread"`
	Messages []*models.Message `json:"messages"`
}

// HandleSlackMessage answers one Slack message in its thread. A reply that
// cannot be posted is logged and not recorded.
func (s *Service) HandleSlackMessage(ctx context.Context, teamID string, ev *slack.MessageEvent) error {
	if s.slack == nil {
		return errors.New("slack is not configured")
	}
	logger := log.With().Str("channel", ev.Channel).Str("ts", ev.TS).Logger()

	user, err := s.slackUser(ctx, teamID, ev.User)
	if err != nil {
		return err
	}

	files, err := s.prepareFiles(ctx, ev.Files)
	if err != nil {
		return err
	}

	text := s.scrub(ev.Text)
	if err := s.check(ctx, text, files); err != nil {
		logger.Warn().Err(err).Msg("Message not answered")
		return nil
	}

	threadTS := ev.ThreadKey()
	thread, err := s.store.UpsertSlackThread(ctx, user.ID, threadTS)
	if err != nil {
		return err
	}
	logger = logger.With().Str("thread_id", thread.ID).Logger()

	chunks := []models.MessageChunk{models.TextChunk(text)}
	for _, f := range files {
		chunks = append(chunks, models.FileChunk(f.Name, f.MimeType, f.Content))
	}
	if err := s.store.InsertMessage(ctx, &models.Message{ThreadID: thread.ID, Type: models.RoleHuman, Content: chunks}); err != nil {
		return err
	}
	logger.Debug().Msg("Input message inserted")

	state, err := s.graph.Invoke(ctx, thread.ID, graph.Input{
		Messages: []models.ChatMessage{{Role: models.RoleHuman, Content: text}},
		Files:    files,
		Summary:  thread.Summary,
		Tags:     thread.Tags,
	})
	if err != nil {
		return fmt.Errorf("failed to invoke graph: %w", err)
	}
	logger.Debug().Msg("Graph invoked")

	reply, ok := state.Last()
	if !ok {
		return nil
	}

	if err := s.slack.PostMessage(ctx, ev.Channel, threadTS, reply.Content); err != nil {
		logger.Error().Err(err).Msg("Failed to send message")
		return nil
	}
	logger.Debug().Msg("Message sent")

	err = s.store.WithTx(ctx, func(tx conversation.Store) error {
		if !thread.HasSummary() && state.Summary != nil {
			if err := tx.SetThreadSummary(ctx, thread.ID, *state.Summary, state.Tags); err != nil {
				return err
			}
		}
		return tx.InsertMessage(ctx, replyMessage(thread.ID, reply))
	})
	if err != nil {
		return err
	}
	logger.Debug().Msg("Response message inserted")
	return nil
}

func (s *Service) slackUser(ctx context.Context, teamID, slackUserID string) (*models.User, error) {
	user, err := s.store.FindSlackUser(ctx, teamID, slackUserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, conversation.ErrNotFound) {
		return nil, err
	}

	user, err = s.slack.UserProfile(ctx, teamID, slackUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch slack user info: %w", err)
	}
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) prepareFiles(ctx context.Context, in []slack.File) ([]llm.File, error) {
	var files []llm.File
	for _, f := range in {
		if !llm.IsSupportedFileType(f.MimeType) {
			continue
		}
		content, err := s.slack.FetchFile(ctx, f.URLPrivate)
		if err != nil {
			return nil, err
		}
		files = append(files, llm.File{Name: f.Title, MimeType: f.MimeType, URL: f.URLPrivate, Content: s.scrub(content)})
	}
	return files, nil
}

// StartThread creates a web thread owned by userID and answers its first
// message. Nothing is stored if any step fails.
func (s *Service) StartThread(ctx context.Context, userID, text string) (*ThreadView, error) {
	var view *ThreadView
	err := s.store.WithTx(ctx, func(tx conversation.Store) error {
		thread, err := tx.CreateThread(ctx, userID)
		if err != nil {
			return err
		}
		view, err = s.turn(ctx, tx, thread, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Continue answers a new message in an existing thread owned by userID.
// The returned view holds the two new messages.
func (s *Service) Continue(ctx context.Context, threadID, userID, text string) (*ThreadView, error) {
	var view *ThreadView
	err := s.store.WithTx(ctx, func(tx conversation.Store) error {
		thread, err := tx.GetThread(ctx, threadID, userID)
		if err != nil {
			return err
		}
		view, err = s.turn(ctx, tx, thread, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) turn(ctx context.Context, tx conversation.Store, thread *models.Thread, text string) (*ThreadView, error) {
	logger := log.With().Str("thread_id", thread.ID).Logger()
	text = s.scrub(text)
	if err := s.check(ctx, text, nil); err != nil {
		return nil, err
	}

	human := &models.Message{ThreadID: thread.ID, Type: models.RoleHuman, Content: []models.MessageChunk{models.TextChunk(text)}}
	if err := tx.InsertMessage(ctx, human); err != nil {
		return nil, err
	}
	logger.Debug().Msg("Input message inserted")

	state, err := s.graph.Invoke(ctx, thread.ID, graph.Input{
		Messages: []models.ChatMessage{{Role: models.RoleHuman, Content: text}},
		Summary:  thread.Summary,
		Tags:     thread.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke graph: %w", err)
	}
	logger.Debug().Msg("Graph invoked")

	reply, ok := state.Last()
	if !ok {
		return nil, ErrEmptyReply
	}

	if !thread.HasSummary() && state.Summary != nil {
		if err := tx.SetThreadSummary(ctx, thread.ID, *state.Summary, state.Tags); err != nil {
			return nil, err
		}
		if thread.Summary == nil {
			thread.Summary = state.Summary
		}
		if thread.Tags == nil {
			thread.Tags = state.Tags
		}
		logger.Debug().Msg("Thread summary updated")
	}

	ai := replyMessage(thread.ID, reply)
	if err := tx.InsertMessage(ctx, ai); err != nil {
		return nil, err
	}
	logger.Debug().Msg("Response message inserted")

	return &ThreadView{Thread: thread, Messages: []*models.Message{human, ai}}, nil
}

// Thread returns a thread owned by ownerID with every message
func (s *Service) Thread(ctx context.Context, threadID, ownerID string) (*ThreadView, error) {
	thread, err := s.store.GetThread(ctx, threadID, ownerID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	return &ThreadView{Thread: thread, Messages: msgs}, nil
}

// Threads lists the owner's threads, newest first
func (s *Service) Threads(ctx context.Context, ownerID string) ([]*models.Thread, error) {
	return s.store.ListThreads(ctx, ownerID)
}

func (s *Service) scrub(text string) string {
	if s.scrubber == nil {
		return text
	}
	return s.scrubber.Scrub(text)
}

func (s *Service) check(ctx context.Context, text string, files []llm.File) error {
	if s.guard == nil {
		return nil
	}
	texts := []string{text}
	for _, f := range files {
		texts = append(texts, f.Content)
	}
	if err := s.guard.Check(ctx, texts...); err != nil {
		return fmt.Errorf("%w: %v", ErrRejectedInput, err)
	}
	return nil
}

func replyMessage(threadID string, reply models.ChatMessage) *models.Message {
	role := reply.Role
	if role == "" {
		role = models.RoleAI
	}
	return &models.Message{ThreadID: threadID, Type: role, Content: []models.MessageChunk{models.TextChunk(reply.Content)}}
}
