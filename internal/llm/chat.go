package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/askbot/pkg/models"
)

// ErrModelInvocation marks a failed or timed out chat model call
var ErrModelInvocation = errors.New("model invocation failed")

// SystemPrompt is the fixed instruction sent ahead of every conversation
const SystemPrompt = `You are a helpful assistant with access to uploaded documents.

When users upload files, the content will be provided to you wrapped in XML <file> tags like this:
<file name="example.csv" type="text/csv">
File content goes here...
</file>

When answering questions:
1. Parse content within <file> tags to access document information
2. Pay attention to the file name attribute to understand what type of file you're working with
3. Reference specific information from the documents when appropriate
4. If a user asks about a document that hasn't been uploaded or you don't have access to, politely let them know
5. For data or code files, explain your interpretation of the content
6. If the user asks you to analyze a document, always refer to the actual content provided

Remember to maintain context about what documents have been uploaded throughout the conversation.`

// ChatModel produces assistant turns from a conversation history
type ChatModel struct {
	model       llms.Model
	system      string
	temperature float64
	timeout     time.Duration
}

// ChatOption customizes a ChatModel
type ChatOption func(*ChatModel)

// WithSystemPrompt replaces the default system instruction
func WithSystemPrompt(prompt string) ChatOption {
	return func(c *ChatModel) { c.system = prompt }
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float64) ChatOption {
	return func(c *ChatModel) { c.temperature = t }
}

// WithTimeout bounds each model call; zero disables the bound
func WithTimeout(d time.Duration) ChatOption {
	return func(c *ChatModel) { c.timeout = d }
}

// NewChatModel wraps a langchaingo model
func NewChatModel(model llms.Model, opts ...ChatOption) *ChatModel {
	c := &ChatModel{model: model, system: SystemPrompt}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Respond returns exactly one assistant message for history
func (c *ChatModel) Respond(ctx context.Context, history []models.ChatMessage) (models.ChatMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, toMessageContent(c.system, history), llms.WithTemperature(c.temperature))
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("%w: %w", ErrModelInvocation, err)
	}
	if len(resp.Choices) == 0 {
		return models.ChatMessage{}, fmt.Errorf("%w: empty response", ErrModelInvocation)
	}

	log.Debug().
		Int("history", len(history)).
		Dur("elapsed", time.Since(start)).
		Str("stop_reason", resp.Choices[0].StopReason).
		Msg("Received LLM response")

	return models.ChatMessage{Role: models.RoleAI, Content: resp.Choices[0].Content}, nil
}
