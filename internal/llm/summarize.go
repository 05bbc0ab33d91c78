package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/askbot/pkg/models"
)

const (
	maxSummaryWords = 4
	maxTags         = 5
	summaryToolName = "record_summary"
)

// SummarizePrompt instructs the structured summarization call
const SummarizePrompt = `Please analyze the following conversation between a human and an AI assistant. Based on the content of their interaction:

1. Generate an ultra-concise summary using FEWER THAN 5 WORDS that captures the absolute core essence of the conversation. DO NOT include a period at the end of the summary.
2. Create 5 OR FEWER relevant tags that accurately represent the core themes, topics, and subject areas covered in the conversation.

The conversation transcript is provided in a structured format with role-based message tags:

<message role="human">Human message content here</message>
<message role="ai">AI assistant response here</message>
[...and so on for the full conversation...]`

// Summary is the structured output of the summarization call
type Summary struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

var summaryTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        summaryToolName,
		Description: "Record the summary and tags of the conversation",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{
					"type":        "string",
					"description": "The summary of the input messages",
				},
				"tags": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "The tags associated with the input messages",
				},
			},
			"required": []string{"summary", "tags"},
		},
	},
}

// Summarizer derives a short label and topic tags from a conversation
type Summarizer struct {
	model   llms.Model
	timeout time.Duration
}

// NewSummarizer wraps a langchaingo model. Providers without tool support
// fall back to parsing JSON from the plain completion.
func NewSummarizer(model llms.Model, timeout time.Duration) *Summarizer {
	return &Summarizer{model: model, timeout: timeout}
}

// Summarize runs the structured summarization call over the transcript
func (s *Summarizer) Summarize(ctx context.Context, messages []models.ChatMessage) (Summary, error) {
	if len(messages) == 0 {
		return Summary{}, errors.New("nothing to summarize")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SummarizePrompt),
		{Role: llms.ChatMessageTypeHuman, Parts: TranscriptParts(messages)},
	}

	resp, err := s.model.GenerateContent(ctx, content,
		llms.WithTemperature(0),
		llms.WithTools([]llms.Tool{summaryTool}),
		llms.WithToolChoice(llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: summaryToolName}}),
	)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: summarize: %w", ErrModelInvocation, err)
	}
	if len(resp.Choices) == 0 {
		return Summary{}, fmt.Errorf("%w: summarize: empty response", ErrModelInvocation)
	}

	raw := resp.Choices[0].Content
	for _, call := range resp.Choices[0].ToolCalls {
		if call.FunctionCall != nil && call.FunctionCall.Name == summaryToolName {
			raw = call.FunctionCall.Arguments
			break
		}
	}

	summary, err := ParseSummary(raw)
	if err != nil {
		return Summary{}, err
	}

	log.Debug().Str("summary", summary.Summary).Strs("tags", summary.Tags).Msg("Received summary")
	return summary, nil
}

// ParseSummary decodes structured summary output, repairing sloppy JSON,
// and clamps it to the summary bounds.
func ParseSummary(raw string) (Summary, error) {
	repaired, err := RepairJSON(raw)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: summarize: %w", ErrModelInvocation, err)
	}

	var out Summary
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return Summary{}, fmt.Errorf("%w: summarize: decode output: %w", ErrModelInvocation, err)
	}

	out = out.Normalize()
	if out.Summary == "" {
		return Summary{}, fmt.Errorf("%w: summarize: empty summary", ErrModelInvocation)
	}
	return out, nil
}

// Normalize trims the summary to fewer than five words without a trailing
// period and keeps at most five distinct non-empty tags.
func (s Summary) Normalize() Summary {
	words := strings.Fields(s.Summary)
	if len(words) > maxSummaryWords {
		words = words[:maxSummaryWords]
	}
	summary := strings.TrimRight(strings.Join(words, " "), ".")

	tags := make([]string, 0, maxTags)
	seen := make(map[string]bool)
	for _, tag := range s.Tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}

	return Summary{Summary: strings.TrimSpace(summary), Tags: tags}
}
