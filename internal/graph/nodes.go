package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/askbot/internal/conversation"
	"github.com/askbot/internal/llm"
	"github.com/askbot/internal/metrics"
	"github.com/askbot/internal/responses"
	"github.com/askbot/pkg/models"
)

// NodeName identifies a state in the graph
type NodeName string

const (
	NodeFetchFile      NodeName = "fetch_file"
	NodeGenerateVector NodeName = "generate_vector"
	NodeReuseHistory   NodeName = "reuse_history"
	NodeCallModel      NodeName = "call_model"
	NodeSummarize      NodeName = "summarize"
	End                NodeName = "__end__"
)

// Command is a node's result: a state patch plus either the default edge
// (Goto empty) or an explicit jump.
type Command struct {
	Goto  NodeName
	Patch Patch
}

// Continue follows the node's outgoing edge
func Continue(p Patch) Command { return Command{Patch: p} }

// Goto jumps to node n
func Goto(n NodeName, p Patch) Command { return Command{Goto: n, Patch: p} }

// Node is one state of the graph. It reads a snapshot of the state and
// returns the patch to merge.
type Node func(ctx context.Context, s *State) (Command, error)

type VectorGenerator interface {
	Generate(ctx context.Context, messages []models.ChatMessage) ([]float32, error)
}

type CacheLookup interface {
	Lookup(ctx context.Context, vector []float32) (*responses.Hit, error)
}

type ResponseWriter interface {
	Insert(ctx context.Context, r *responses.Record) (string, error)
	UpdateSummary(ctx context.Context, id, summary string, tags []string) error
}

type Responder interface {
	Respond(ctx context.Context, history []models.ChatMessage) (models.ChatMessage, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, messages []models.ChatMessage) (llm.Summary, error)
}

// FileFetcher downloads attachment content by URL
type FileFetcher interface {
	FetchFile(ctx context.Context, url string) (string, error)
}

// Scrubber removes secrets from text before it is embedded or sent out
type Scrubber interface {
	Scrub(text string) string
}

func (g *Graph) fetchFile(ctx context.Context, s *State) (Command, error) {
	idx := -1
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == models.RoleHuman {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Continue(Patch{ClearFiles: true}), nil
	}

	var files []llm.File
	for _, f := range s.Files {
		if !llm.IsSupportedFileType(f.MimeType) {
			log.Debug().Str("name", f.Name).Str("mime_type", f.MimeType).Msg("Skipping unsupported file")
			continue
		}
		if f.Content == "" && f.URL != "" {
			if g.files == nil {
				return Command{}, fmt.Errorf("no file fetcher configured for %s", f.Name)
			}
			content, err := g.files.FetchFile(ctx, f.URL)
			if err != nil {
				return Command{}, fmt.Errorf("failed to fetch file %s: %w", f.Name, err)
			}
			f.Content = content
		}
		f.Content = g.scrub(f.Content)
		files = append(files, f)
	}

	msg := s.Messages[idx]
	msg.Content = llm.InlineFiles(msg.Content, files)

	log.Debug().Int("files", len(files)).Msg("Inlined files")
	return Continue(Patch{Messages: []Message{msg}, ClearFiles: true}), nil
}

func (g *Graph) generateVector(ctx context.Context, s *State) (Command, error) {
	vector, err := g.vectors.Generate(ctx, s.ChatMessages())
	if err != nil {
		return Command{}, err
	}
	return Continue(Patch{Vector: vector}), nil
}

func (g *Graph) reuseHistory(ctx context.Context, s *State) (Command, error) {
	hit, err := g.cache.Lookup(ctx, s.Vector)
	if err != nil {
		log.Warn().Err(err).Msg("Cache lookup failed, calling model")
		return Continue(Patch{}), nil
	}
	if hit == nil {
		return Continue(Patch{}), nil
	}

	id := hit.ResponseID
	patch := Patch{
		Messages:   []Message{{ID: newMessageID(), ChatMessage: hit.Output}},
		ResponseID: &id,
	}
	if !s.HasSummary() {
		patch.Summary = hit.Summary
	}
	if s.Tags == nil {
		patch.Tags = hit.Tags
	}
	return Goto(NodeSummarize, patch), nil
}

func (g *Graph) callModel(ctx context.Context, s *State) (Command, error) {
	history := s.ChatMessages()
	reply, err := g.model.Respond(ctx, history)
	if err != nil {
		metrics.ModelInvocations.WithLabelValues("error").Inc()
		return Command{}, err
	}
	metrics.ModelInvocations.WithLabelValues("ok").Inc()

	input, err := json.Marshal(llm.EncodeMessages(history))
	if err != nil {
		return Command{}, fmt.Errorf("%w: encode input: %w", conversation.ErrPersistence, err)
	}
	output, err := json.Marshal(llm.EncodeMessage(reply))
	if err != nil {
		return Command{}, fmt.Errorf("%w: encode output: %w", conversation.ErrPersistence, err)
	}

	id, err := g.responses.Insert(ctx, &responses.Record{Input: input, Output: output, Vector: s.Vector})
	if err != nil {
		return Command{}, fmt.Errorf("%w: %w", conversation.ErrPersistence, err)
	}
	log.Debug().Str("response_id", id).Msg("Inserted response into database")

	return Continue(Patch{
		Messages:   []Message{{ID: newMessageID(), ChatMessage: reply}},
		ResponseID: &id,
	}), nil
}

func (g *Graph) summarize(ctx context.Context, s *State) (Command, error) {
	if s.HasSummary() || s.ResponseID == "" {
		return Continue(Patch{}), nil
	}

	out, err := g.summarizer.Summarize(ctx, s.ChatMessages())
	if err != nil {
		metrics.Summarizations.WithLabelValues("error").Inc()
		return Command{}, err
	}
	metrics.Summarizations.WithLabelValues("ok").Inc()

	if err := g.responses.UpdateSummary(ctx, s.ResponseID, out.Summary, out.Tags); err != nil {
		return Command{}, fmt.Errorf("%w: %w", conversation.ErrPersistence, err)
	}
	log.Debug().Str("response_id", s.ResponseID).Msg("Updated response summary")

	summary := out.Summary
	return Continue(Patch{Summary: &summary, Tags: out.Tags}), nil
}

func (g *Graph) scrub(text string) string {
	if g.scrubber == nil {
		return text
	}
	return g.scrubber.Scrub(text)
}
