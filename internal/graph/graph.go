// Package graph runs the checkpointed response pipeline:
//
//	[fetch_file] -> generate_vector -> reuse_history -> call_model -> summarize -> end
//	                                       \______ cache hit ______/
//
// State is checkpointed per thread after every node, so message history
// carries across invocations and an interrupted run can be resumed.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/askbot/internal/llm"
	"github.com/askbot/internal/metrics"
	"github.com/askbot/pkg/models"
)

const maxSteps = 16

// Config wires the graph's collaborators. Files and Scrubber are optional;
// Checkpointer defaults to an in-memory one.
type Config struct {
	Vectors      VectorGenerator
	Cache        CacheLookup
	Responses    ResponseWriter
	Model        Responder
	Summarizer   Summarizer
	Files        FileFetcher
	Scrubber     Scrubber
	Checkpointer Checkpointer
}

// Input is one inbound turn
type Input struct {
	Messages []models.ChatMessage
	// Files are inlined into the last human message before embedding
	Files []llm.File
	// Summary and Tags seed a thread that was summarized elsewhere
	Summary *string
	Tags    []string
}

type Graph struct {
	vectors      VectorGenerator
	cache        CacheLookup
	responses    ResponseWriter
	model        Responder
	summarizer   Summarizer
	files        FileFetcher
	scrubber     Scrubber
	checkpointer Checkpointer

	nodes map[NodeName]Node
	edges map[NodeName]NodeName
	locks *keyedMutex
}

// New builds the graph
func New(cfg Config) (*Graph, error) {
	switch {
	case cfg.Vectors == nil:
		return nil, errors.New("graph: vector generator is required")
	case cfg.Cache == nil:
		return nil, errors.New("graph: cache is required")
	case cfg.Responses == nil:
		return nil, errors.New("graph: response store is required")
	case cfg.Model == nil:
		return nil, errors.New("graph: model is required")
	case cfg.Summarizer == nil:
		return nil, errors.New("graph: summarizer is required")
	}
	if cfg.Checkpointer == nil {
		cfg.Checkpointer = NewMemoryCheckpointer()
	}

	g := &Graph{
		vectors:      cfg.Vectors,
		cache:        cfg.Cache,
		responses:    cfg.Responses,
		model:        cfg.Model,
		summarizer:   cfg.Summarizer,
		files:        cfg.Files,
		scrubber:     cfg.Scrubber,
		checkpointer: cfg.Checkpointer,
		locks:        newKeyedMutex(),
	}
	g.nodes = map[NodeName]Node{
		NodeFetchFile:      g.fetchFile,
		NodeGenerateVector: g.generateVector,
		NodeReuseHistory:   g.reuseHistory,
		NodeCallModel:      g.callModel,
		NodeSummarize:      g.summarize,
	}
	g.edges = map[NodeName]NodeName{
		NodeFetchFile:      NodeGenerateVector,
		NodeGenerateVector: NodeReuseHistory,
		NodeReuseHistory:   NodeCallModel,
		NodeCallModel:      NodeSummarize,
		NodeSummarize:      End,
	}
	return g, nil
}

// Invoke merges in into the thread's checkpointed state and runs the graph
// to completion. Invocations on the same thread are serialized.
func (g *Graph) Invoke(ctx context.Context, threadID string, in Input) (*State, error) {
	unlock := g.locks.Lock(threadID)
	defer unlock()

	state := &State{}
	cp, err := g.checkpointer.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		state = &cp.State
		if cp.Next != End {
			log.Warn().Str("thread_id", threadID).Str("next", string(cp.Next)).Msg("Restarting unfinished run from the top with the new input")
		}
	}

	patch := Patch{Summary: in.Summary, Tags: in.Tags}
	for _, m := range in.Messages {
		patch.Messages = append(patch.Messages, Message{ID: newMessageID(), ChatMessage: m})
	}
	state.Apply(patch)
	state.Files = append([]llm.File(nil), in.Files...)

	start := NodeGenerateVector
	if len(state.Files) > 0 {
		start = NodeFetchFile
	}
	if err := g.save(ctx, threadID, state, start); err != nil {
		return nil, err
	}

	return g.run(ctx, threadID, state, start)
}

// Resume continues an unfinished run from its checkpoint. A finished or
// unknown thread returns its state, or an empty one, unchanged.
func (g *Graph) Resume(ctx context.Context, threadID string) (*State, error) {
	unlock := g.locks.Lock(threadID)
	defer unlock()

	cp, err := g.checkpointer.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return &State{}, nil
	}
	if cp.Next == End {
		return &cp.State, nil
	}
	return g.run(ctx, threadID, &cp.State, cp.Next)
}

// State returns the thread's checkpointed state without running anything
func (g *Graph) State(ctx context.Context, threadID string) (*State, error) {
	cp, err := g.checkpointer.Load(ctx, threadID)
	if err != nil || cp == nil {
		return nil, err
	}
	return &cp.State, nil
}

func (g *Graph) run(ctx context.Context, threadID string, state *State, current NodeName) (*State, error) {
	started := time.Now()
	path := "cache_hit"

	for step := 0; current != End; step++ {
		if step >= maxSteps {
			return nil, fmt.Errorf("graph: exceeded %d steps on thread %s", maxSteps, threadID)
		}
		node, ok := g.nodes[current]
		if !ok {
			return nil, fmt.Errorf("graph: unknown node %q", current)
		}
		if current == NodeCallModel {
			path = "model"
		}

		log.Debug().Str("thread_id", threadID).Str("node", string(current)).Msg("Running node")
		cmd, err := node(ctx, state.clone())
		if err != nil {
			return nil, fmt.Errorf("graph node %s: %w", current, err)
		}

		state.Apply(cmd.Patch)
		next := cmd.Goto
		if next == "" {
			next = g.edges[current]
		}
		if err := g.save(ctx, threadID, state, next); err != nil {
			return nil, err
		}
		current = next
	}

	metrics.GraphDuration.WithLabelValues(path).Observe(time.Since(started).Seconds())
	return state.clone(), nil
}

func (g *Graph) save(ctx context.Context, threadID string, state *State, next NodeName) error {
	cp := &Checkpoint{State: *state, Next: next, UpdatedAt: time.Now()}
	if err := g.checkpointer.Save(ctx, threadID, cp); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	return nil
}

func newMessageID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
