package graph

import (
	"github.com/askbot/internal/llm"
	"github.com/askbot/pkg/models"
)

// Message is a chat turn with a stable id so that a node can revise a turn
// already in the state (file inlining does this).
type Message struct {
	ID string `json:"id"`
	models.ChatMessage
}

// State is the accumulated execution state of one thread
type State struct {
	Messages   []Message  `json:"messages"`
	Vector     []float32  `json:"vector,omitempty"`
	Summary    *string    `json:"summary,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	ResponseID string     `json:"response_id,omitempty"`
	Files      []llm.File `json:"files,omitempty"`
}

// Patch is a node's update to State.
//
// Messages whose id matches an existing message replace it in place; the
// rest are appended. Every other non-nil field overwrites the current value.
type Patch struct {
	Messages   []Message
	Vector     []float32
	Summary    *string
	Tags       []string
	ResponseID *string
	// ClearFiles drops attachments once they are inlined
	ClearFiles bool
}

// Apply merges p into s
func (s *State) Apply(p Patch) {
	for _, m := range p.Messages {
		replaced := false
		if m.ID != "" {
			for i := range s.Messages {
				if s.Messages[i].ID == m.ID {
					s.Messages[i] = m
					replaced = true
					break
				}
			}
		}
		if !replaced {
			s.Messages = append(s.Messages, m)
		}
	}
	if p.Vector != nil {
		s.Vector = p.Vector
	}
	if p.Summary != nil {
		s.Summary = p.Summary
	}
	if p.Tags != nil {
		s.Tags = p.Tags
	}
	if p.ResponseID != nil {
		s.ResponseID = *p.ResponseID
	}
	if p.ClearFiles {
		s.Files = nil
	}
}

// ChatMessages returns the conversation without message ids
func (s *State) ChatMessages() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, m.ChatMessage)
	}
	return out
}

// Last returns the final message, the reply once the graph has ended
func (s *State) Last() (models.ChatMessage, bool) {
	if len(s.Messages) == 0 {
		return models.ChatMessage{}, false
	}
	return s.Messages[len(s.Messages)-1].ChatMessage, true
}

// HasSummary reports whether a non-empty summary is already known
func (s *State) HasSummary() bool {
	return s.Summary != nil && *s.Summary != ""
}

func (s *State) clone() *State {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	c.Vector = append([]float32(nil), s.Vector...)
	if s.Summary != nil {
		v := *s.Summary
		c.Summary = &v
	}
	if s.Tags != nil {
		c.Tags = append([]string{}, s.Tags...)
	}
	c.Files = append([]llm.File(nil), s.Files...)
	return &c
}
