package models

import (
	"time"
)

// Role identifies the author of a chat turn. Values match the message type
// names used by the language model client.
type Role string

const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// ChatMessage is one role-tagged turn as seen by the model pipeline.
// File uploads are already inlined into Content.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// User represents a chat-platform user that owns threads
type User struct {
	ID          string    `json:"id" db:"id"`
	Name        *string   `json:"name,omitempty" db:"name"`
	Email       *string   `json:"email,omitempty" db:"email"`
	FirstName   *string   `json:"first_name,omitempty" db:"first_name"`
	LastName    *string   `json:"last_name,omitempty" db:"last_name"`
	RealName    *string   `json:"real_name,omitempty" db:"real_name"`
	DisplayName *string   `json:"display_name,omitempty" db:"display_name"`
	SlackUserID string    `json:"slack_user_id" db:"slack_user_id"`
	SlackTeamID string    `json:"slack_team_id" db:"slack_team_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Thread is one ongoing conversation. Summary and Tags are written once.
type Thread struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	SlackThreadTS *string   `json:"slack_thread_ts,omitempty" db:"slack_thread_ts"`
	Summary       *string   `json:"summary,omitempty" db:"summary"`
	Tags          []string  `json:"tags,omitempty" db:"tags"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// HasSummary reports whether both summary and tags are already set.
func (t *Thread) HasSummary() bool {
	return t.Summary != nil && *t.Summary != "" && t.Tags != nil
}

// ChunkType discriminates MessageChunk variants
type ChunkType string

const (
	ChunkText ChunkType = "text"
	ChunkFile ChunkType = "file"
)

// MessageChunk is either plain text or a named file with raw text content.
type MessageChunk struct {
	Type     ChunkType `json:"type"`
	Text     string    `json:"text,omitempty"`
	Name     string    `json:"name,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
	Content  string    `json:"content,omitempty"`
}

// TextChunk builds a text chunk
func TextChunk(text string) MessageChunk {
	return MessageChunk{Type: ChunkText, Text: text}
}

// FileChunk builds a file chunk
func FileChunk(name, mimeType, content string) MessageChunk {
	return MessageChunk{Type: ChunkFile, Name: name, MimeType: mimeType, Content: content}
}

// Message is one persisted turn of a thread. IDs are time-ordered so that
// ordering by ID reproduces insertion order.
type Message struct {
	ID        string         `json:"id" db:"id"`
	ThreadID  string         `json:"thread_id" db:"thread_id"`
	Type      Role           `json:"type" db:"type"`
	Content   []MessageChunk `json:"content" db:"content"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Text concatenates the text chunks of the message
func (m *Message) Text() string {
	out := ""
	for _, c := range m.Content {
		if c.Type == ChunkText {
			out += c.Text
		}
	}
	return out
}
