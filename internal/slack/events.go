package slack

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrMalformedPayload is returned for bodies that are not a known event envelope
	ErrMalformedPayload = errors.New("malformed slack payload")
	// ErrInvalidSignature is returned when request signing cannot be verified
	ErrInvalidSignature = errors.New("invalid slack signature")
)

// Outer event types
const (
	EventURLVerification = "url_verification"
	EventCallback        = "event_callback"
	EventMessage         = "message"
)

var validate = validator.New()

// OuterEvent is the envelope of every Events API request.
// https://api.slack.com/apis/events-api#callback-field
type OuterEvent struct {
	Type      string        `json:"type" validate:"required,oneof=url_verification event_callback"`
	Token     string        `json:"token,omitempty" validate:"required_if=Type url_verification"`
	Challenge string        `json:"challenge,omitempty" validate:"required_if=Type url_verification"`
	TeamID    string        `json:"team_id,omitempty" validate:"required_if=Type event_callback"`
	Event     *MessageEvent `json:"event,omitempty" validate:"required_if=Type event_callback,omitempty"`
}

// MessageEvent is a channel message.
// https://api.slack.com/events/message
type MessageEvent struct {
	Type       string      `json:"type" validate:"required"`
	Channel    string      `json:"channel" validate:"required_if=Type message"`
	TS         string      `json:"ts" validate:"required_if=Type message"`
	Subtype    string      `json:"subtype,omitempty"`
	User       string      `json:"user,omitempty"`
	Text       string      `json:"text"`
	BotProfile *BotProfile `json:"bot_profile,omitempty"`
	ThreadTS   string      `json:"thread_ts,omitempty"`
	Files      []File      `json:"files,omitempty" validate:"dive"`
}

// BotProfile identifies the app that authored a bot message
type BotProfile struct {
	AppID string `json:"app_id" validate:"required"`
}

// File is an upload attached to a message
type File struct {
	Title      string `json:"title"`
	MimeType   string `json:"mimetype" validate:"required"`
	URLPrivate string `json:"url_private" validate:"required"`
}

// ThreadKey is the ts identifying the thread the message belongs to. A
// message that starts a thread is keyed by its own ts.
func (e *MessageEvent) ThreadKey() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// Subtypes that still carry a question from a person
var answerableSubtypes = map[string]bool{
	"":                 true,
	"file_share":       true,
	"thread_broadcast": true,
}

// Answerable reports whether the message was written by a user. Edits,
// deletions and posts by other bots are not.
func (e *MessageEvent) Answerable() bool {
	return e.User != "" && answerableSubtypes[e.Subtype]
}

// IsFrom reports whether the message was posted by the given app
func (e *MessageEvent) IsFrom(appID string) bool {
	return e.BotProfile != nil && appID != "" && e.BotProfile.AppID == appID
}

// ParseEvent decodes and validates an Events API body
func ParseEvent(body []byte) (*OuterEvent, error) {
	var ev OuterEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if err := validate.Struct(&ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return &ev, nil
}

// IsMessage reports whether the envelope carries a message event
func (o *OuterEvent) IsMessage() bool {
	return o.Type == EventCallback && o.Event != nil && o.Event.Type == EventMessage
}
