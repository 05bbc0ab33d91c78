package llm

import (
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/askbot/pkg/models"
)

// EncodedMessage is the persisted form of a chat turn inside a response record
type EncodedMessage struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// EncodeMessage converts a chat turn to its persisted form
func EncodeMessage(m models.ChatMessage) EncodedMessage {
	return EncodedMessage{Role: string(m.Role), Name: m.Name, Content: m.Content}
}

// EncodeMessages converts a conversation to its persisted form
func EncodeMessages(messages []models.ChatMessage) []EncodedMessage {
	out := make([]EncodedMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, EncodeMessage(m))
	}
	return out
}

// DecodeMessage parses a persisted chat turn. Only human and ai roles are
// accepted; anything else reports ok == false.
func DecodeMessage(raw []byte) (models.ChatMessage, bool) {
	var enc EncodedMessage
	if err := json.Unmarshal(raw, &enc); err != nil {
		return models.ChatMessage{}, false
	}

	switch models.Role(enc.Role) {
	case models.RoleAI, models.RoleHuman:
		return models.ChatMessage{Role: models.Role(enc.Role), Name: enc.Name, Content: enc.Content}, true
	default:
		return models.ChatMessage{}, false
	}
}

// BufferString renders a conversation as "Human: ...\nAI: ..." lines, the
// text that gets embedded.
func BufferString(messages []models.ChatMessage) (string, error) {
	chat := make([]llms.ChatMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleHuman:
			chat = append(chat, llms.HumanChatMessage{Content: m.Content})
		case models.RoleAI:
			chat = append(chat, llms.AIChatMessage{Content: m.Content})
		case models.RoleSystem:
			chat = append(chat, llms.SystemChatMessage{Content: m.Content})
		default:
			return "", fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return llms.GetBufferString(chat, "Human", "AI")
}

// TranscriptParts renders each turn as a <message role="..."> block
func TranscriptParts(messages []models.ChatMessage) []llms.ContentPart {
	parts := make([]llms.ContentPart, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, llms.TextPart(fmt.Sprintf(`<message role="%s">%s</message>`, m.Role, m.Content)))
	}
	return parts
}

func toMessageContent(system string, history []models.ChatMessage) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(history)+1)
	if system != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, m := range history {
		content = append(content, llms.TextParts(messageType(m.Role), m.Content))
	}
	return content
}

func messageType(role models.Role) llms.ChatMessageType {
	switch role {
	case models.RoleAI:
		return llms.ChatMessageTypeAI
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}
