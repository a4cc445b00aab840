package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coreagent/runtime/internal/domain"
)

// Message is the reconstructed view of a single turn's user or assistant
// message, built by walking a session's event DAG rather than stored in
// its own table — muxd keeps a flat messages table, but here the events
// themselves are the source of truth.
type Message struct {
	EventID    string          `json:"eventId"`
	Role       string          `json:"role"` // user|assistant
	Content    string          `json:"content"`
	Turn       int             `json:"turn"`
	TokenUsage domain.TokenUsage `json:"tokenUsage,omitempty"`
	StopReason string          `json:"stopReason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// messagesFromEvents extracts the ordered message view from an
// ancestor chain (root-to-self), skipping every non-message event type
// (tool calls, worktree transitions, plan mode, todos, log).
func messagesFromEvents(events []domain.Event) ([]Message, error) {
	var out []Message
	for _, ev := range events {
		switch ev.Type {
		case domain.EventMessageUser:
			var p domain.MessageUserPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				return nil, fmt.Errorf("decode message.user payload for event %s: %w", ev.ID, err)
			}
			out = append(out, Message{
				EventID:   ev.ID,
				Role:      "user",
				Content:   p.Content,
				Turn:      p.Turn,
				Timestamp: ev.Timestamp,
			})
		case domain.EventMessageAssistant:
			var p domain.MessageAssistantPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				return nil, fmt.Errorf("decode message.assistant payload for event %s: %w", ev.ID, err)
			}
			out = append(out, Message{
				EventID:    ev.ID,
				Role:       "assistant",
				Content:    flattenAssistantText(p.Content),
				Turn:       p.Turn,
				TokenUsage: p.TokenUsage,
				StopReason: p.StopReason,
				Timestamp:  ev.Timestamp,
			})
		}
	}
	return out, nil
}

func flattenAssistantText(blocks []domain.AssistantContentBlock) string {
	var sb strings.Builder
	for i, b := range blocks {
		if b.Type != "text" {
			continue
		}
		if i > 0 && sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}
