package conversation

import (
	"fmt"
	"strings"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// ContentPart is one element of a multi-part message content, used for mixed-modality
// output. Data holds the text for text parts and a URL or data URI for image parts.
type ContentPart struct {
	Type ContentType `json:"type" yaml:"type"`
	Data string      `json:"data" yaml:"data"`
}

// ToolCall is a function call requested by the assistant. Arguments is the raw JSON
// argument string as produced by the model.
type ToolCall struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Arguments string `json:"arguments" yaml:"arguments"`
}

// Message is a single prompt message. Which fields are meaningful depends on Role:
// ToolCalls only for assistant messages, ToolCallID and Name only for tool messages.
type Message struct {
	Role       Role          `json:"role" yaml:"role"`
	Content    string        `json:"content,omitempty" yaml:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty" yaml:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty" yaml:"name,omitempty"`
}

func NewSystemMessage(text string) *Message {
	return &Message{Role: RoleSystem, Content: text}
}

func NewUserMessage(text string) *Message {
	return &Message{Role: RoleUser, Content: text}
}

func NewAssistantMessage(text string, calls ...ToolCall) *Message {
	return &Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

func NewToolMessage(callID string, name string, text string) *Message {
	return &Message{Role: RoleTool, Content: text, ToolCallID: callID, Name: name}
}

// Text returns the textual content of the message. When the message carries content
// parts, the data of its text parts is concatenated in order.
func (m *Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	sb.WriteString(m.Content)
	for _, p := range m.Parts {
		if p.Type == ContentTypeText || p.Type == "" {
			sb.WriteString(p.Data)
		}
	}
	return sb.String()
}

func (m *Message) String() string {
	s := fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Text(), "\n"))
	for _, c := range m.ToolCalls {
		s += fmt.Sprintf("\n  -> %s(%s) [%s]", c.Name, c.Arguments, c.ID)
	}
	if m.Role == RoleTool {
		s = fmt.Sprintf("[%s %s/%s]: %s", m.Role, m.Name, m.ToolCallID, strings.TrimRight(m.Content, "\n"))
	}
	return s
}

// Conversation is an ordered sequence of prompt messages. Conversations are treated
// as values: every operation in this package returns a new slice and leaves the
// receiver untouched, so callers can hold on to older states.
type Conversation []*Message

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(Conversation)
}

func (c Conversation) Last() *Message {
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

func (c Conversation) String() string {
	lines := make([]string, 0, len(c))
	for _, m := range c {
		lines = append(lines, m.String())
	}
	return strings.Join(lines, "\n")
}

// Validate checks the structural invariants of a conversation: a system message may
// only appear once, in first position, and every tool message must answer a tool call
// issued by an earlier assistant message.
func (c Conversation) Validate() error {
	seenCalls := map[string]bool{}
	for i, m := range c {
		if m == nil {
			return errors.Errorf("message %d is nil", i)
		}
		switch m.Role {
		case RoleSystem:
			if i != 0 {
				return errors.Errorf("system message at position %d, only the first message may be a system message", i)
			}
		case RoleUser:
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				seenCalls[tc.ID] = true
			}
		case RoleTool:
			if !seenCalls[m.ToolCallID] {
				return errors.Errorf("tool message at position %d references unknown tool call %q", i, m.ToolCallID)
			}
		default:
			return errors.Errorf("message %d has unknown role %q", i, m.Role)
		}
	}
	return nil
}
