package agentloop

import (
	"time"

	"github.com/go-go-golems/fcrunner/pkg/conversation"
	"github.com/go-go-golems/fcrunner/pkg/inference/usage"
)

// MaxIterations caps the number of model round trips of a run.
const MaxIterations = 5

// AgentThought records one tool call of a run.
//
// Observation is set once the call has been dispatched. Answer is set to the text the
// following iteration streamed, so the thoughts of the last iteration of a run never
// get one.
type AgentThought struct {
	ID          string    `json:"id" yaml:"id"`
	RunID       string    `json:"run_id" yaml:"run_id"`
	Position    int       `json:"position" yaml:"position"`
	Iteration   int       `json:"iteration" yaml:"iteration"`
	ToolName    string    `json:"tool_name" yaml:"tool_name"`
	ToolInput   string    `json:"tool_input" yaml:"tool_input"`
	Observation *string   `json:"observation" yaml:"observation"`
	Answer      *string   `json:"answer" yaml:"answer"`
	Files       []string  `json:"files,omitempty" yaml:"files,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// RunInput starts a run.
type RunInput struct {
	// RunID identifies the run. A random id is generated when empty.
	RunID          string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	Query          string `json:"query" yaml:"query"`

	// History is the conversation the run continues. The query is appended to a copy;
	// History itself is left untouched.
	History conversation.Conversation `json:"history,omitempty" yaml:"history,omitempty"`
}

// RunResult is the terminal result of a run that was not cancelled.
type RunResult struct {
	RunID          string                    `json:"run_id" yaml:"run_id"`
	ConversationID string                    `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	Model          string                    `json:"model" yaml:"model"`
	Prompt         conversation.Conversation `json:"prompt" yaml:"prompt"`

	// Answer joins the text of every iteration that produced any.
	Answer     string       `json:"answer" yaml:"answer"`
	Usage      usage.Totals `json:"usage" yaml:"usage"`
	Iterations int          `json:"iterations" yaml:"iterations"`

	// Truncated is set when the run stopped at MaxIterations with tool calls pending.
	Truncated bool           `json:"truncated" yaml:"truncated"`
	Thoughts  []AgentThought `json:"thoughts,omitempty" yaml:"thoughts,omitempty"`
}
