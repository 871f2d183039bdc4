package engine

import (
	"context"

	"github.com/go-go-golems/fcrunner/pkg/conversation"
	"github.com/invopop/jsonschema"
)

// ToolSchema describes a tool to the model.
type ToolSchema struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// Request is a single model invocation.
type Request struct {
	Prompt     conversation.Conversation `json:"prompt"`
	Parameters map[string]any            `json:"parameters,omitempty"`
	Tools      []ToolSchema              `json:"tools,omitempty"`
	Stop       []string                  `json:"stop,omitempty"`
	Stream     bool                      `json:"stream"`
	User       string                    `json:"user,omitempty"`
}

// Model is the invocation contract a provider adapter implements. Provider specifics
// (HTTP, SDKs, credentials) stay behind this interface.
type Model interface {
	// Name returns the model identifier reported in run results.
	Name() string
	// Invoke starts a streaming completion. The returned stream must be closed by the
	// caller. Implementations should abort the stream when ctx is cancelled.
	Invoke(ctx context.Context, req Request) (ChunkStream, error)
}

// ChunkStream yields the incremental output of one model invocation. Recv returns
// io.EOF once the stream is exhausted.
type ChunkStream interface {
	Recv() (Chunk, error)
	Close() error
}
