package engine

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/fcrunner/pkg/conversation"
	"github.com/go-go-golems/fcrunner/pkg/inference/usage"
)

// ToolCallDelta is one tool-call fragment carried by a chunk. Arguments is the
// JSON-encoded argument object as produced by the model.
type ToolCallDelta struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Arguments string `json:"arguments" yaml:"arguments"`
}

type Delta struct {
	Content   string                     `json:"content,omitempty" yaml:"content,omitempty"`
	Parts     []conversation.ContentPart `json:"parts,omitempty" yaml:"parts,omitempty"`
	ToolCalls []ToolCallDelta            `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	Usage     *usage.Totals              `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// Chunk is one element of a model's streaming output.
type Chunk struct {
	Model        string `json:"model" yaml:"model"`
	Index        int    `json:"index" yaml:"index"`
	Delta        Delta  `json:"delta" yaml:"delta"`
	FinishReason string `json:"finish_reason,omitempty" yaml:"finish_reason,omitempty"`
}

func (c Chunk) HasToolCalls() bool {
	return len(c.Delta.ToolCalls) > 0
}

// Text returns the textual content of the chunk. Content parts are concatenated in
// order, image parts are skipped.
func (c Chunk) Text() string {
	if len(c.Delta.Parts) == 0 {
		return c.Delta.Content
	}
	var sb strings.Builder
	sb.WriteString(c.Delta.Content)
	for _, p := range c.Delta.Parts {
		if p.Type == conversation.ContentTypeText || p.Type == "" {
			sb.WriteString(p.Data)
		}
	}
	return sb.String()
}

// SliceStream replays a fixed list of chunks. If Err is set it is returned after the
// last chunk instead of io.EOF.
type SliceStream struct {
	ctx    context.Context
	chunks []Chunk
	Err    error
	pos    int
	closed bool
}

var _ ChunkStream = (*SliceStream)(nil)

func NewSliceStream(ctx context.Context, chunks ...Chunk) *SliceStream {
	return &SliceStream{ctx: ctx, chunks: chunks}
}

func (s *SliceStream) Recv() (Chunk, error) {
	if s.closed {
		return Chunk{}, io.ErrClosedPipe
	}
	if s.ctx != nil {
		if err := s.ctx.Err(); err != nil {
			return Chunk{}, err
		}
	}
	if s.pos >= len(s.chunks) {
		if s.Err != nil {
			return Chunk{}, s.Err
		}
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
