package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-go-golems/fcrunner/pkg/conversation"
	"github.com/go-go-golems/fcrunner/pkg/inference/engine"
	"github.com/go-go-golems/fcrunner/pkg/inference/tools"
	"github.com/go-go-golems/fcrunner/pkg/inference/usage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MalformedToolCallError is returned when the model requests a tool call whose
// arguments are not a JSON object. The call cannot be dispatched and the run fails.
type MalformedToolCallError struct {
	CallID    string
	Name      string
	Arguments string
	Err       error
}

func (e *MalformedToolCallError) Error() string {
	return fmt.Sprintf("malformed arguments for tool call %s (%s): %v", e.CallID, e.Name, e.Err)
}

func (e *MalformedToolCallError) Unwrap() error {
	return e.Err
}

type consumeResult struct {
	sawToolCall bool
	calls       []tools.ToolCallRequest

	// raw keeps the calls as the model sent them, for the assistant message
	raw  []conversation.ToolCall
	text string
}

// consumeStream drains stream, forwarding every chunk to out in arrival order. Text
// is accumulated, tool calls are extracted and usage is merged into acc.
func consumeStream(ctx context.Context, stream engine.ChunkStream, out chan<- engine.Chunk, acc *usage.Accumulator) (consumeResult, error) {
	var res consumeResult
	var text strings.Builder

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, errors.Wrap(err, "model stream failed")
		}

		if out != nil {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}

		if chunk.HasToolCalls() {
			res.sawToolCall = true
			for _, tc := range chunk.Delta.ToolCalls {
				args, err := parseArguments(tc.Arguments)
				if err != nil {
					return res, &MalformedToolCallError{CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments, Err: err}
				}
				res.calls = append(res.calls, tools.ToolCallRequest{ID: tc.ID, Name: tc.Name, Arguments: args})
				res.raw = append(res.raw, conversation.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
			}
		}

		text.WriteString(chunk.Text())

		if chunk.Delta.Usage != nil {
			acc.Add(*chunk.Delta.Usage)
		}
	}

	res.text = text.String()
	log.Debug().
		Int("tool_calls", len(res.calls)).
		Int("text_len", len(res.text)).
		Msg("agentloop: stream consumed")
	return res, nil
}

// parseArguments decodes the JSON argument string of a tool call. An empty string is
// read as an empty object.
func parseArguments(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, err
	}
	if args == nil {
		return nil, errors.New("arguments must be a JSON object")
	}
	return args, nil
}
