package tools

import (
	"context"

	"github.com/go-go-golems/fcrunner/pkg/inference/engine"
	"github.com/invopop/jsonschema"
)

// Definition describes a tool to the model.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

func (d Definition) Schema() engine.ToolSchema {
	return engine.ToolSchema{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters,
	}
}

// Tool is an invocable capability. Invoke receives the identity of the caller on whose
// behalf the run executes and the decoded call arguments.
//
// Errors returned by Invoke are classified with errors.As against *Error; any other
// error is reported to the model as an unknown error.
type Tool interface {
	Definition() Definition
	Invoke(ctx context.Context, user string, args map[string]any) ([]InvokeMessage, error)
}

// ToolCallRequest is a tool call extracted from the model output.
type ToolCallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type userKey struct{}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the caller identity set by WithUser.
func UserFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	u, ok := ctx.Value(userKey{}).(string)
	return u, ok
}
