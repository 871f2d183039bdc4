package engine

import (
	"context"

	"github.com/go-go-golems/fcrunner/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

const (
	MaxTokensParameter = "max_tokens"
	// MinMaxTokens is the floor applied when the prompt leaves less room than requested.
	MinMaxTokens = 16
)

// Sizer adjusts the requested output budget so that prompt and completion fit the
// model's context window.
type Sizer interface {
	Recalculate(ctx context.Context, params map[string]any, prompt conversation.Conversation) (map[string]any, error)
}

// NoopSizer leaves the parameters untouched.
type NoopSizer struct{}

func (NoopSizer) Recalculate(_ context.Context, params map[string]any, _ conversation.Conversation) (map[string]any, error) {
	return params, nil
}

// TokenSizer counts prompt tokens with a tiktoken codec.
type TokenSizer struct {
	codec         tokenizer.Codec
	contextWindow int
}

var _ Sizer = (*TokenSizer)(nil)

// NewTokenSizer picks the codec registered for model, falling back to cl100k_base for
// models tiktoken does not know about.
func NewTokenSizer(model string, contextWindow int) (*TokenSizer, error) {
	if contextWindow <= 0 {
		return nil, errors.Errorf("invalid context window %d", contextWindow)
	}
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		log.Debug().Str("model", model).Msg("sizing: unknown model, using cl100k_base")
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, errors.Wrap(err, "could not load cl100k_base codec")
		}
	}
	return &TokenSizer{codec: codec, contextWindow: contextWindow}, nil
}

func (s *TokenSizer) ContextWindow() int {
	return s.contextWindow
}

// CountTokens approximates the prompt size the way chat models account for it: every
// message costs its encoded text plus a fixed framing overhead.
func (s *TokenSizer) CountTokens(prompt conversation.Conversation) (int, error) {
	const perMessage = 3
	total := 3
	for _, m := range prompt {
		total += perMessage
		texts := []string{string(m.Role), m.Text(), m.Name}
		for _, tc := range m.ToolCalls {
			texts = append(texts, tc.Name, tc.Arguments)
		}
		for _, t := range texts {
			if t == "" {
				continue
			}
			ids, _, err := s.codec.Encode(t)
			if err != nil {
				return 0, errors.Wrap(err, "could not encode prompt")
			}
			total += len(ids)
		}
	}
	return total, nil
}

// Recalculate returns a copy of params whose max_tokens fits into the remaining
// context. Parameters without max_tokens are returned as they are.
func (s *TokenSizer) Recalculate(_ context.Context, params map[string]any, prompt conversation.Conversation) (map[string]any, error) {
	maxTokens, ok := intParameter(params, MaxTokensParameter)
	if !ok || maxTokens <= 0 {
		return params, nil
	}

	promptTokens, err := s.CountTokens(prompt)
	if err != nil {
		return nil, err
	}
	if promptTokens+maxTokens <= s.contextWindow {
		return params, nil
	}

	adjusted := s.contextWindow - promptTokens
	if adjusted < MinMaxTokens {
		adjusted = MinMaxTokens
	}
	log.Debug().
		Int("prompt_tokens", promptTokens).
		Int("requested", maxTokens).
		Int("adjusted", adjusted).
		Msg("sizing: reducing max_tokens to fit context window")

	ret := make(map[string]any, len(params))
	for k, v := range params {
		ret[k] = v
	}
	ret[MaxTokensParameter] = adjusted
	return ret, nil
}

func intParameter(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}
