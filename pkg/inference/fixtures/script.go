package fixtures

import (
	"context"
	"os"
	"sync"

	"github.com/go-go-golems/fcrunner/pkg/conversation"
	"github.com/go-go-golems/fcrunner/pkg/inference/engine"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Script is a recorded model conversation: one chunk list per model invocation.
//
//	version: 1
//	model: scripted-gpt
//	query: What's the weather in Paris?
//	iterations:
//	  - chunks:
//	      - delta: {tool_calls: [{id: c1, name: get_weather, arguments: '{"city":"Paris"}'}]}
//	  - chunks:
//	      - delta: {content: "It is sunny."}
type Script struct {
	Version    int         `yaml:"version,omitempty"`
	Model      string      `yaml:"model,omitempty"`
	Template   string      `yaml:"template,omitempty"`
	Query      string      `yaml:"query,omitempty"`
	Iterations []Iteration `yaml:"iterations"`

	// History is the conversation the query continues.
	History conversation.Conversation `yaml:"history,omitempty"`
}

type Iteration struct {
	Chunks []engine.Chunk `yaml:"chunks"`
	// Error, when set, is returned by the stream after the chunks.
	Error string `yaml:"error,omitempty"`
}

func ParseScript(b []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "could not parse script")
	}
	if len(s.Iterations) == 0 {
		return nil, errors.New("script has no iterations")
	}
	if s.Model == "" {
		s.Model = "scripted"
	}
	return &s, nil
}

func LoadScript(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseScript(b)
	if err != nil {
		return nil, errors.Wrapf(err, "could not load %s", path)
	}
	return s, nil
}

// ScriptedModel replays a Script, one iteration per Invoke. Invoking it more often
// than the script has iterations is an error.
type ScriptedModel struct {
	mu       sync.Mutex
	script   *Script
	next     int
	requests []engine.Request
}

var _ engine.Model = (*ScriptedModel)(nil)

func NewScriptedModel(script *Script) *ScriptedModel {
	return &ScriptedModel{script: script}
}

func (m *ScriptedModel) Name() string {
	return m.script.Model
}

func (m *ScriptedModel) Invoke(ctx context.Context, req engine.Request) (engine.ChunkStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.next >= len(m.script.Iterations) {
		return nil, errors.Errorf("script exhausted after %d invocations", m.next)
	}
	it := m.script.Iterations[m.next]
	m.next++
	req.Prompt = req.Prompt.Clone()
	m.requests = append(m.requests, req)

	log.Debug().Int("invocation", m.next).Int("chunks", len(it.Chunks)).Msg("fixtures: replaying iteration")

	chunks := make([]engine.Chunk, len(it.Chunks))
	for i, c := range it.Chunks {
		if c.Model == "" {
			c.Model = m.script.Model
		}
		c.Index = i
		chunks[i] = c
	}
	s := engine.NewSliceStream(ctx, chunks...)
	if it.Error != "" {
		s.Err = errors.New(it.Error)
	}
	return s, nil
}

// Requests returns the requests received so far.
func (m *ScriptedModel) Requests() []engine.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.Request(nil), m.requests...)
}
