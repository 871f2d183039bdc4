package fixtures

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/go-go-golems/fcrunner/pkg/inference/agentloop"
	"github.com/go-go-golems/fcrunner/pkg/inference/engine"
	"github.com/go-go-golems/fcrunner/pkg/inference/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScript(t *testing.T) {
	s, err := LoadScript("testdata/weather.yaml")
	require.NoError(t, err)

	assert.Equal(t, "scripted-gpt", s.Model)
	assert.Equal(t, "What's the weather in Paris?", s.Query)
	require.Len(t, s.Iterations, 2)
	require.Len(t, s.Iterations[0].Chunks, 2)
	call := s.Iterations[0].Chunks[0].Delta.ToolCalls[0]
	assert.Equal(t, "get_weather", call.Name)
	assert.Equal(t, `{"city":"Paris"}`, call.Arguments)
	require.NotNil(t, s.Iterations[0].Chunks[1].Delta.Usage)
	assert.Equal(t, 52, s.Iterations[0].Chunks[1].Delta.Usage.PromptTokens)
}

func TestParseScriptRejectsEmpty(t *testing.T) {
	_, err := ParseScript([]byte("model: x\n"))
	require.Error(t, err)
}

func TestScriptedModelReplaysIterations(t *testing.T) {
	s, err := ParseScript([]byte(`
iterations:
  - chunks:
      - delta: {content: "a"}
  - chunks:
      - delta: {content: "b"}
    error: stream broke
`))
	require.NoError(t, err)
	m := NewScriptedModel(s)
	assert.Equal(t, "scripted", m.Name())

	stream, err := m.Invoke(context.Background(), engine.Request{})
	require.NoError(t, err)
	c, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", c.Text())
	assert.Equal(t, "scripted", c.Model)
	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)

	stream, err = m.Invoke(context.Background(), engine.Request{})
	require.NoError(t, err)
	_, err = stream.Recv()
	require.NoError(t, err)
	_, err = stream.Recv()
	require.EqualError(t, err, "stream broke")

	_, err = m.Invoke(context.Background(), engine.Request{})
	require.Error(t, err)
	assert.Len(t, m.Requests(), 2)
}

type weatherInput struct {
	City string `json:"city"`
}

func TestFileSinkAndReport(t *testing.T) {
	s, err := LoadScript("testdata/weather.yaml")
	require.NoError(t, err)

	reg, err := tools.NewInMemoryRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.RegisterFunc("get_weather", "Current weather", func(in weatherInput) string {
		return "18°C, sunny"
	}))

	var buf bytes.Buffer
	pub := agentloop.NewSinkPublisher(agentloop.WithSinks(NewFileSink(&buf, nil)))
	l := agentloop.New(
		agentloop.WithModel(NewScriptedModel(s)),
		agentloop.WithRegistry(reg),
		agentloop.WithPublisher(pub),
		agentloop.WithPromptTemplate(s.Template),
	)
	res, err := l.Run(context.Background(), agentloop.RunInput{RunID: "run-1", Query: s.Query}, nil)
	require.NoError(t, err)
	assert.Equal(t, "It is 18°C and sunny in Paris.", res.Answer)
	assert.Equal(t, 132, res.Usage.PromptTokens)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[3], `"type":"message-end"`)

	report, err := BuildReport(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Contains(t, report, "- Run: run-1")
	assert.Contains(t, report, "- Model: scripted-gpt")
	assert.Contains(t, report, "`get_weather`")
	assert.Contains(t, report, "observation: 18°C, sunny")
	assert.Contains(t, report, "It is 18°C and sunny in Paris.")
}

func TestReportListsRunErrors(t *testing.T) {
	s, err := ParseScript([]byte(`
model: flaky
iterations:
  - chunks:
      - delta:
          content: "partial"
    error: upstream timeout
`))
	require.NoError(t, err)

	reg, err := tools.NewInMemoryRegistry()
	require.NoError(t, err)

	var buf bytes.Buffer
	l := agentloop.New(
		agentloop.WithModel(NewScriptedModel(s)),
		agentloop.WithRegistry(reg),
		agentloop.WithPublisher(agentloop.NewSinkPublisher(agentloop.WithSinks(NewFileSink(&buf, nil)))),
	)
	_, err = l.Run(context.Background(), agentloop.RunInput{RunID: "run-2", Query: "hi"}, nil)
	require.Error(t, err)

	report, err := BuildReport(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Contains(t, report, "## Errors")
	assert.Contains(t, report, "upstream timeout")
	assert.Contains(t, report, "(not found)")
}

func TestReportShowsInterruptedRun(t *testing.T) {
	var buf bytes.Buffer
	pub := agentloop.NewSinkPublisher(agentloop.WithSinks(NewFileSink(&buf, nil)))
	require.NoError(t, pub.PublishInterrupt(context.Background(), "run-5", "context canceled"))

	report, err := BuildReport(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Contains(t, report, "- Run: run-5")
	assert.Contains(t, report, "- Interrupted: context canceled")
}

func TestScriptHistoryReachesModel(t *testing.T) {
	s, err := ParseScript([]byte(`
query: And tomorrow?
history:
  - role: user
    content: What's the weather in Paris?
  - role: assistant
    content: It is sunny.
iterations:
  - chunks:
      - delta:
          content: "Rain."
`))
	require.NoError(t, err)
	require.Len(t, s.History, 2)

	reg, err := tools.NewInMemoryRegistry()
	require.NoError(t, err)
	m := NewScriptedModel(s)
	l := agentloop.New(agentloop.WithModel(m), agentloop.WithRegistry(reg))
	res, err := l.Run(context.Background(), agentloop.RunInput{Query: s.Query, History: s.History}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Rain.", res.Answer)

	prompt := m.Requests()[0].Prompt
	require.Len(t, prompt, 3)
	assert.Equal(t, "It is sunny.", prompt[1].Content)
	assert.Equal(t, "And tomorrow?", prompt[2].Content)
}
