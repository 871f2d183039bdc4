package agentloop

import (
	"context"
	"sync"
	"testing"

	"github.com/go-go-golems/fcrunner/pkg/conversation"
	"github.com/go-go-golems/fcrunner/pkg/inference/engine"
	"github.com/go-go-golems/fcrunner/pkg/inference/files"
	"github.com/go-go-golems/fcrunner/pkg/inference/tools"
	"github.com/go-go-golems/fcrunner/pkg/inference/usage"
	"github.com/go-go-golems/fcrunner/pkg/inference/variables"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel replays one chunk list per invocation and records the requests.
type scriptedModel struct {
	mu         sync.Mutex
	iterations [][]engine.Chunk
	repeatLast bool
	invokeErr  error
	requests   []engine.Request
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Invoke(ctx context.Context, req engine.Request) (engine.ChunkStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.invokeErr != nil {
		return nil, m.invokeErr
	}
	req.Prompt = req.Prompt.Clone()
	m.requests = append(m.requests, req)
	i := len(m.requests) - 1
	if i >= len(m.iterations) {
		if !m.repeatLast || len(m.iterations) == 0 {
			return engine.NewSliceStream(ctx), nil
		}
		i = len(m.iterations) - 1
	}
	return engine.NewSliceStream(ctx, m.iterations[i]...), nil
}

func (m *scriptedModel) invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type capturingPublisher struct {
	mu         sync.Mutex
	thoughts   []AgentThought
	files      []files.Handle
	ends       []RunResult
	errs       []error
	interrupts []string
	order      []string
	endErr     error
}

func (p *capturingPublisher) PublishThought(_ context.Context, thought AgentThought) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.thoughts = append(p.thoughts, thought)
	p.order = append(p.order, "thought")
	return nil
}

func (p *capturingPublisher) PublishFile(_ context.Context, file files.Handle, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = append(p.files, file)
	p.order = append(p.order, "file")
	return nil
}

func (p *capturingPublisher) PublishEnd(_ context.Context, result RunResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ends = append(p.ends, result)
	p.order = append(p.order, "end")
	return p.endErr
}

func (p *capturingPublisher) PublishError(_ context.Context, _ string, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
	p.order = append(p.order, "error")
	return nil
}

func (p *capturingPublisher) PublishInterrupt(_ context.Context, _ string, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupts = append(p.interrupts, reason)
	p.order = append(p.order, "interrupt")
	return nil
}

func textChunk(s string) engine.Chunk {
	return engine.Chunk{Model: "scripted", Delta: engine.Delta{Content: s}}
}

func callChunk(id, name, args string) engine.Chunk {
	return engine.Chunk{
		Model: "scripted",
		Delta: engine.Delta{ToolCalls: []engine.ToolCallDelta{{ID: id, Name: name, Arguments: args}}},
	}
}

type weatherInput struct {
	City string `json:"city" jsonschema:"required"`
}

func weatherRegistry(t *testing.T) *tools.InMemoryRegistry {
	reg, err := tools.NewInMemoryRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.RegisterFunc("get_weather", "Current weather for a city", func(in weatherInput) (string, error) {
		if in.City != "Paris" {
			return "", errors.Errorf("unknown city %s", in.City)
		}
		return "18°C, sunny", nil
	}))
	return reg
}

func runLoop(t *testing.T, l *Loop, query string) (*RunResult, []engine.Chunk, error) {
	t.Helper()
	out := make(chan engine.Chunk)
	var got []engine.Chunk
	done := make(chan struct{})
	go func() {
		defer close(done)
		for c := range out {
			got = append(got, c)
		}
	}()
	res, err := l.Run(context.Background(), RunInput{RunID: "run-1", Query: query}, out)
	close(out)
	<-done
	return res, got, err
}

func TestRunAnswersAfterToolCall(t *testing.T) {
	model := &scriptedModel{iterations: [][]engine.Chunk{
		{callChunk("c1", "get_weather", `{"city":"Paris"}`)},
		{textChunk("It is 18°C and sunny in Paris.")},
	}}
	pub := &capturingPublisher{}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(pub), WithPromptTemplate("You are helpful."))

	res, _, err := runLoop(t, l, "What's the weather in Paris?")
	require.NoError(t, err)

	assert.Equal(t, "It is 18°C and sunny in Paris.", res.Answer)
	assert.Equal(t, 2, res.Iterations)
	assert.False(t, res.Truncated)
	require.Len(t, res.Thoughts, 1)

	th := res.Thoughts[0]
	assert.Equal(t, "get_weather", th.ToolName)
	assert.Equal(t, `{"city":"Paris"}`, th.ToolInput)
	assert.Equal(t, 1, th.Position)
	require.NotNil(t, th.Observation)
	assert.Equal(t, "18°C, sunny", *th.Observation)
	require.NotNil(t, th.Answer)
	assert.Equal(t, "It is 18°C and sunny in Paris.", *th.Answer)

	// the second invocation sees the assistant call and the tool result
	require.Equal(t, 2, model.invocations())
	prompt := model.requests[1].Prompt
	require.Len(t, prompt, 4)
	assert.Equal(t, conversation.RoleSystem, prompt[0].Role)
	assert.Equal(t, conversation.RoleAssistant, prompt[2].Role)
	require.Len(t, prompt[2].ToolCalls, 1)
	assert.Equal(t, conversation.RoleTool, prompt[3].Role)
	assert.Equal(t, "c1", prompt[3].ToolCallID)
	assert.Equal(t, "18°C, sunny", prompt[3].Text())
	require.Len(t, model.requests[0].Tools, 1)
	assert.True(t, model.requests[0].Stream)

	// created, observed, answered, then the terminal result
	assert.Equal(t, []string{"thought", "thought", "thought", "end"}, pub.order)
	assert.Nil(t, pub.thoughts[0].Observation)
	assert.NotNil(t, pub.thoughts[1].Observation)
	assert.Nil(t, pub.thoughts[1].Answer)
	assert.NotNil(t, pub.thoughts[2].Answer)
	require.Len(t, pub.ends, 1)
	assert.Equal(t, "run-1", pub.ends[0].RunID)
}

func TestRunStopsAtIterationCap(t *testing.T) {
	model := &scriptedModel{
		iterations: [][]engine.Chunk{{callChunk("c", "get_weather", `{"city":"Paris"}`)}},
		repeatLast: true,
	}
	pub := &capturingPublisher{}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(pub))

	res, _, err := runLoop(t, l, "loop forever")
	require.NoError(t, err)

	assert.Equal(t, MaxIterations, model.invocations())
	assert.Equal(t, MaxIterations, res.Iterations)
	assert.True(t, res.Truncated)
	assert.Equal(t, "", res.Answer)
	require.Len(t, res.Thoughts, MaxIterations)
	for i, th := range res.Thoughts {
		assert.Equal(t, i+1, th.Position)
		assert.Equal(t, i+1, th.Iteration)
	}
	// the thought of the last iteration is never answered
	assert.Nil(t, res.Thoughts[MaxIterations-1].Answer)
	require.Len(t, pub.ends, 1)
}

func TestRunConcatenatesFragments(t *testing.T) {
	model := &scriptedModel{iterations: [][]engine.Chunk{{textChunk("Hello, "), textChunk("world")}}}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(&capturingPublisher{}))

	res, chunks, err := runLoop(t, l, "hi")
	require.NoError(t, err)

	assert.Equal(t, "Hello, world", res.Answer)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, res.Thoughts)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hello, ", chunks[0].Delta.Content)
	assert.Equal(t, "world", chunks[1].Delta.Content)
}

func TestRunReportsUnknownToolToModel(t *testing.T) {
	model := &scriptedModel{iterations: [][]engine.Chunk{
		{callChunk("c1", "nonexistent_tool", `{}`)},
		{textChunk("Sorry, I cannot do that.")},
	}}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(&capturingPublisher{}))

	res, _, err := runLoop(t, l, "do something")
	require.NoError(t, err)

	require.Len(t, res.Thoughts, 1)
	require.NotNil(t, res.Thoughts[0].Observation)
	assert.Equal(t, "there is not a tool named nonexistent_tool", *res.Thoughts[0].Observation)
	assert.Equal(t, "Sorry, I cannot do that.", res.Answer)
}

func TestRunContinuesAfterUnknownTool(t *testing.T) {
	model := &scriptedModel{iterations: [][]engine.Chunk{
		{
			callChunk("c1", "nonexistent_tool", `{}`),
			callChunk("c2", "get_weather", `{"city":"Paris"}`),
		},
		{textChunk("Paris is sunny.")},
	}}
	pub := &capturingPublisher{}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(pub))

	res, _, err := runLoop(t, l, "weather")
	require.NoError(t, err)

	require.Len(t, res.Thoughts, 2)
	assert.Equal(t, "there is not a tool named nonexistent_tool", *res.Thoughts[0].Observation)
	assert.Equal(t, "18°C, sunny", *res.Thoughts[1].Observation)
	assert.Equal(t, "Paris is sunny.", res.Answer)
	assert.False(t, res.Truncated)
	assert.Equal(t, 2, res.Iterations)

	require.Equal(t, 2, model.invocations())
	prompt := model.requests[1].Prompt
	require.Len(t, prompt, 4)
	assert.Equal(t, conversation.RoleAssistant, prompt[1].Role)
	assert.Equal(t, conversation.RoleTool, prompt[2].Role)
	assert.Equal(t, "c1", prompt[2].ToolCallID)
	assert.Equal(t, "there is not a tool named nonexistent_tool", prompt[2].Text())
	assert.Equal(t, conversation.RoleTool, prompt[3].Role)
	assert.Equal(t, "c2", prompt[3].ToolCallID)
	assert.Equal(t, "18°C, sunny", prompt[3].Text())

	require.Len(t, pub.ends, 1)
	assert.Empty(t, pub.errs)
}

func TestRunContinuesHistory(t *testing.T) {
	history := conversation.Conversation{
		conversation.NewUserMessage("Hi, I am planning a trip."),
		conversation.NewAssistantMessage("Where are you going?"),
	}
	model := &scriptedModel{iterations: [][]engine.Chunk{{textChunk("Enjoy Paris!")}}}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(&capturingPublisher{}))

	res, err := l.Run(context.Background(), RunInput{Query: "To Paris.", History: history}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Enjoy Paris!", res.Answer)

	prompt := model.requests[0].Prompt
	require.Len(t, prompt, 3)
	assert.Equal(t, "Hi, I am planning a trip.", prompt[0].Content)
	assert.Equal(t, conversation.RoleAssistant, prompt[1].Role)
	assert.Equal(t, "Where are you going?", prompt[1].Content)
	assert.Equal(t, conversation.RoleUser, prompt[2].Role)
	assert.Equal(t, "To Paris.", prompt[2].Content)

	// the caller's history is left untouched
	assert.Len(t, history, 2)
}

func TestRunRejectsInvalidHistory(t *testing.T) {
	history := conversation.Conversation{conversation.NewToolMessage("nope", "get_weather", "18°C")}
	model := &scriptedModel{iterations: [][]engine.Chunk{{textChunk("unused")}}}
	pub := &capturingPublisher{}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(pub))

	_, err := l.Run(context.Background(), RunInput{Query: "q", History: history}, nil)
	require.Error(t, err)
	assert.Equal(t, 0, model.invocations())
	assert.Equal(t, []string{"error"}, pub.order)
}

func TestRunReportsToolErrorToModel(t *testing.T) {
	model := &scriptedModel{iterations: [][]engine.Chunk{
		{callChunk("c1", "get_weather", `{"city":"Atlantis"}`)},
		{textChunk("I could not find that city.")},
	}}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(&capturingPublisher{}))

	res, _, err := runLoop(t, l, "weather in Atlantis")
	require.NoError(t, err)
	require.Len(t, res.Thoughts, 1)
	assert.Equal(t, "unknown error: unknown city Atlantis", *res.Thoughts[0].Observation)
}

func TestRunFailsOnMalformedArguments(t *testing.T) {
	model := &scriptedModel{iterations: [][]engine.Chunk{{callChunk("c1", "get_weather", `{"city":`)}}}
	pub := &capturingPublisher{}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(pub))

	res, _, err := runLoop(t, l, "weather")
	require.Error(t, err)
	assert.Nil(t, res)

	var malformed *MalformedToolCallError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "c1", malformed.CallID)
	assert.Empty(t, pub.ends)
	require.Len(t, pub.errs, 1)
	assert.ErrorAs(t, pub.errs[0], &malformed)
}

func TestRunFailsOnModelError(t *testing.T) {
	model := &scriptedModel{invokeErr: errors.New("provider down")}
	pub := &capturingPublisher{}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(pub))

	_, _, err := runLoop(t, l, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
	assert.Empty(t, pub.ends)
	assert.Equal(t, []string{"error"}, pub.order)
	assert.Contains(t, pub.errs[0].Error(), "provider down")
}

func TestRunFailsOnStreamError(t *testing.T) {
	model := &failingStreamModel{chunks: []engine.Chunk{textChunk("partial")}, err: errors.New("connection reset")}
	pub := &capturingPublisher{}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(pub))

	_, chunks, err := runLoop(t, l, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Len(t, chunks, 1)
	assert.Empty(t, pub.ends)
	require.Len(t, pub.errs, 1)
	assert.Contains(t, pub.errs[0].Error(), "connection reset")
}

type failingStreamModel struct {
	chunks []engine.Chunk
	err    error
}

func (m *failingStreamModel) Name() string { return "failing" }

func (m *failingStreamModel) Invoke(ctx context.Context, _ engine.Request) (engine.ChunkStream, error) {
	s := engine.NewSliceStream(ctx, m.chunks...)
	s.Err = m.err
	return s, nil
}

func TestRunCancelledPublishesInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := tools.NewInMemoryRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.RegisterFunc("stop", "Cancels the run", func(context.Context) (string, error) {
		cancel()
		return "stopped", nil
	}))

	model := &scriptedModel{iterations: [][]engine.Chunk{
		{callChunk("c1", "stop", `{}`)},
		{textChunk("never seen")},
	}}
	pub := &capturingPublisher{}
	l := New(WithModel(model), WithRegistry(reg), WithPublisher(pub))

	res, err := l.Run(ctx, RunInput{Query: "stop"}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.Empty(t, pub.ends)
	assert.Empty(t, pub.errs)
	assert.Equal(t, []string{context.Canceled.Error()}, pub.interrupts)
	assert.Equal(t, "interrupt", pub.order[len(pub.order)-1])
	assert.Equal(t, 1, model.invocations())
}

func TestRunAnswersEveryThoughtOfIteration(t *testing.T) {
	model := &scriptedModel{iterations: [][]engine.Chunk{
		{
			callChunk("c1", "get_weather", `{"city":"Paris"}`),
			callChunk("c2", "get_weather", `{"city":"Paris"}`),
		},
		{textChunk("Twice sunny.")},
	}}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(&capturingPublisher{}))

	res, _, err := runLoop(t, l, "weather twice")
	require.NoError(t, err)

	require.Len(t, res.Thoughts, 2)
	assert.Equal(t, 1, res.Thoughts[0].Position)
	assert.Equal(t, 2, res.Thoughts[1].Position)
	for _, th := range res.Thoughts {
		require.NotNil(t, th.Answer)
		assert.Equal(t, "Twice sunny.", *th.Answer)
	}

	// both results precede the next invocation, in call order
	prompt := model.requests[1].Prompt
	require.Len(t, prompt, 4)
	assert.Equal(t, "c1", prompt[2].ToolCallID)
	assert.Equal(t, "c2", prompt[3].ToolCallID)
}

func TestRunMergesUsage(t *testing.T) {
	model := &scriptedModel{iterations: [][]engine.Chunk{
		{
			callChunk("c1", "get_weather", `{"city":"Paris"}`),
			{Delta: engine.Delta{Usage: &usage.Totals{PromptTokens: 10, CompletionTokens: 2, PromptPrice: 0.01, Currency: "USD"}}},
		},
		{
			textChunk("Sunny."),
			{Delta: engine.Delta{Usage: &usage.Totals{PromptTokens: 20, CompletionTokens: 3, CompletionPrice: 0.02}}},
		},
	}}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(&capturingPublisher{}))

	res, _, err := runLoop(t, l, "weather")
	require.NoError(t, err)
	assert.Equal(t, 30, res.Usage.PromptTokens)
	assert.Equal(t, 5, res.Usage.CompletionTokens)
	assert.InDelta(t, 0.03, res.Usage.TotalPrice(), 1e-9)
	assert.Equal(t, "USD", res.Usage.Currency)
}

func TestRunPublishesArtifactsAndBindsVariables(t *testing.T) {
	reg, err := tools.NewInMemoryRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.RegisterFunc("render_chart", "Renders a chart", func(context.Context) ([]tools.InvokeMessage, error) {
		return []tools.InvokeMessage{
			tools.TextMessage("chart rendered"),
			tools.BlobMessage([]byte("%PDF-1.4"), "application/pdf", "chart"),
		}, nil
	}))

	store := files.NewMemoryStore()
	varStore := variables.NewMemoryStore()
	pool := variables.NewPool("conv-1", varStore)
	dispatcher := tools.NewDispatcher(reg, tools.WithFileStore(store), tools.WithVariableBinder(pool))

	model := &scriptedModel{iterations: [][]engine.Chunk{
		{callChunk("c1", "render_chart", ``)},
		{textChunk("Here is your chart.")},
	}}
	pub := &capturingPublisher{}
	l := New(WithModel(model), WithRegistry(reg), WithDispatcher(dispatcher), WithPublisher(pub), WithVariablePool(pool))

	res, _, err := runLoop(t, l, "chart please")
	require.NoError(t, err)

	require.Len(t, pub.files, 1)
	assert.Equal(t, 1, store.Len())
	require.Len(t, res.Thoughts, 1)
	assert.Equal(t, []string{pub.files[0].ID}, res.Thoughts[0].Files)
	assert.Contains(t, *res.Thoughts[0].Observation, "chart rendered")
	assert.Contains(t, *res.Thoughts[0].Observation, "result link: "+pub.files[0].URL)

	v, ok := pool.Get("render_chart", "chart")
	require.True(t, ok)
	assert.Equal(t, pub.files[0].ID, v.Value)

	// the pool was flushed before the run ended
	persisted, err := varStore.Load(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "chart", persisted[0].Name)
}

func TestRunReturnsEndPublishError(t *testing.T) {
	model := &scriptedModel{iterations: [][]engine.Chunk{{textChunk("hi")}}}
	pub := &capturingPublisher{endErr: errors.New("broker down")}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(pub))

	_, _, err := runLoop(t, l, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, []string{"end", "error"}, pub.order)
}

func TestRunClampsParametersWithSizer(t *testing.T) {
	sizer, err := engine.NewTokenSizer("gpt-4", 64)
	require.NoError(t, err)
	model := &scriptedModel{iterations: [][]engine.Chunk{{textChunk("ok")}}}
	l := New(
		WithModel(model),
		WithRegistry(weatherRegistry(t)),
		WithPublisher(&capturingPublisher{}),
		WithSizer(sizer),
		WithParameters(map[string]any{engine.MaxTokensParameter: 4096, "temperature": 0.2}),
	)

	_, _, err = runLoop(t, l, "hi")
	require.NoError(t, err)
	params := model.requests[0].Parameters
	assert.Less(t, params[engine.MaxTokensParameter].(int), 4096)
	assert.Equal(t, 0.2, params["temperature"])
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(WithRegistry(weatherRegistry(t))).Run(context.Background(), RunInput{Query: "hi"}, nil)
	require.Error(t, err)
}

func TestStreamDeliversChunksThenResult(t *testing.T) {
	model := &scriptedModel{iterations: [][]engine.Chunk{
		{callChunk("c1", "get_weather", `{"city":"Paris"}`)},
		{textChunk("Sunny "), textChunk("in Paris.")},
	}}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(&capturingPublisher{}))

	s := l.Stream(context.Background(), RunInput{Query: "weather"})
	var chunks []engine.Chunk
	for r := range s.C {
		c, err := r.Value()
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
	res, err := s.Wait()
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.True(t, chunks[0].HasToolCalls())
	assert.Equal(t, "Sunny in Paris.", res.Answer)
}

func TestStreamDeliversErrorLast(t *testing.T) {
	model := &scriptedModel{iterations: [][]engine.Chunk{{callChunk("c1", "get_weather", `[1,2]`)}}}
	l := New(WithModel(model), WithRegistry(weatherRegistry(t)), WithPublisher(&capturingPublisher{}))

	s := l.Stream(context.Background(), RunInput{Query: "weather"})
	var results []error
	for r := range s.C {
		results = append(results, r.Error())
	}
	_, err := s.Wait()
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0])
	assert.Error(t, results[1])
}
