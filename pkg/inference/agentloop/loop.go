package agentloop

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-go-golems/fcrunner/pkg/conversation"
	"github.com/go-go-golems/fcrunner/pkg/helpers"
	"github.com/go-go-golems/fcrunner/pkg/inference/engine"
	"github.com/go-go-golems/fcrunner/pkg/inference/tools"
	"github.com/go-go-golems/fcrunner/pkg/inference/usage"
	"github.com/go-go-golems/fcrunner/pkg/inference/variables"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Loop drives a function calling conversation: it invokes the model, dispatches the
// tool calls the model requests and feeds their observations back, until the model
// answers without calling a tool or MaxIterations is reached.
type Loop struct {
	model      engine.Model
	registry   tools.Registry
	dispatcher *tools.Dispatcher
	publisher  Publisher
	sizer      engine.Sizer
	pool       *variables.Pool

	template   string
	parameters map[string]any
	stop       []string
	user       string

	now func() time.Time
}

type Option func(*Loop)

func New(opts ...Option) *Loop {
	l := &Loop{
		sizer:     engine.NoopSizer{},
		publisher: NewSinkPublisher(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func WithModel(m engine.Model) Option {
	return func(l *Loop) { l.model = m }
}

// WithRegistry sets the tools offered to the model. Unless WithDispatcher is given,
// calls are dispatched by a default dispatcher over this registry.
func WithRegistry(reg tools.Registry) Option {
	return func(l *Loop) { l.registry = reg }
}

func WithDispatcher(d *tools.Dispatcher) Option {
	return func(l *Loop) { l.dispatcher = d }
}

func WithPublisher(p Publisher) Option {
	return func(l *Loop) { l.publisher = p }
}

func WithSizer(s engine.Sizer) Option {
	return func(l *Loop) { l.sizer = s }
}

// WithVariablePool sets the pool flushed when the run terminates.
func WithVariablePool(p *variables.Pool) Option {
	return func(l *Loop) { l.pool = p }
}

func WithParameters(params map[string]any) Option {
	return func(l *Loop) { l.parameters = params }
}

func WithStop(stop ...string) Option {
	return func(l *Loop) { l.stop = stop }
}

func WithUser(user string) Option {
	return func(l *Loop) { l.user = user }
}

func WithPromptTemplate(template string) Option {
	return func(l *Loop) { l.template = template }
}

func (l *Loop) validate() error {
	if l == nil {
		return errors.New("agent loop is nil")
	}
	if l.model == nil {
		return errors.New("agent loop model is nil")
	}
	if l.registry == nil && l.dispatcher == nil {
		return errors.New("agent loop has neither registry nor dispatcher")
	}
	if l.publisher == nil {
		return errors.New("agent loop publisher is nil")
	}
	if l.sizer == nil {
		return errors.New("agent loop sizer is nil")
	}
	return nil
}

// Run executes one run, forwarding every model chunk to out (which may be nil). The
// caller must keep receiving from out until Run returns.
//
// Run returns ctx.Err() when the context is cancelled; a cancelled run publishes an
// interrupt instead of a result. The only other errors are model failures, malformed
// tool call arguments and failures to persist variables or publish the terminal
// result, each announced with an error event. Tool failures are fed back to the model.
func (l *Loop) Run(ctx context.Context, in RunInput, out chan<- engine.Chunk) (*RunResult, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := log.With().Str("run_id", runID).Str("model", l.model.Name()).Logger()

	result, err := l.run(ctx, runID, logger, in, out)
	if err == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Info().Err(ctxErr).Msg("agentloop: run interrupted")
		if perr := l.publisher.PublishInterrupt(ctx, runID, ctxErr.Error()); perr != nil {
			logger.Warn().Err(perr).Msg("agentloop: could not publish interrupt")
		}
		return nil, ctxErr
	}

	logger.Error().Err(err).Msg("agentloop: run failed")
	if perr := l.publisher.PublishError(ctx, runID, err); perr != nil {
		logger.Warn().Err(perr).Msg("agentloop: could not publish error")
	}
	return nil, err
}

func (l *Loop) run(ctx context.Context, runID string, logger zerolog.Logger, in RunInput, out chan<- engine.Chunk) (*RunResult, error) {
	dispatcher := l.dispatcher
	if dispatcher == nil {
		var opts []tools.DispatcherOption
		if l.pool != nil {
			opts = append(opts, tools.WithVariableBinder(l.pool))
		}
		dispatcher = tools.NewDispatcher(l.registry, opts...)
	}
	registry := l.registry
	if registry == nil {
		registry = dispatcher.Registry()
	}
	schemas := tools.Schemas(registry)

	prompt, err := conversation.Organize(l.template, in.Query, in.History.Clone(), nil)
	if err != nil {
		return nil, err
	}
	if len(in.History) > 0 {
		if err := prompt.Validate(); err != nil {
			return nil, errors.Wrap(err, "invalid history")
		}
	}

	var (
		acc          usage.Accumulator
		pending      []*AgentThought
		thoughts     []*AgentThought
		answers      []string
		position     int
		iteration    = 1
		continueLoop = true
	)

	for continueLoop && iteration <= MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Debug().Int("iteration", iteration).Int("prompt_messages", len(prompt)).Msg("agentloop: invoking model")

		params, err := l.sizer.Recalculate(ctx, l.parameters, prompt)
		if err != nil {
			return nil, errors.Wrap(err, "could not size prompt")
		}

		stream, err := l.model.Invoke(ctx, engine.Request{
			Prompt:     prompt,
			Parameters: params,
			Tools:      schemas,
			Stop:       l.stop,
			Stream:     true,
			User:       l.user,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrapf(err, "model invocation failed in iteration %d", iteration)
		}

		continueLoop = false
		res, err := consumeStream(ctx, stream, out, &acc)
		if cerr := stream.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("agentloop: could not close model stream")
		}
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		continueLoop = res.sawToolCall

		// the thoughts of the previous iteration get this iteration's text
		for _, t := range pending {
			t.Answer = helpers.ToPtr(res.text)
			l.publishThought(ctx, logger, t)
		}
		pending = nil

		if res.text != "" {
			answers = append(answers, res.text)
		}

		if len(res.calls) > 0 {
			prompt = conversation.AppendAssistant(prompt, res.text, res.raw)
		}

		for _, call := range res.calls {
			position++
			thought := &AgentThought{
				ID:        uuid.NewString(),
				RunID:     runID,
				Position:  position,
				Iteration: iteration,
				ToolName:  call.Name,
				ToolInput: encodeArguments(call.Arguments),
				CreatedAt: l.now(),
			}
			pending = append(pending, thought)
			thoughts = append(thoughts, thought)
			l.publishThought(ctx, logger, thought)

			outcome := dispatcher.Invoke(ctx, call, l.user)
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			observation := outcome.Text()
			thought.Observation = helpers.ToPtr(observation)
			if s, ok := outcome.(tools.Success); ok {
				for _, a := range s.Artifacts {
					thought.Files = append(thought.Files, a.Handle.ID)
					if err := l.publisher.PublishFile(ctx, a.Handle, runID); err != nil {
						logger.Warn().Err(err).Str("file", a.Handle.ID).Msg("agentloop: could not publish file")
					}
				}
			}
			l.publishThought(ctx, logger, thought)

			prompt, err = conversation.Organize(l.template, "", prompt, &conversation.ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: observation,
			})
			if err != nil {
				return nil, err
			}
		}

		iteration++
	}

	if continueLoop {
		logger.Warn().Int("max_iterations", MaxIterations).Msg("agentloop: iteration cap reached")
	}

	if l.pool != nil {
		if err := l.pool.Flush(ctx); err != nil {
			return nil, errors.Wrap(err, "could not persist variables")
		}
	}

	total, _ := acc.Total()
	result := &RunResult{
		RunID:          runID,
		ConversationID: in.ConversationID,
		Model:          l.model.Name(),
		Prompt:         prompt,
		Answer:         strings.Join(answers, "\n"),
		Usage:          total,
		Iterations:     iteration - 1,
		Truncated:      continueLoop,
		Thoughts:       make([]AgentThought, 0, len(thoughts)),
	}
	for _, t := range thoughts {
		result.Thoughts = append(result.Thoughts, *t)
	}

	if err := l.publisher.PublishEnd(ctx, *result); err != nil {
		return nil, errors.Wrap(err, "could not publish run result")
	}
	logger.Debug().
		Int("iterations", result.Iterations).
		Bool("truncated", result.Truncated).
		Object("usage", result.Usage).
		Msg("agentloop: run finished")

	return result, nil
}

func (l *Loop) publishThought(ctx context.Context, logger zerolog.Logger, t *AgentThought) {
	if err := l.publisher.PublishThought(ctx, *t); err != nil {
		logger.Warn().Err(err).Str("thought", t.ID).Msg("agentloop: could not publish thought")
	}
}

func encodeArguments(args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// RunStream is a run executing in the background.
type RunStream struct {
	// C yields the model chunks of the run. If the run fails, the error is delivered
	// as the last element. C is closed when the run is over.
	C <-chan helpers.Result[engine.Chunk]

	done   chan struct{}
	result *RunResult
	err    error
}

// Wait blocks until the run is over and returns its outcome.
func (s *RunStream) Wait() (*RunResult, error) {
	<-s.done
	return s.result, s.err
}

// Stream starts Run in a goroutine. The caller must drain C or cancel ctx.
func (l *Loop) Stream(ctx context.Context, in RunInput) *RunStream {
	c := make(chan helpers.Result[engine.Chunk])
	s := &RunStream{C: c, done: make(chan struct{})}
	chunks := make(chan engine.Chunk)

	go func() {
		defer close(chunks)
		s.result, s.err = l.Run(ctx, in, chunks)
	}()

	go func() {
		defer close(s.done)
		defer close(c)
		for chunk := range chunks {
			select {
			case c <- helpers.NewValueResult(chunk):
			case <-ctx.Done():
			}
		}
		if s.err != nil {
			select {
			case c <- helpers.NewErrorResult[engine.Chunk](s.err):
			case <-ctx.Done():
			}
		}
	}()

	return s
}
