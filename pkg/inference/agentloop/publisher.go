package agentloop

import (
	"context"

	"github.com/go-go-golems/fcrunner/pkg/events"
	"github.com/go-go-golems/fcrunner/pkg/inference/files"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Publisher announces the progress of a run. Only the Loop publishes.
//
// A run ends with exactly one of PublishEnd, PublishError or PublishInterrupt. Only
// PublishEnd carries a result.
type Publisher interface {
	PublishThought(ctx context.Context, thought AgentThought) error
	PublishFile(ctx context.Context, file files.Handle, runID string) error
	PublishEnd(ctx context.Context, result RunResult) error
	PublishError(ctx context.Context, runID string, err error) error
	PublishInterrupt(ctx context.Context, runID string, reason string) error
}

// SinkPublisher turns run progress into events and hands them to event sinks. Without
// explicit sinks it publishes to the sinks attached to the context.
type SinkPublisher struct {
	sinks          []events.EventSink
	conversationID string
	model          string
}

var _ Publisher = (*SinkPublisher)(nil)

type PublisherOption func(*SinkPublisher)

func WithSinks(sinks ...events.EventSink) PublisherOption {
	return func(p *SinkPublisher) { p.sinks = append(p.sinks, sinks...) }
}

func WithConversationID(id string) PublisherOption {
	return func(p *SinkPublisher) { p.conversationID = id }
}

func WithModelName(name string) PublisherOption {
	return func(p *SinkPublisher) { p.model = name }
}

func NewSinkPublisher(opts ...PublisherOption) *SinkPublisher {
	p := &SinkPublisher{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *SinkPublisher) metadata(runID string) events.EventMetadata {
	return events.EventMetadata{
		ID:             uuid.New(),
		RunID:          runID,
		ConversationID: p.conversationID,
		Model:          p.model,
	}
}

func (p *SinkPublisher) publish(ctx context.Context, ev events.Event) error {
	if len(p.sinks) == 0 {
		events.PublishEventToContext(ctx, ev)
		return nil
	}
	var errs []error
	for _, s := range p.sinks {
		if err := s.PublishEvent(ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrapf(errs[0], "%d of %d sinks failed to publish %s", len(errs), len(p.sinks), ev.Type())
	}
	return nil
}

func (p *SinkPublisher) PublishThought(ctx context.Context, thought AgentThought) error {
	meta := p.metadata(thought.RunID)
	meta.Iteration = thought.Iteration
	ev := NewAgentThoughtEvent(meta, thought)
	log.Debug().Object("event", ev).Msg("agentloop: publishing thought")
	return p.publish(ctx, ev)
}

func (p *SinkPublisher) PublishFile(ctx context.Context, file files.Handle, runID string) error {
	return p.publish(ctx, NewMessageFileEvent(p.metadata(runID), file))
}

func (p *SinkPublisher) PublishEnd(ctx context.Context, result RunResult) error {
	meta := p.metadata(result.RunID)
	meta.Iteration = result.Iterations
	u := result.Usage
	meta.Usage = &u
	if meta.Model == "" {
		meta.Model = result.Model
	}
	if meta.ConversationID == "" {
		meta.ConversationID = result.ConversationID
	}
	return p.publish(ctx, NewMessageEndEvent(meta, result))
}

func (p *SinkPublisher) PublishError(ctx context.Context, runID string, err error) error {
	return p.publish(ctx, events.NewErrorEvent(p.metadata(runID), err))
}

// PublishInterrupt announces a cancelled run. The context is usually done by then, so
// it is only used to find the context sinks.
func (p *SinkPublisher) PublishInterrupt(ctx context.Context, runID string, reason string) error {
	return p.publish(ctx, events.NewInterruptEvent(p.metadata(runID), reason))
}
