package agentloop

import (
	"github.com/go-go-golems/fcrunner/pkg/events"
	"github.com/go-go-golems/fcrunner/pkg/inference/files"
	"github.com/rs/zerolog"
)

const (
	EventTypeAgentThought events.EventType = "agent-thought"
	EventTypeMessageFile  events.EventType = "message-file"
	EventTypeMessageEnd   events.EventType = "message-end"
)

type EventAgentThought struct {
	events.EventImpl
	Thought AgentThought `json:"thought"`
}

func NewAgentThoughtEvent(metadata events.EventMetadata, thought AgentThought) *EventAgentThought {
	return &EventAgentThought{
		EventImpl: events.EventImpl{Type_: EventTypeAgentThought, Metadata_: metadata},
		Thought:   thought,
	}
}

func (e *EventAgentThought) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("tool", e.Thought.ToolName).Int("position", e.Thought.Position)
	if e.Thought.Observation != nil {
		ev.Int("observation_len", len(*e.Thought.Observation))
	}
	if e.Thought.Answer != nil {
		ev.Int("answer_len", len(*e.Thought.Answer))
	}
}

var _ events.Event = &EventAgentThought{}

type EventMessageFile struct {
	events.EventImpl
	File files.Handle `json:"file"`
}

func NewMessageFileEvent(metadata events.EventMetadata, file files.Handle) *EventMessageFile {
	return &EventMessageFile{
		EventImpl: events.EventImpl{Type_: EventTypeMessageFile, Metadata_: metadata},
		File:      file,
	}
}

var _ events.Event = &EventMessageFile{}

type EventMessageEnd struct {
	events.EventImpl
	Result RunResult `json:"result"`
}

func NewMessageEndEvent(metadata events.EventMetadata, result RunResult) *EventMessageEnd {
	return &EventMessageEnd{
		EventImpl: events.EventImpl{Type_: EventTypeMessageEnd, Metadata_: metadata},
		Result:    result,
	}
}

var _ events.Event = &EventMessageEnd{}

func init() {
	for typ, factory := range map[events.EventType]func() events.Event{
		EventTypeAgentThought: func() events.Event { return &EventAgentThought{} },
		EventTypeMessageFile:  func() events.Event { return &EventMessageFile{} },
		EventTypeMessageEnd:   func() events.Event { return &EventMessageEnd{} },
	} {
		if err := events.RegisterEventFactory(string(typ), factory); err != nil {
			panic(err)
		}
	}
}
