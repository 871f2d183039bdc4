package events

import (
	"github.com/go-go-golems/fcrunner/pkg/inference/usage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventMetadata is passed along with every event, correlating it with its run.
type EventMetadata struct {
	ID             uuid.UUID     `json:"message_id" yaml:"message_id" mapstructure:"message_id"`
	RunID          string        `json:"run_id,omitempty" yaml:"run_id,omitempty" mapstructure:"run_id"`
	ConversationID string        `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty" mapstructure:"conversation_id"`
	Model          string        `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`
	Iteration      int           `json:"iteration,omitempty" yaml:"iteration,omitempty" mapstructure:"iteration"`
	Usage          *usage.Totals `json:"usage,omitempty" yaml:"usage,omitempty" mapstructure:"usage"`

	// Extra carries host specific values
	Extra map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty" mapstructure:"extra"`
}

func NewEventMetadata(runID string) EventMetadata {
	return EventMetadata{ID: uuid.New(), RunID: runID}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.RunID != "" {
		e.Str("run_id", em.RunID)
	}
	if em.ConversationID != "" {
		e.Str("conversation_id", em.ConversationID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.Iteration > 0 {
		e.Int("iteration", em.Iteration)
	}
	if em.Usage != nil {
		e.Object("usage", em.Usage)
	}
	if len(em.Extra) > 0 {
		e.Dict("extra", zerolog.Dict().Fields(em.Extra))
	}
}
