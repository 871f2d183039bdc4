package tools

import "github.com/go-go-golems/fcrunner/pkg/inference/files"

// Outcome is the result of dispatching one tool call: either a Success or a Failure.
type Outcome interface {
	IsSuccess() bool
	// Text is the observation fed back to the model.
	Text() string
	isOutcome()
}

// Artifact is a binary payload produced by a tool, registered with the file store.
type Artifact struct {
	MimeType string
	Data     []byte

	// SaveAs is the variable name the artifact is bound to. Empty means unbound.
	SaveAs string
	Handle files.Handle
}

type Success struct {
	Observation string
	Artifacts   []Artifact
}

type Failure struct {
	Kind    ErrorKind
	Message string
}

func (Success) IsSuccess() bool { return true }
func (s Success) Text() string { return s.Observation }
func (Success) isOutcome() {}
func (Failure) IsSuccess() bool { return false }
func (f Failure) Text() string { return f.Message }
func (Failure) isOutcome() {}

func NewFailure(kind ErrorKind, toolName string, detail string) Failure {
	return Failure{Kind: kind, Message: Message(kind, toolName, detail)}
}
