package tools

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindCredentialInvalid
	ErrorKindNotFound
	ErrorKindNotSupported
	ErrorKindProviderNotFound
	ErrorKindParameterInvalid
	ErrorKindInvocationFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindUnknown:
		return "unknown"
	case ErrorKindCredentialInvalid:
		return "credential_invalid"
	case ErrorKindNotFound:
		return "not_found"
	case ErrorKindNotSupported:
		return "not_supported"
	case ErrorKindProviderNotFound:
		return "provider_not_found"
	case ErrorKindParameterInvalid:
		return "parameter_invalid"
	case ErrorKindInvocationFailed:
		return "invocation_failed"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the error type tools return to report a classified failure.
type Error struct {
	Kind   ErrorKind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) detail() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return ""
}

func NewCredentialError(detail string) *Error {
	return &Error{Kind: ErrorKindCredentialInvalid, Detail: detail}
}

func NewNotSupportedError(detail string) *Error {
	return &Error{Kind: ErrorKindNotSupported, Detail: detail}
}

func NewParameterError(detail string) *Error {
	return &Error{Kind: ErrorKindParameterInvalid, Detail: detail}
}

// NewInvocationError wraps an error raised while the tool was executing.
func NewInvocationError(cause error) *Error {
	return &Error{Kind: ErrorKindInvocationFailed, Cause: cause}
}

// Message renders the observation text the model receives for a failed tool call.
func Message(kind ErrorKind, toolName string, detail string) string {
	switch kind {
	case ErrorKindCredentialInvalid:
		return "Please check your tool provider credentials"
	case ErrorKindNotFound, ErrorKindNotSupported, ErrorKindProviderNotFound:
		return fmt.Sprintf("there is not a tool named %s", toolName)
	case ErrorKindParameterInvalid:
		return fmt.Sprintf("tool parameters validation error: %s, please check your tool parameters", detail)
	case ErrorKindInvocationFailed:
		return fmt.Sprintf("tool invoke error: %s", detail)
	case ErrorKindUnknown:
		return fmt.Sprintf("unknown error: %s", detail)
	}
	return fmt.Sprintf("unknown error: %s", detail)
}

// Classify maps an error returned by a tool onto the error taxonomy.
func Classify(err error) (ErrorKind, string) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, te.detail()
	}
	return ErrorKindUnknown, err.Error()
}
