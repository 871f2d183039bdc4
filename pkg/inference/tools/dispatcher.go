package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/go-go-golems/fcrunner/pkg/inference/files"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// VariableBinder binds file handles produced by tools to named variables.
type VariableBinder interface {
	SetFile(toolName string, name string, handle files.Handle) error
}

// Dispatcher resolves tool calls against a registry, invokes them and turns their
// output or failure into an Outcome. It never returns an error: every failure becomes
// a Failure whose text is fed back to the model.
type Dispatcher struct {
	registry Registry
	store    files.Store
	binder   VariableBinder
	validate bool

	mu      sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

type DispatcherOption func(*Dispatcher)

func WithFileStore(s files.Store) DispatcherOption {
	return func(d *Dispatcher) { d.store = s }
}

func WithVariableBinder(b VariableBinder) DispatcherOption {
	return func(d *Dispatcher) { d.binder = b }
}

// WithArgumentValidation toggles JSON schema validation of call arguments. It is
// enabled by default.
func WithArgumentValidation(enabled bool) DispatcherOption {
	return func(d *Dispatcher) { d.validate = enabled }
}

func NewDispatcher(registry Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		store:    files.NewMemoryStore(),
		validate: true,
		schemas:  map[string]*gojsonschema.Schema{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Dispatcher) Registry() Registry {
	return d.registry
}

func (d *Dispatcher) Invoke(ctx context.Context, call ToolCallRequest, user string) Outcome {
	var tool Tool
	if d.registry != nil {
		tool, _ = d.registry.Get(call.Name)
	}
	if tool == nil {
		log.Error().Str("tool", call.Name).Str("call_id", call.ID).Msg("tools: failed to find tool")
		return NewFailure(ErrorKindNotFound, call.Name, "")
	}

	if d.validate {
		if err := d.validateArguments(tool.Definition(), call.Arguments); err != nil {
			return d.fail(call, err)
		}
	}

	msgs, err := invokeTool(ctx, tool, user, call.Arguments)
	if err != nil {
		return d.fail(call, err)
	}

	msgs, artifacts, err := d.extractArtifacts(ctx, call.Name, msgs)
	if err != nil {
		return d.fail(call, err)
	}

	return Success{
		Observation: observation(msgs),
		Artifacts:   artifacts,
	}
}

func (d *Dispatcher) fail(call ToolCallRequest, err error) Failure {
	kind, detail := Classify(err)
	f := NewFailure(kind, call.Name, detail)
	log.Error().
		Err(err).
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Stringer("kind", kind).
		Msg("tools: " + f.Message)
	return f
}

func invokeTool(ctx context.Context, tool Tool, user string, args map[string]any) (msgs []InvokeMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Invoke(ctx, user, args)
}

// extractArtifacts stores every binary message, binds it when requested and replaces
// it by a reference to the stored file.
func (d *Dispatcher) extractArtifacts(ctx context.Context, toolName string, msgs []InvokeMessage) ([]InvokeMessage, []Artifact, error) {
	var artifacts []Artifact
	out := make([]InvokeMessage, 0, len(msgs))
	for _, m := range msgs {
		if !m.IsBinary() {
			out = append(out, m)
			continue
		}

		var handle files.Handle
		if m.Type == MessageTypeImageLink {
			mimeType := m.MimeType
			if mimeType == "" {
				mimeType = "image/*"
			}
			handle = files.Handle{ID: uuid.NewString(), URL: m.Message, MimeType: mimeType, Transfer: files.TransferRemoteURL}
		} else {
			if d.store == nil {
				return nil, nil, errors.New("no file store configured")
			}
			h, err := d.store.Save(ctx, files.Blob{Data: m.Blob, MimeType: m.MimeType, Name: stringMeta(m.Meta, "filename")})
			if err != nil {
				return nil, nil, errors.Wrap(err, "could not store tool file")
			}
			handle = h
		}

		if m.SaveAs != "" && d.binder != nil {
			if err := d.binder.SetFile(toolName, m.SaveAs, handle); err != nil {
				return nil, nil, errors.Wrapf(err, "could not bind %s", m.SaveAs)
			}
		}
		artifacts = append(artifacts, Artifact{MimeType: handle.MimeType, Data: m.Blob, SaveAs: m.SaveAs, Handle: handle})

		ref := InvokeMessage{Type: MessageTypeLink, Message: handle.URL, MimeType: handle.MimeType}
		if m.Type != MessageTypeBlob || isImageMimeType(handle.MimeType) {
			ref.Type = MessageTypeImageLink
		}
		out = append(out, ref)
	}
	return out, artifacts, nil
}

func stringMeta(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func (d *Dispatcher) validateArguments(def Definition, args map[string]any) error {
	schema, err := d.compiledSchema(def)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return NewParameterError(err.Error())
	}
	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descs = append(descs, desc.String())
		}
		return NewParameterError(strings.Join(descs, "; "))
	}
	return nil
}

func (d *Dispatcher) compiledSchema(def Definition) (*gojsonschema.Schema, error) {
	if def.Parameters == nil {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.schemas[def.Name]; ok {
		return s, nil
	}

	b, err := json.Marshal(def.Parameters)
	if err != nil {
		return nil, errors.Wrapf(err, "could not encode schema of %s", def.Name)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrapf(err, "could not decode schema of %s", def.Name)
	}
	// draft 2020-12 identifiers are not understood by the validator
	delete(raw, "$schema")
	delete(raw, "$id")

	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid schema for %s", def.Name)
	}
	d.schemas[def.Name] = s
	return s, nil
}
