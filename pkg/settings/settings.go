package settings

import (
	"os"

	"github.com/go-go-golems/fcrunner/pkg/inference/engine"
	"github.com/go-go-golems/fcrunner/pkg/inference/files"
	"github.com/go-go-golems/fcrunner/pkg/inference/variables"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory = "memory"
	StoreS3     = "s3"
	StoreSQLite = "sqlite"
)

type ModelSettings struct {
	Name          string         `yaml:"name,omitempty" mapstructure:"name"`
	Script        string         `yaml:"script,omitempty" mapstructure:"script"`
	ContextWindow int            `yaml:"context_window,omitempty" mapstructure:"context_window"`
	Parameters    map[string]any `yaml:"parameters,omitempty" mapstructure:"parameters"`
	Stop          []string       `yaml:"stop,omitempty" mapstructure:"stop"`
}

type FileStoreSettings struct {
	Type      string `yaml:"type,omitempty" mapstructure:"type"`
	Endpoint  string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key,omitempty" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket,omitempty" mapstructure:"bucket"`
	Region    string `yaml:"region,omitempty" mapstructure:"region"`
	UseSSL    bool   `yaml:"use_ssl,omitempty" mapstructure:"use_ssl"`
	Prefix    string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

type VariableStoreSettings struct {
	Type string `yaml:"type,omitempty" mapstructure:"type"`
	DSN  string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

type EventSettings struct {
	Topic string `yaml:"topic,omitempty" mapstructure:"topic"`
	// File, when set, receives every event as NDJSON.
	File    string `yaml:"file,omitempty" mapstructure:"file"`
	Verbose bool   `yaml:"verbose,omitempty" mapstructure:"verbose"`
}

// RunnerSettings configures a run of the agent loop.
type RunnerSettings struct {
	Template       string                `yaml:"template,omitempty" mapstructure:"template"`
	User           string                `yaml:"user,omitempty" mapstructure:"user"`
	ConversationID string                `yaml:"conversation_id,omitempty" mapstructure:"conversation_id"`
	// Tools lists glob patterns of the tool names offered to the model. Empty offers all.
	Tools          []string              `yaml:"tools,omitempty" mapstructure:"tools"`
	Model          ModelSettings         `yaml:"model" mapstructure:"model"`
	Files          FileStoreSettings     `yaml:"files" mapstructure:"files"`
	Variables      VariableStoreSettings `yaml:"variables" mapstructure:"variables"`
	Events         EventSettings         `yaml:"events" mapstructure:"events"`
}

func NewRunnerSettings() *RunnerSettings {
	return &RunnerSettings{
		Model: ModelSettings{
			Name:          "scripted",
			ContextWindow: 8192,
			Parameters:    map[string]any{},
			Stop:          []string{},
		},
		Files:     FileStoreSettings{Type: StoreMemory},
		Variables: VariableStoreSettings{Type: StoreMemory},
		Events:    EventSettings{Topic: "chat"},
	}
}

func (s *RunnerSettings) Clone() *RunnerSettings {
	return clone.Clone(s).(*RunnerSettings)
}

func (s *RunnerSettings) Validate() error {
	switch s.Files.Type {
	case StoreMemory:
	case StoreS3:
		if s.Files.Endpoint == "" || s.Files.Bucket == "" {
			return errors.New("s3 file store needs an endpoint and a bucket")
		}
	default:
		return errors.Errorf("unknown file store type %q", s.Files.Type)
	}
	switch s.Variables.Type {
	case StoreMemory:
	case StoreSQLite:
		if s.Variables.DSN == "" {
			return errors.New("sqlite variable store needs a dsn")
		}
	default:
		return errors.Errorf("unknown variable store type %q", s.Variables.Type)
	}
	if s.Model.ContextWindow < 0 {
		return errors.Errorf("invalid context window %d", s.Model.ContextWindow)
	}
	return nil
}

// LoadFromYAML overlays the YAML document b on the defaults.
func LoadFromYAML(b []byte) (*RunnerSettings, error) {
	s := NewRunnerSettings()
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, errors.Wrap(err, "could not parse settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func LoadFromFile(path string) (*RunnerSettings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadFromYAML(b)
}

// LoadFromViper overlays everything viper knows about (config file, environment,
// bound flags) on the defaults.
func LoadFromViper(v *viper.Viper) (*RunnerSettings, error) {
	s := NewRunnerSettings()
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Sizer returns a token sizer for the configured model, or a no-op sizer when no
// context window is set.
func (s *RunnerSettings) Sizer() (engine.Sizer, error) {
	if s.Model.ContextWindow == 0 {
		return engine.NoopSizer{}, nil
	}
	return engine.NewTokenSizer(s.Model.Name, s.Model.ContextWindow)
}

func (s *FileStoreSettings) Build() (files.Store, error) {
	switch s.Type {
	case "", StoreMemory:
		return files.NewMemoryStore(), nil
	case StoreS3:
		st, err := files.NewS3Store(files.S3Config{
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Bucket:    s.Bucket,
			Region:    s.Region,
			UseSSL:    s.UseSSL,
			Prefix:    s.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, errors.Errorf("unknown file store type %q", s.Type)
}

// Build opens the variable store. The returned close function must be called once
// the store is no longer used.
func (s *VariableStoreSettings) Build() (variables.Store, func() error, error) {
	switch s.Type {
	case "", StoreMemory:
		return variables.NewMemoryStore(), func() error { return nil }, nil
	case StoreSQLite:
		st, err := variables.NewSQLiteStore(s.DSN)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "could not open %s", s.DSN)
		}
		return st, st.Close, nil
	}
	return nil, nil, errors.Errorf("unknown variable store type %q", s.Type)
}
