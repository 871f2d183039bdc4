package cmds

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/fcrunner/pkg/conversation"
	"github.com/go-go-golems/fcrunner/pkg/events"
	"github.com/go-go-golems/fcrunner/pkg/helpers"
	"github.com/go-go-golems/fcrunner/pkg/inference/agentloop"
	"github.com/go-go-golems/fcrunner/pkg/inference/engine"
	"github.com/go-go-golems/fcrunner/pkg/inference/fixtures"
	"github.com/go-go-golems/fcrunner/pkg/inference/tools"
	"github.com/go-go-golems/fcrunner/pkg/inference/variables"
	"github.com/go-go-golems/fcrunner/pkg/settings"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
	"github.com/yuin/goldmark"
	"golang.org/x/sync/errgroup"
)

//go:embed examples/weather.yaml
var defaultScript []byte

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a query through the agent loop against a scripted model",
		RunE: func(cmd *cobra.Command, args []string) error {
			for flag, key := range map[string]string{
				"script":          "model.script",
				"template":        "template",
				"user":            "user",
				"conversation-id": "conversation_id",
				"events-file":     "events.file",
				"print-events":    "events.verbose",
			} {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			s, err := settings.LoadFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			opts := runOptions{}
			opts.query, _ = cmd.Flags().GetString("query")
			opts.report, _ = cmd.Flags().GetString("report")
			opts.interactive, _ = cmd.Flags().GetBool("interactive")
			return runScripted(cmd.Context(), s, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("script", "", "Scripted model YAML (default: built-in weather script)")
	cmd.Flags().String("query", "", "User query (default: the query of the script)")
	cmd.Flags().String("template", "", "System prompt template")
	cmd.Flags().String("user", "", "Identity the tools are invoked for")
	cmd.Flags().String("conversation-id", "", "Conversation id, also the scope of bound variables")
	cmd.Flags().String("events-file", "", "Write all events as NDJSON to this file")
	cmd.Flags().Bool("print-events", false, "Print every event as JSON")
	cmd.Flags().String("report", "", "Print a report of the run: markdown, styled, html or auto (needs --events-file)")
	cmd.Flags().Bool("interactive", false, "Ask for the query on the terminal when none is given")
	return cmd
}

func loadScript(s *settings.RunnerSettings) (*fixtures.Script, error) {
	if s.Model.Script == "" {
		return fixtures.ParseScript(defaultScript)
	}
	return fixtures.LoadScript(s.Model.Script)
}

type runOptions struct {
	query       string
	report      string
	interactive bool
}

func runScripted(ctx context.Context, s *settings.RunnerSettings, opts runOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// chunks and events are printed from different goroutines
	w = &syncWriter{w: w}

	script, err := loadScript(s)
	if err != nil {
		return err
	}
	query := opts.query
	if query == "" && opts.interactive {
		if query, err = askQuery(); err != nil {
			return err
		}
	}
	if query == "" {
		query = script.Query
	}
	if query == "" {
		return errors.New("no query given")
	}
	model := fixtures.NewScriptedModel(script)

	demo, err := NewDemoRegistry()
	if err != nil {
		return err
	}
	registry, err := tools.FilterRegistry(demo, s.Tools)
	if err != nil {
		return err
	}

	template := s.Template
	if template == "" {
		template = script.Template
	}
	var toolNames []string
	for _, t := range registry.List() {
		toolNames = append(toolNames, t.Definition().Name)
	}
	template, err = conversation.RenderTemplate(template, map[string]any{
		"user":            s.User,
		"conversation_id": s.ConversationID,
		"tools":           toolNames,
		"date":            time.Now().Format("2006-01-02"),
	})
	if err != nil {
		return err
	}
	fileStore, err := s.Files.Build()
	if err != nil {
		return err
	}
	varStore, closeVars, err := s.Variables.Build()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeVars(); err != nil {
			log.Warn().Err(err).Msg("could not close variable store")
		}
	}()

	scope := s.ConversationID
	if scope == "" {
		scope = "default"
	}
	pool := variables.NewPool(scope, varStore)
	if err := pool.Load(ctx); err != nil {
		return err
	}
	sizer, err := s.Sizer()
	if err != nil {
		return err
	}

	router, err := events.NewEventRouter(
		events.WithLogger(helpers.NewWatermill(log.Logger)),
		events.WithVerbose(s.Events.Verbose),
		events.WithDumpWriter(w),
	)
	if err != nil {
		return err
	}
	defer func() { _ = router.Close() }()

	sinks := []events.EventSink{router.Sink(s.Events.Topic)}
	if s.Events.File != "" {
		f, err := os.Create(s.Events.File)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		sinks = append(sinks, fixtures.NewFileSink(f, nil))
	}

	if s.Events.Verbose {
		router.AddHandler("dump", s.Events.Topic, router.DumpRawEvents)
	} else {
		router.AddHandler("printer", s.Events.Topic, eventPrinter(w))
	}

	loop := agentloop.New(
		agentloop.WithModel(model),
		agentloop.WithRegistry(registry),
		agentloop.WithDispatcher(tools.NewDispatcher(registry,
			tools.WithFileStore(fileStore),
			tools.WithVariableBinder(pool),
		)),
		agentloop.WithVariablePool(pool),
		agentloop.WithSizer(sizer),
		agentloop.WithParameters(s.Model.Parameters),
		agentloop.WithStop(s.Model.Stop...),
		agentloop.WithUser(s.User),
		agentloop.WithPromptTemplate(template),
		agentloop.WithPublisher(agentloop.NewSinkPublisher(
			agentloop.WithSinks(sinks...),
			agentloop.WithConversationID(s.ConversationID),
			agentloop.WithModelName(model.Name()),
		)),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result *agentloop.RunResult
	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		if err := waitRunning(ctx, router.Running()); err != nil {
			return err
		}

		stream := loop.Stream(ctx, agentloop.RunInput{
			ConversationID: s.ConversationID,
			Query:          query,
			History:        script.History,
		})
		for r := range stream.C {
			chunk, err := r.Value()
			if err != nil {
				break
			}
			printChunk(w, chunk)
		}
		res, err := stream.Wait()
		if err != nil {
			return errors.Wrap(err, "run failed")
		}
		result = res
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n=== Answer (%d iterations", result.Iterations)
	if result.Truncated {
		fmt.Fprint(w, ", truncated")
	}
	fmt.Fprintf(w, ") ===\n%s\n", result.Answer)
	fmt.Fprintf(w, "tokens: %d prompt, %d completion\n", result.Usage.PromptTokens, result.Usage.CompletionTokens)
	for _, v := range pool.List() {
		fmt.Fprintf(w, "variable %s.%s = %s\n", v.ToolName, v.Name, v.Value)
	}

	if opts.report != "" {
		if s.Events.File == "" {
			return errors.New("--report needs --events-file")
		}
		f, err := os.Open(s.Events.File)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		md, err := fixtures.BuildReport(f)
		if err != nil {
			return err
		}
		out, err := renderReport(md, opts.report)
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
		fmt.Fprint(w, out)
	}
	return nil
}

// waitRunning blocks until running is closed or ctx is done.
func waitRunning(ctx context.Context, running <-chan struct{}) error {
	select {
	case <-running:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// renderReport formats the Markdown report. auto styles it for the terminal when
// stdout is one.
func renderReport(md string, style string) (string, error) {
	if style == "auto" {
		style = "markdown"
		if isatty.IsTerminal(os.Stdout.Fd()) {
			style = "styled"
		}
	}
	switch style {
	case "markdown":
		return md, nil
	case "styled":
		return glamour.Render(md, "dark")
	case "html":
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(md), &buf); err != nil {
			return "", errors.Wrap(err, "could not convert report")
		}
		return buf.String(), nil
	}
	return "", errors.Errorf("unknown report style %q", style)
}

func askQuery() (string, error) {
	ui := &input.UI{
		Writer: os.Stderr,
		Reader: os.Stdin,
	}
	return ui.Ask("What do you want to ask?", &input.Options{
		Required:  true,
		Loop:      true,
		HideOrder: true,
	})
}

func printChunk(w io.Writer, chunk engine.Chunk) {
	if text := chunk.Text(); text != "" {
		fmt.Fprint(w, text)
	}
	for _, tc := range chunk.Delta.ToolCalls {
		fmt.Fprintf(w, "\n-> %s(%s)\n", tc.Name, tc.Arguments)
	}
}

// eventPrinter prints a one line summary per event.
func eventPrinter(w io.Writer) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		defer msg.Ack()

		ev, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}
		switch e := ev.(type) {
		case *agentloop.EventAgentThought:
			switch {
			case e.Thought.Answer != nil:
				fmt.Fprintf(w, "[thought %d] answered\n", e.Thought.Position)
			case e.Thought.Observation != nil:
				fmt.Fprintf(w, "[thought %d] %s -> %s\n", e.Thought.Position, e.Thought.ToolName, *e.Thought.Observation)
			default:
				fmt.Fprintf(w, "[thought %d] calling %s %s\n", e.Thought.Position, e.Thought.ToolName, e.Thought.ToolInput)
			}
		case *agentloop.EventMessageFile:
			fmt.Fprintf(w, "[file] %s %s\n", e.File.MimeType, e.File.URL)
		case *agentloop.EventMessageEnd:
			fmt.Fprintf(w, "[end] run %s\n", e.Result.RunID)
		case *events.EventError:
			fmt.Fprintf(w, "[error] %s\n", e.ErrorString)
		case *events.EventInterrupt:
			fmt.Fprintf(w, "[interrupted] %s\n", e.Reason)
		default:
			fmt.Fprintf(w, "[%s]\n", ev.Type())
		}
		return nil
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
