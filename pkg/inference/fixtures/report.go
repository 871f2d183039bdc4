package fixtures

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-go-golems/fcrunner/pkg/events"
	"github.com/go-go-golems/fcrunner/pkg/inference/agentloop"
	"github.com/pkg/errors"
)

// BuildReport renders a Markdown summary of a run from the NDJSON written by a
// FileSink. Lines that cannot be decoded are skipped.
func BuildReport(r io.Reader) (string, error) {
	var (
		thoughts = map[string]agentloop.AgentThought{}
		order    []string
		fileEvs  []*agentloop.EventMessageFile
		end      *agentloop.EventMessageEnd
		errs     []string
		stopped  *events.EventInterrupt
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		ev, err := events.NewEventFromJson(rec.Event)
		if err != nil {
			continue
		}
		switch e := ev.(type) {
		case *agentloop.EventAgentThought:
			if _, ok := thoughts[e.Thought.ID]; !ok {
				order = append(order, e.Thought.ID)
			}
			// later events carry the more complete thought
			thoughts[e.Thought.ID] = e.Thought
		case *agentloop.EventMessageFile:
			fileEvs = append(fileEvs, e)
		case *agentloop.EventMessageEnd:
			end = e
		case *events.EventError:
			errs = append(errs, e.ErrorString)
		case *events.EventInterrupt:
			stopped = e
		}
	}
	if err := sc.Err(); err != nil {
		return "", errors.Wrap(err, "could not read events")
	}

	var b strings.Builder
	b.WriteString("# Run Report\n\n")
	if end != nil {
		b.WriteString(fmt.Sprintf("- Run: %s\n", end.Result.RunID))
		b.WriteString(fmt.Sprintf("- Model: %s\n", end.Result.Model))
		b.WriteString(fmt.Sprintf("- Iterations: %d\n", end.Result.Iterations))
		if end.Result.Truncated {
			b.WriteString("- Truncated: yes\n")
		}
		u := end.Result.Usage
		b.WriteString(fmt.Sprintf("- Tokens: %d prompt, %d completion\n", u.PromptTokens, u.CompletionTokens))
	}
	if stopped != nil {
		b.WriteString(fmt.Sprintf("- Run: %s\n", stopped.Metadata().RunID))
		b.WriteString(fmt.Sprintf("- Interrupted: %s\n", stopped.Reason))
	}
	b.WriteString(fmt.Sprintf("- Generated: %s\n\n", time.Now().Format(time.RFC3339)))

	b.WriteString("## Tool Calls\n\n")
	if len(order) == 0 {
		b.WriteString("(none)\n\n")
	}
	for _, id := range order {
		t := thoughts[id]
		b.WriteString(fmt.Sprintf("%d. `%s` `%s`\n", t.Position, t.ToolName, t.ToolInput))
		if t.Observation != nil {
			b.WriteString(fmt.Sprintf("   - observation: %s\n", oneLine(*t.Observation)))
		}
		if t.Answer != nil {
			b.WriteString(fmt.Sprintf("   - answer: %s\n", oneLine(*t.Answer)))
		}
	}
	if len(order) > 0 {
		b.WriteString("\n")
	}

	if len(fileEvs) > 0 {
		b.WriteString("## Files\n\n")
		for _, f := range fileEvs {
			b.WriteString(fmt.Sprintf("- %s (%s) %s\n", f.File.ID, f.File.MimeType, f.File.URL))
		}
		b.WriteString("\n")
	}

	if len(errs) > 0 {
		b.WriteString("## Errors\n\n")
		for _, e := range errs {
			b.WriteString("- " + e + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Final Answer\n\n")
	if end != nil && end.Result.Answer != "" {
		b.WriteString(end.Result.Answer + "\n")
	} else {
		b.WriteString("(not found)\n")
	}
	return b.String(), nil
}

func oneLine(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
}
