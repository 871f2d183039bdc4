package fixtures

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/go-go-golems/fcrunner/pkg/events"
)

// Record is one line of an events NDJSON file.
type Record struct {
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Event json.RawMessage `json:"event"`
}

// FileSink writes events as NDJSON; optionally echoes every line to a second writer.
type FileSink struct {
	mu   sync.Mutex
	w    io.Writer
	echo io.Writer
	now  func() time.Time
}

var _ events.EventSink = (*FileSink)(nil)

func NewFileSink(w io.Writer, echo io.Writer) *FileSink {
	return &FileSink{w: w, echo: echo, now: time.Now}
}

func (s *FileSink) PublishEvent(e events.Event) error {
	ev, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Record{Type: string(e.Type()), Ts: s.now().UnixMilli(), Event: ev})
	if err != nil {
		return err
	}
	line := append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return err
	}
	if s.echo != nil {
		_, _ = s.echo.Write(line)
	}
	return nil
}
