// Package logger records bridge session transcripts as Asciinema v2 casts.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/remote-agent-terminal/ipmbridge/internal/clock"
)

const (
	// castWidth and castHeight size the player for the panel's output area.
	castWidth  = 120
	castHeight = 24
)

// Header is the first line of an Asciinema v2 recording.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is a single recorded event.
// Format: [time_offset, event_type, data]
type Event struct {
	TimeOffset float64
	EventType  string // "o" for output, "i" for input
	Data       string
}

// MarshalJSON encodes the event as a three-element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.TimeOffset, e.EventType, e.Data})
}

// UnmarshalJSON decodes a three-element event array.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []any
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	timeOffset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	eventType, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event type")
	}
	eventData, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}

	e.TimeOffset = timeOffset
	e.EventType = eventType
	e.Data = eventData
	return nil
}

// Recorder writes a session transcript in Asciinema v2 JSON-Lines format.
// Output is everything the panel was shown; input is the raw text the
// user submitted.
type Recorder struct {
	writer io.Writer
	file   *os.File // only set if we own the file
	clock  clock.Clock
	start  time.Time
	closed bool
	mu     sync.Mutex
}

// NewRecorder creates the cast file at filePath (and its directory) and
// writes the header.
func NewRecorder(filePath, title string, clk clock.Clock) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	r := NewRecorderWithWriter(file, clk)
	r.file = file
	if err := r.writeHeader(title); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// NewRecorderWithWriter creates a Recorder on w without writing a header.
func NewRecorderWithWriter(w io.Writer, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.Real()
	}
	return &Recorder{
		writer: w,
		clock:  clk,
		start:  clk.Now(),
	}
}

func (r *Recorder) writeHeader(title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	header := Header{
		Version:   2,
		Width:     castWidth,
		Height:    castHeight,
		Timestamp: r.start.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": "dumb"},
	}
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// Output records text shown to the panel.
func (r *Recorder) Output(text string) error {
	return r.writeEvent("o", text)
}

// Input records text submitted by the user.
func (r *Recorder) Input(text string) error {
	return r.writeEvent("i", text)
}

func (r *Recorder) writeEvent(eventType, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	event := Event{
		TimeOffset: r.clock.Now().Sub(r.start).Seconds(),
		EventType:  eventType,
		Data:       text,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the cast file. Events recorded after Close are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
