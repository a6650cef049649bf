// Package relay forwards session events to the presentation layer.
//
// Output is forwarded immediately and in arrival order. Only the
// signals derived from it are delayed: restoring the last command into
// the input box waits until output has been quiet for PlaceholderDelay,
// and scroll requests are coalesced to one per ScrollInterval.
package relay

import (
	"log"
	"sync"
	"time"

	"github.com/remote-agent-terminal/ipmbridge/internal/buffer"
	"github.com/remote-agent-terminal/ipmbridge/internal/clock"
	"github.com/remote-agent-terminal/ipmbridge/internal/logger"
	"github.com/remote-agent-terminal/ipmbridge/internal/model"
	"github.com/remote-agent-terminal/ipmbridge/internal/protocol"
)

const (
	// DefaultPlaceholderDelay is how long output must be quiet before the
	// last command is restored after a prompt.
	DefaultPlaceholderDelay = time.Second

	// DefaultScrollInterval is the scroll coalescing window.
	DefaultScrollInterval = 50 * time.Millisecond
)

// Presenter receives panel messages. Present must not block.
type Presenter interface {
	Present(msg model.PanelMessage)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(msg model.PanelMessage)

// Present calls f(msg).
func (f PresenterFunc) Present(msg model.PanelMessage) { f(msg) }

// Options configures a Relay. Zero values select the defaults.
type Options struct {
	PlaceholderDelay time.Duration
	ScrollInterval   time.Duration
	Clock            clock.Clock

	// Transcript receives all output. A fresh buffer of
	// buffer.DefaultTranscriptSize is used when nil.
	Transcript *buffer.Transcript

	// Recorder, when set, records output and echoed input.
	Recorder *logger.Recorder
}

// task is a scheduled signal. gen is zero when nothing is pending.
type task struct {
	gen   uint64
	timer *clock.Timer
}

func (t *task) cancel() {
	if t.timer != nil {
		t.timer.Stop()
	}
	*t = task{}
}

// Relay orders and debounces the messages of one session.
type Relay struct {
	presenter  Presenter
	delay      time.Duration
	interval   time.Duration
	clock      clock.Clock
	transcript *buffer.Transcript
	recorder   *logger.Recorder

	mu          sync.Mutex
	gen         uint64
	placeholder task
	scroll      task
	lastCommand string
	closed      bool
}

// New creates a Relay presenting to p.
func New(p Presenter, opts Options) *Relay {
	if opts.PlaceholderDelay <= 0 {
		opts.PlaceholderDelay = DefaultPlaceholderDelay
	}
	if opts.ScrollInterval <= 0 {
		opts.ScrollInterval = DefaultScrollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Transcript == nil {
		opts.Transcript = buffer.NewTranscript(buffer.DefaultTranscriptSize)
	}
	return &Relay{
		presenter:  p,
		delay:      opts.PlaceholderDelay,
		interval:   opts.ScrollInterval,
		clock:      opts.Clock,
		transcript: opts.Transcript,
		recorder:   opts.Recorder,
	}
}

// Output forwards evaluator output. It cancels a pending placeholder
// restore and requests a scroll.
func (r *Relay) Output(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.recorder != nil {
		if err := r.recorder.Output(text); err != nil {
			log.Printf("Failed to record output: %v", err)
		}
	}
	r.emitLocked(text)
}

// Echo forwards locally typed input that is shown in the transcript.
// It behaves like Output but is recorded as an input event.
func (r *Relay) Echo(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.recorder != nil {
		if err := r.recorder.Input(text); err != nil {
			log.Printf("Failed to record input: %v", err)
		}
	}
	r.emitLocked(text)
}

func (r *Relay) emitLocked(text string) {
	r.placeholder.cancel()
	r.transcript.Append(text)
	r.presenter.Present(model.PanelMessage{Command: model.PanelOutput, Text: model.TextPtr(text)})

	if r.scroll.gen != 0 {
		return
	}
	r.gen++
	gen := r.gen
	r.scroll = task{gen: gen, timer: r.clock.AfterFunc(r.interval, func() { r.fireScroll(gen) })}
}

func (r *Relay) fireScroll(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.scroll.gen != gen {
		return
	}
	r.scroll = task{}
	r.presenter.Present(model.PanelMessage{Command: model.PanelScroll})
}

// PromptReady schedules restoring lastCommand into the input box once
// output has been quiet for the placeholder delay. A pending restore is
// replaced.
func (r *Relay) PromptReady(lastCommand string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.placeholder.cancel()
	r.lastCommand = lastCommand
	r.gen++
	gen := r.gen
	r.placeholder = task{gen: gen, timer: r.clock.AfterFunc(r.delay, func() { r.firePlaceholder(gen) })}
}

func (r *Relay) firePlaceholder(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.placeholder.gen != gen {
		return
	}
	r.placeholder = task{}
	r.presenter.Present(model.PanelMessage{
		Command:     model.PanelSetCommand,
		Text:        model.TextPtr(r.lastCommand),
		Placeholder: protocol.CommandPlaceholder,
	})
}

// CommandRunning clears the input box and shows the running placeholder
// for command.
func (r *Relay) CommandRunning(command string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.placeholder.cancel()
	r.presenter.Present(model.PanelMessage{
		Command:     model.PanelSetCommand,
		Text:        model.TextPtr(""),
		Placeholder: protocol.RunningPlaceholder(command),
	})
}

// Load sends the initial snapshot with the transcript so far.
func (r *Relay) Load(payload model.LoadPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	payload.Transcript = r.transcript.String()
	r.presenter.Present(model.PanelMessage{Command: model.PanelLoad, Load: &payload})
}

// Status reports a session state change. errMsg is empty unless the
// session ended with an error.
func (r *Relay) Status(state model.InteractionState, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.presenter.Present(model.PanelMessage{Command: model.PanelStatus, State: state.String(), Error: errMsg})
}

// Transcript returns the output forwarded so far.
func (r *Relay) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript.String()
}

// Pending reports whether a placeholder restore and a scroll signal are
// scheduled.
func (r *Relay) Pending() (placeholder, scroll bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.placeholder.gen != 0, r.scroll.gen != 0
}

// Close cancels pending signals and closes the recorder. Later calls
// are no-ops.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.placeholder.cancel()
	r.scroll.cancel()
	if r.recorder != nil {
		return r.recorder.Close()
	}
	return nil
}
