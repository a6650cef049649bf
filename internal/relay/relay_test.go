package relay

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/remote-agent-terminal/ipmbridge/internal/clock"
	"github.com/remote-agent-terminal/ipmbridge/internal/logger"
	"github.com/remote-agent-terminal/ipmbridge/internal/model"
	"github.com/remote-agent-terminal/ipmbridge/internal/protocol"
)

// recorder collects presented messages.
type recorder struct {
	mu   sync.Mutex
	msgs []model.PanelMessage
}

func (r *recorder) Present(msg model.PanelMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) count(cmd model.PanelCommand) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Command == cmd {
			n++
		}
	}
	return n
}

func (r *recorder) last(cmd model.PanelCommand) (model.PanelMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Command == cmd {
			return r.msgs[i], true
		}
	}
	return model.PanelMessage{}, false
}

func newTestRelay() (*Relay, *recorder, *clock.FakeClock) {
	rec := &recorder{}
	clk := clock.Fake(time.Unix(1700000000, 0))
	return New(rec, Options{Clock: clk}), rec, clk
}

func TestNewDefaults(t *testing.T) {
	r := New(&recorder{}, Options{})
	if r.delay != DefaultPlaceholderDelay {
		t.Errorf("expected delay %v, got %v", DefaultPlaceholderDelay, r.delay)
	}
	if r.interval != DefaultScrollInterval {
		t.Errorf("expected interval %v, got %v", DefaultScrollInterval, r.interval)
	}
	if r.transcript == nil || r.clock == nil {
		t.Error("expected transcript and clock defaults")
	}
}

func TestPromptReadyRestoresCommandAfterDelay(t *testing.T) {
	r, rec, clk := newTestRelay()

	r.PromptReady("install zpm-registry")
	if rec.count(model.PanelSetCommand) != 0 {
		t.Fatal("setCommand emitted before delay")
	}

	clk.Advance(DefaultPlaceholderDelay - time.Millisecond)
	if rec.count(model.PanelSetCommand) != 0 {
		t.Fatal("setCommand emitted early")
	}

	clk.Advance(time.Millisecond)
	msg, ok := rec.last(model.PanelSetCommand)
	if !ok {
		t.Fatal("expected setCommand after delay")
	}
	if msg.Text == nil || *msg.Text != "install zpm-registry" {
		t.Errorf("expected last command restored, got %v", msg.Text)
	}
	if msg.Placeholder != protocol.CommandPlaceholder {
		t.Errorf("unexpected placeholder %q", msg.Placeholder)
	}

	clk.Advance(10 * DefaultPlaceholderDelay)
	if n := rec.count(model.PanelSetCommand); n != 1 {
		t.Errorf("expected exactly one setCommand, got %d", n)
	}
}

func TestOutputCancelsPlaceholder(t *testing.T) {
	r, rec, clk := newTestRelay()

	r.PromptReady("list")
	clk.Advance(500 * time.Millisecond)
	r.Output("late output\n")
	clk.Advance(5 * time.Second)

	if n := rec.count(model.PanelSetCommand); n != 0 {
		t.Errorf("expected no setCommand after output, got %d", n)
	}
	if p, _ := r.Pending(); p {
		t.Error("placeholder still pending")
	}
}

func TestPromptReadyRestartsPendingTask(t *testing.T) {
	r, rec, clk := newTestRelay()

	r.PromptReady("first")
	clk.Advance(900 * time.Millisecond)
	r.PromptReady("second")
	clk.Advance(900 * time.Millisecond)
	if rec.count(model.PanelSetCommand) != 0 {
		t.Fatal("stale task fired")
	}
	clk.Advance(100 * time.Millisecond)

	msg, ok := rec.last(model.PanelSetCommand)
	if !ok || *msg.Text != "second" {
		t.Fatalf("expected 'second' restored, got %+v", msg)
	}
	if n := rec.count(model.PanelSetCommand); n != 1 {
		t.Errorf("expected one setCommand, got %d", n)
	}
}

func TestCommandRunningCancelsAndEmitsImmediately(t *testing.T) {
	r, rec, clk := newTestRelay()

	r.PromptReady("old")
	r.CommandRunning("version")

	msg, ok := rec.last(model.PanelSetCommand)
	if !ok {
		t.Fatal("expected immediate setCommand")
	}
	if *msg.Text != "" {
		t.Errorf("expected empty text, got %q", *msg.Text)
	}
	if msg.Placeholder != protocol.RunningPlaceholder("version") {
		t.Errorf("unexpected placeholder %q", msg.Placeholder)
	}

	clk.Advance(5 * time.Second)
	if n := rec.count(model.PanelSetCommand); n != 1 {
		t.Errorf("expected pending restore cancelled, got %d setCommand", n)
	}
}

func TestOutputIsImmediateAndScrollCoalesced(t *testing.T) {
	r, rec, clk := newTestRelay()

	r.Output("a")
	r.Output("b")
	clk.Advance(10 * time.Millisecond)
	r.Output("c")

	if n := rec.count(model.PanelOutput); n != 3 {
		t.Fatalf("expected 3 immediate outputs, got %d", n)
	}
	if rec.count(model.PanelScroll) != 0 {
		t.Fatal("scroll emitted before interval")
	}

	clk.Advance(DefaultScrollInterval)
	if n := rec.count(model.PanelScroll); n != 1 {
		t.Fatalf("expected one coalesced scroll, got %d", n)
	}

	r.Output("d")
	clk.Advance(DefaultScrollInterval)
	if n := rec.count(model.PanelScroll); n != 2 {
		t.Errorf("expected a new scroll for a later window, got %d", n)
	}

	if got := r.Transcript(); got != "abcd" {
		t.Errorf("expected transcript 'abcd', got %q", got)
	}
}

func TestOutputOrderPreserved(t *testing.T) {
	r, rec, _ := newTestRelay()

	chunks := []string{"one\n", "two\n", "three\n"}
	for _, c := range chunks {
		r.Output(c)
	}

	var got []string
	for _, m := range rec.msgs {
		if m.Command == model.PanelOutput {
			got = append(got, *m.Text)
		}
	}
	if strings.Join(got, "") != strings.Join(chunks, "") {
		t.Errorf("output out of order: %v", got)
	}
}

func TestLoadIncludesTranscript(t *testing.T) {
	r, rec, _ := newTestRelay()
	r.Output("earlier output")

	r.Load(model.LoadPayload{Namespace: "USER", Transcript: "ignored"})

	msg, ok := rec.last(model.PanelLoad)
	if !ok || msg.Load == nil {
		t.Fatal("expected load message")
	}
	if msg.Load.Transcript != "earlier output" {
		t.Errorf("expected transcript in load, got %q", msg.Load.Transcript)
	}
	if msg.Load.Namespace != "USER" {
		t.Errorf("expected namespace USER, got %q", msg.Load.Namespace)
	}
}

func TestStatus(t *testing.T) {
	r, rec, _ := newTestRelay()
	r.Status(model.StateClosed, "connection lost")

	msg, ok := rec.last(model.PanelStatus)
	if !ok {
		t.Fatal("expected status message")
	}
	if msg.State != "closed" || msg.Error != "connection lost" {
		t.Errorf("unexpected status %+v", msg)
	}
}

func TestCloseCancelsPendingAndSilences(t *testing.T) {
	r, rec, clk := newTestRelay()

	r.Output("x")
	r.PromptReady("cmd")
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	before := len(rec.msgs)

	clk.Advance(5 * time.Second)
	r.Output("after close")
	r.Status(model.StatePrompt, "")

	if len(rec.msgs) != before {
		t.Errorf("expected no messages after close, got %d more", len(rec.msgs)-before)
	}
	if clk.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", clk.Pending())
	}
}

func TestRecorderReceivesOutputAndEcho(t *testing.T) {
	var buf bytes.Buffer
	clk := clock.Fake(time.Unix(1700000000, 0))
	rec := logger.NewRecorderWithWriter(&buf, clk)
	r := New(&recorder{}, Options{Clock: clk, Recorder: rec})

	r.Echo("\n[1]zpm:USER> help\n")
	r.Output("usage...\n")
	r.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 events, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"i"`) || !strings.Contains(lines[1], `"o"`) {
		t.Errorf("unexpected event types: %v", lines)
	}
}

func TestPresenterFunc(t *testing.T) {
	var got model.PanelMessage
	p := PresenterFunc(func(m model.PanelMessage) { got = m })
	p.Present(model.PanelMessage{Command: model.PanelScroll})
	if got.Command != model.PanelScroll {
		t.Errorf("expected scroll, got %s", got.Command)
	}
}

// Relay actions used by the property tests.
const (
	actOutput = iota
	actPrompt
	actRunning
	actWait
)

func TestPlaceholderProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("quiet prompt emits exactly one setCommand", prop.ForAll(
		func(gaps []int) bool {
			r, rec, clk := newTestRelay()
			for _, ms := range gaps {
				r.Output("chunk")
				clk.Advance(time.Duration(ms) * time.Millisecond)
			}
			r.PromptReady("last")
			clk.Advance(DefaultPlaceholderDelay)
			clk.Advance(DefaultPlaceholderDelay)
			return rec.count(model.PanelSetCommand) == 1
		},
		gen.SliceOf(gen.IntRange(0, 2000)),
	))

	properties.Property("output within the delay after a prompt emits no setCommand", prop.ForAll(
		func(ms int) bool {
			r, rec, clk := newTestRelay()
			r.PromptReady("last")
			clk.Advance(time.Duration(ms) * time.Millisecond)
			r.Output("more")
			clk.Advance(10 * DefaultPlaceholderDelay)
			return rec.count(model.PanelSetCommand) == 0
		},
		gen.IntRange(0, 999),
	))

	properties.Property("at most one scroll per interval and at most one pending task each", prop.ForAll(
		func(actions []int) bool {
			r, rec, clk := newTestRelay()
			var waited time.Duration
			for _, a := range actions {
				switch a {
				case actOutput:
					r.Output("o")
				case actPrompt:
					r.PromptReady("c")
				case actRunning:
					r.CommandRunning("c")
				case actWait:
					clk.Advance(20 * time.Millisecond)
					waited += 20 * time.Millisecond
				}
				if clk.Pending() > 2 {
					return false
				}
			}
			clk.Advance(DefaultPlaceholderDelay)
			waited += DefaultPlaceholderDelay
			maxScrolls := int(waited/DefaultScrollInterval) + 1
			return rec.count(model.PanelScroll) <= maxScrolls
		},
		gen.SliceOf(gen.IntRange(actOutput, actWait)),
	))

	properties.TestingRun(t)
}
