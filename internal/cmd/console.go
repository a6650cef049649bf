package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/remote-agent-terminal/ipmbridge/internal/model"
	"github.com/remote-agent-terminal/ipmbridge/internal/protocol"
)

// consolePresenter renders panel messages on a terminal.
type consolePresenter struct {
	w         io.Writer
	namespace string

	mu   sync.Mutex
	done chan struct{}
	err  string
}

func newConsolePresenter(w io.Writer, namespace string) *consolePresenter {
	return &consolePresenter{w: w, namespace: namespace, done: make(chan struct{})}
}

func (p *consolePresenter) Present(msg model.PanelMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch msg.Command {
	case model.PanelOutput:
		if msg.Text != nil {
			io.WriteString(p.w, *msg.Text)
		}
	case model.PanelSetCommand:
		if msg.Placeholder != protocol.CommandPlaceholder {
			return
		}
		if msg.Text != nil && *msg.Text != "" {
			fmt.Fprintf(p.w, "zpm:%s> (last: %s) ", p.namespace, *msg.Text)
			return
		}
		fmt.Fprintf(p.w, "zpm:%s> ", p.namespace)
	case model.PanelStatus:
		if msg.State != model.StateClosed.String() {
			return
		}
		select {
		case <-p.done:
			return
		default:
		}
		p.err = msg.Error
		if msg.Error != "" {
			fmt.Fprintf(p.w, "\n[session closed: %s]\n", strings.TrimSpace(msg.Error))
		} else {
			fmt.Fprintln(p.w, "\n[session closed]")
		}
		close(p.done)
	}
}

// Done is closed once the session reports it has closed.
func (p *consolePresenter) Done() <-chan struct{} {
	return p.done
}

// Err returns the error the session closed with, if any.
func (p *consolePresenter) Err() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
