// Package session tracks the interaction state of remote evaluator
// sessions and keeps the registry of live sessions.
package session

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/remote-agent-terminal/ipmbridge/internal/model"
	"github.com/remote-agent-terminal/ipmbridge/internal/protocol"
	"github.com/remote-agent-terminal/ipmbridge/internal/relay"
)

// Conn is the evaluator connection owned by a Session.
type Conn interface {
	Send(frame protocol.Outbound) error
	Close() error
}

// Hooks observe the session lifecycle. Every hook is optional and is
// called without the session lock held.
type Hooks struct {
	// OnInit is called when the evaluator announces itself.
	OnInit func(s *Session, protocolVersion int, remoteVersion string)

	// OnCommand is called after a command has been sent.
	OnCommand func(s *Session, seq int, command string)

	// OnReveal is called when an open request finds the session live.
	OnReveal func(s *Session)

	// OnClose is called once when the session is disposed. err is nil
	// for a local close.
	OnClose func(s *Session, err error)
}

// Metadata is the package manager information shown when a panel loads.
type Metadata struct {
	RegistryRows []map[string]any
	ModuleRows   []map[string]any
}

// Config describes a new Session.
type Config struct {
	Target    model.Target
	Namespace string
	Relay     *relay.Relay
	Metadata  Metadata
	Hooks     Hooks
}

// Session is one interactive evaluator session for a server and namespace.
type Session struct {
	key       string
	target    model.Target
	namespace string
	relay     *relay.Relay
	metadata  Metadata
	hooks     Hooks

	mu            sync.Mutex
	state         model.InteractionState
	conn          Conn
	seq           int
	lastCommand   string
	protocolVer   int
	remoteVersion string
	onRemove      func()

	disposeOnce sync.Once
	closeErr    error
}

// New creates an Uninitialized session.
func New(cfg Config) *Session {
	r := cfg.Relay
	if r == nil {
		r = relay.New(relay.PresenterFunc(func(model.PanelMessage) {}), relay.Options{})
	}
	if cfg.Metadata.RegistryRows == nil {
		cfg.Metadata.RegistryRows = []map[string]any{}
	}
	if cfg.Metadata.ModuleRows == nil {
		cfg.Metadata.ModuleRows = []map[string]any{}
	}
	return &Session{
		key:       model.SessionKey(cfg.Target.Name, cfg.Namespace),
		target:    cfg.Target,
		namespace: cfg.Namespace,
		relay:     r,
		metadata:  cfg.Metadata,
		hooks:     cfg.Hooks,
		state:     model.StateUninitialized,
	}
}

// Attach hands the evaluator connection to the session. The session now
// owns conn and waits for the evaluator to prompt.
func (s *Session) Attach(conn Conn) error {
	s.mu.Lock()
	if s.state != model.StateUninitialized {
		state := s.state
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("cannot attach connection in state %s: %w", state, model.ErrSessionClosed)
	}
	s.conn = conn
	s.setStateLocked(model.StateEvaluating)
	s.mu.Unlock()
	return nil
}

func (s *Session) setStateLocked(state model.InteractionState) {
	if s.state == state {
		return
	}
	s.state = state
	s.relay.Status(state, "")
}

// HandleMessage applies one inbound evaluator frame.
func (s *Session) HandleMessage(msg protocol.Inbound) {
	s.mu.Lock()

	if s.state == model.StateClosed {
		s.mu.Unlock()
		return
	}

	switch msg.Type {
	case protocol.TypeInit:
		s.protocolVer = msg.Protocol
		s.remoteVersion = msg.Version
		err := s.sendLocked(protocol.Config(s.namespace))
		s.mu.Unlock()
		if err != nil {
			s.Dispose(err)
			return
		}
		if s.hooks.OnInit != nil {
			s.hooks.OnInit(s, msg.Protocol, msg.Version)
		}
		return

	case protocol.TypePrompt:
		if s.seq > 0 {
			s.relay.Output(protocol.EndOfOutputMarker(s.seq, s.namespace))
		}
		s.relay.PromptReady(s.lastCommand)
		s.setStateLocked(model.StatePrompt)

	case protocol.TypeRead:
		s.setStateLocked(model.StateReadBlocked)

	case protocol.TypeOutput, protocol.TypeError:
		if text := msg.TextOrEmpty(); text != "" {
			s.relay.Output(text)
		}

	case protocol.TypeColor:
	}

	s.mu.Unlock()
}

// Submit sends user input according to the current state. A command
// typed at the prompt is wrapped and echoed; an answer to a read request
// is sent raw. Input is rejected with model.ErrInvalidStateSubmission
// while the evaluator is busy.
func (s *Session) Submit(input string) error {
	s.mu.Lock()

	switch s.state {
	case model.StatePrompt:
		if input == "" {
			s.mu.Unlock()
			return nil
		}
		s.seq++
		seq := s.seq
		s.relay.Echo(protocol.EchoCommand(seq, s.namespace, input))
		s.relay.CommandRunning(input)
		if err := s.sendLocked(protocol.PromptSubmit(input)); err != nil {
			s.mu.Unlock()
			s.Dispose(err)
			return err
		}
		s.lastCommand = input
		s.setStateLocked(model.StateEvaluating)
		s.mu.Unlock()

		if s.hooks.OnCommand != nil {
			s.hooks.OnCommand(s, seq, input)
		}
		return nil

	case model.StateReadBlocked:
		s.relay.Echo(input + "\n")
		if err := s.sendLocked(protocol.ReadSubmit(input)); err != nil {
			s.mu.Unlock()
			s.Dispose(err)
			return err
		}
		s.setStateLocked(model.StateEvaluating)
		s.mu.Unlock()
		return nil

	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("submit in state %s: %w", state, model.ErrInvalidStateSubmission)
	}
}

func (s *Session) sendLocked(frame protocol.Outbound) error {
	if s.conn == nil {
		return fmt.Errorf("no connection attached: %w", model.ErrSend)
	}
	return s.conn.Send(frame)
}

// HandleUI applies one message from the presentation panel.
func (s *Session) HandleUI(msg model.PanelClientMessage) {
	switch msg.Command {
	case model.PanelReady:
		s.relay.Load(model.LoadPayload{
			Server:       s.target,
			Namespace:    s.namespace,
			RegistryRows: s.metadata.RegistryRows,
			ModuleRows:   s.metadata.ModuleRows,
		})
	case model.PanelInput:
		if err := s.Submit(msg.Text); err != nil {
			if errors.Is(err, model.ErrInvalidStateSubmission) {
				log.Printf("Session %s: ignoring input: %v", s.key, err)
				return
			}
			log.Printf("Session %s: submit failed: %v", s.key, err)
		}
	}
}

// ConnectionClosed is the transport close handler. A session that is
// still open is disposed with err.
func (s *Session) ConnectionClosed(err error) {
	if err == nil {
		err = errors.New("connection closed")
	}
	s.Dispose(err)
}

// Dispose closes the session. It is safe to call more than once; only
// the first call has an effect. err is nil for a local close.
func (s *Session) Dispose(err error) {
	s.disposeOnce.Do(func() {
		s.mu.Lock()
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		s.relay.Status(model.StateClosed, errMsg)
		s.state = model.StateClosed
		s.closeErr = err
		conn := s.conn
		onRemove := s.onRemove
		s.mu.Unlock()

		if cerr := s.relay.Close(); cerr != nil {
			log.Printf("Session %s: failed to close transcript: %v", s.key, cerr)
		}
		if conn != nil {
			conn.Close()
		}
		if onRemove != nil {
			onRemove()
		}

		if err != nil {
			log.Printf("Session %s closed: %v", s.key, err)
		} else {
			log.Printf("Session %s closed", s.key)
		}
		if s.hooks.OnClose != nil {
			s.hooks.OnClose(s, err)
		}
	})
}

// setRemover installs the registry removal hook. It reports false when
// the session is already closed.
func (s *Session) setRemover(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == model.StateClosed {
		return false
	}
	s.onRemove = fn
	return true
}

func (s *Session) reveal() {
	if s.hooks.OnReveal != nil {
		s.hooks.OnReveal(s)
	}
}

// Key returns the registry key "<server>:<namespace>".
func (s *Session) Key() string { return s.key }

// Target returns the server the session is connected to.
func (s *Session) Target() model.Target { return s.target }

// Namespace returns the session namespace.
func (s *Session) Namespace() string { return s.namespace }

// Relay returns the session's output relay.
func (s *Session) Relay() *relay.Relay { return s.relay }

// State returns the current interaction state.
func (s *Session) State() model.InteractionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sequence returns the number of commands submitted so far.
func (s *Session) Sequence() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// LastCommand returns the most recently submitted command.
func (s *Session) LastCommand() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommand
}

// RemoteVersion returns the protocol and server versions announced by
// the evaluator's init frame.
func (s *Session) RemoteVersion() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVer, s.remoteVersion
}

// Err returns the error the session was disposed with, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}
