// Package bridge opens evaluator sessions: it resolves the server, loads
// package metadata, connects the terminal and wires the session to its
// panels, transcript log and history record.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remote-agent-terminal/ipmbridge/internal/atelier"
	"github.com/remote-agent-terminal/ipmbridge/internal/buffer"
	"github.com/remote-agent-terminal/ipmbridge/internal/clock"
	"github.com/remote-agent-terminal/ipmbridge/internal/config"
	"github.com/remote-agent-terminal/ipmbridge/internal/logger"
	"github.com/remote-agent-terminal/ipmbridge/internal/model"
	"github.com/remote-agent-terminal/ipmbridge/internal/relay"
	"github.com/remote-agent-terminal/ipmbridge/internal/repository"
	"github.com/remote-agent-terminal/ipmbridge/internal/session"
	"github.com/remote-agent-terminal/ipmbridge/internal/transport"
	"github.com/remote-agent-terminal/ipmbridge/internal/ws"
)

// OpenError is returned by Open. Its message is meant for the user.
type OpenError struct {
	Message string
	Err     error
}

func (e *OpenError) Error() string { return e.Message }

func (e *OpenError) Unwrap() error { return e.Err }

// Options configures a Service.
type Options struct {
	Config *config.Config

	// Repo records session history. Optional.
	Repo *repository.SessionRepository

	// Hubs receives one hub per session. A new manager is used when nil.
	Hubs *ws.HubManager

	// Presenter, when set, also receives every panel message of every
	// session.
	Presenter func(key string) relay.Presenter

	Clock     clock.Clock
	Transport transport.Options
}

// Live describes an open session.
type Live struct {
	Session     *session.Session
	RecordID    string
	LogFilePath string
	CreatedAt   time.Time
}

// Service opens, tracks and closes sessions.
type Service struct {
	cfg       *config.Config
	repo      *repository.SessionRepository
	hubs      *ws.HubManager
	registry  *session.Registry
	presenter func(key string) relay.Presenter
	clock     clock.Clock
	transport transport.Options

	mu   sync.RWMutex
	live map[*session.Session]*Live
}

// New creates a Service.
func New(opts Options) *Service {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Hubs == nil {
		opts.Hubs = ws.NewHubManager()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Service{
		cfg:       opts.Config,
		repo:      opts.Repo,
		hubs:      opts.Hubs,
		registry:  session.NewRegistry(),
		presenter: opts.Presenter,
		clock:     opts.Clock,
		transport: opts.Transport,
		live:      make(map[*session.Session]*Live),
	}
}

// Hubs returns the panel hub manager.
func (s *Service) Hubs() *ws.HubManager {
	return s.hubs
}

// Registry returns the live session registry.
func (s *Service) Registry() *session.Registry {
	return s.registry
}

// Open returns the live session for server and namespace, creating it if
// needed. created reports whether a new session was opened.
func (s *Service) Open(ctx context.Context, server, namespace string) (*Live, bool, error) {
	req := model.OpenSessionRequest{Server: server, Namespace: namespace}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	def, err := s.cfg.Server(server)
	if err != nil {
		return nil, false, &OpenError{Message: fmt.Sprintf("Server definition '%s' not found.", server), Err: err}
	}

	var conn *transport.Conn
	key := model.SessionKey(server, namespace)
	sess, created, err := s.registry.GetOrCreate(ctx, key, func(ctx context.Context) (*session.Session, error) {
		sess, c, err := s.create(ctx, def, namespace)
		conn = c
		return sess, err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		conn.Start()
		log.Printf("Opened session %s", key)
	}

	live, ok := s.lookup(sess)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", model.ErrSessionClosed, key)
	}
	return live, created, nil
}

func (s *Service) create(ctx context.Context, def config.Server, namespace string) (*session.Session, *transport.Conn, error) {
	key := model.SessionKey(def.Name, namespace)
	now := s.clock.Now()
	rec := &model.SessionRecord{
		ID:          uuid.New().String(),
		Key:         key,
		Server:      def.Name,
		Namespace:   namespace,
		Status:      model.SessionStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rec.LogFilePath = filepath.Join(s.cfg.LogDir, rec.ID+".cast")
	if s.repo != nil {
		if err := s.repo.Create(ctx, rec); err != nil {
			log.Printf("Failed to record session %s: %v", key, err)
		}
	}

	fail := func(msg string, err error) (*session.Session, *transport.Conn, error) {
		openErr := &OpenError{Message: msg, Err: err}
		log.Printf("Session %s failed to open: %s: %v", key, msg, err)
		s.updateStatus(rec.ID, model.SessionStatusFailed, fmt.Sprintf("%s %v", msg, err))
		return nil, nil, openErr
	}

	client, err := atelier.NewClient(def.Target(), def.Credentials())
	if err != nil {
		return fail("Failed to create REST client.", err)
	}
	registries, err := client.Registries(ctx, namespace)
	if err != nil {
		return fail(fmt.Sprintf("Failed to retrieve server '%s' registries information for namespace %s.", def.Name, namespace), err)
	}
	modules, err := client.Modules(ctx, namespace)
	if err != nil {
		return fail(fmt.Sprintf("Failed to retrieve server '%s' modules information for namespace %s.", def.Name, namespace), err)
	}

	conn, err := transport.Dial(ctx, def.Target(), client.AuthContext(), s.transport)
	if err != nil {
		return fail(fmt.Sprintf("Failed to connect to the terminal of server '%s' for namespace %s.", def.Name, namespace), err)
	}

	recorder, err := logger.NewRecorder(rec.LogFilePath, fmt.Sprintf("IPM (%s on %s)", namespace, def.Name), s.clock)
	if err != nil {
		conn.Close()
		return fail("Failed to create the session log.", err)
	}

	hub := s.hubs.Replace(key)
	var presenter relay.Presenter = hub
	if s.presenter != nil {
		presenter = multiPresenter{hub, s.presenter(key)}
	}

	r := relay.New(presenter, relay.Options{
		PlaceholderDelay: s.cfg.PlaceholderDelay,
		ScrollInterval:   s.cfg.ScrollInterval,
		Clock:            s.clock,
		Transcript:       buffer.NewTranscript(s.cfg.TranscriptSize),
		Recorder:         recorder,
	})

	sess := session.New(session.Config{
		Target:    def.Target(),
		Namespace: namespace,
		Relay:     r,
		Metadata:  session.Metadata{RegistryRows: registries, ModuleRows: modules},
		Hooks:     s.hooks(rec.ID, hub),
	})

	if err := sess.Attach(conn); err != nil {
		r.Close()
		s.hubs.Remove(key, hub)
		return fail("Failed to attach the terminal connection.", err)
	}

	s.mu.Lock()
	s.live[sess] = &Live{Session: sess, RecordID: rec.ID, LogFilePath: rec.LogFilePath, CreatedAt: now}
	s.mu.Unlock()

	hub.SetOnMessage(func(_ *ws.Client, msg *model.PanelClientMessage) {
		sess.HandleUI(*msg)
	})
	hub.SetOnClose(func() {
		log.Printf("Last panel detached from session %s", key)
	})
	conn.OnMessage(sess.HandleMessage)
	conn.OnClose(sess.ConnectionClosed)

	return sess, conn, nil
}

func (s *Service) hooks(recordID string, hub *ws.Hub) session.Hooks {
	return session.Hooks{
		OnInit: func(sess *session.Session, protocolVersion int, remoteVersion string) {
			log.Printf("Session %s connected to %s (protocol %d)", sess.Key(), remoteVersion, protocolVersion)
			if s.repo != nil {
				if err := s.repo.RecordInit(context.Background(), recordID, protocolVersion, remoteVersion); err != nil {
					log.Printf("Failed to record init for session %s: %v", sess.Key(), err)
				}
			}
		},
		OnCommand: func(sess *session.Session, seq int, command string) {
			if s.repo != nil {
				if err := s.repo.RecordCommand(context.Background(), recordID, command); err != nil {
					log.Printf("Failed to record command for session %s: %v", sess.Key(), err)
				}
			}
		},
		OnReveal: func(sess *session.Session) {
			log.Printf("Session %s already open, revealing", sess.Key())
		},
		OnClose: func(sess *session.Session, err error) {
			status := model.SessionStatusClosed
			errMsg := ""
			if err != nil {
				errMsg = err.Error()
				if errors.Is(err, model.ErrSend) {
					status = model.SessionStatusFailed
				}
			}
			s.updateStatus(recordID, status, errMsg)

			s.mu.Lock()
			delete(s.live, sess)
			s.mu.Unlock()
			s.hubs.Remove(sess.Key(), hub)
		},
	}
}

func (s *Service) updateStatus(recordID string, status model.SessionStatus, errMsg string) {
	if s.repo == nil {
		return
	}
	if err := s.repo.UpdateStatus(context.Background(), recordID, status, errMsg); err != nil {
		log.Printf("Failed to update session %s status: %v", recordID, err)
	}
}

func (s *Service) lookup(sess *session.Session) (*Live, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, ok := s.live[sess]
	return live, ok
}

// Get returns the live session for key.
func (s *Service) Get(key string) (*Live, bool) {
	sess, ok := s.registry.Get(key)
	if !ok {
		return nil, false
	}
	return s.lookup(sess)
}

// List returns the live sessions ordered by key.
func (s *Service) List() []*Live {
	sessions := s.registry.List()
	out := make([]*Live, 0, len(sessions))
	for _, sess := range sessions {
		if live, ok := s.lookup(sess); ok {
			out = append(out, live)
		}
	}
	return out
}

// History returns the most recent session records. It returns an empty
// list when no repository is configured.
func (s *Service) History(ctx context.Context, limit int) ([]*model.SessionRecord, error) {
	if s.repo == nil {
		return []*model.SessionRecord{}, nil
	}
	return s.repo.List(ctx, limit)
}

// Record returns a persisted session record by ID.
func (s *Service) Record(ctx context.Context, id string) (*model.SessionRecord, error) {
	if s.repo == nil {
		return nil, model.ErrSessionNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// Close disposes the live session for key.
func (s *Service) Close(key string) error {
	sess, ok := s.registry.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, key)
	}
	sess.Dispose(nil)
	return nil
}

// Shutdown disposes every live session and closes all panels.
func (s *Service) Shutdown() {
	s.registry.CloseAll()
	s.hubs.Close()
}

// multiPresenter fans panel messages out to several presenters.
type multiPresenter []relay.Presenter

func (m multiPresenter) Present(msg model.PanelMessage) {
	for _, p := range m {
		p.Present(msg)
	}
}
