// Package evaltest provides a fake remote evaluator for tests: an
// httptest server speaking the terminal websocket protocol and the REST
// query endpoint used to collect package metadata.
package evaltest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-agent-terminal/ipmbridge/internal/model"
	"github.com/remote-agent-terminal/ipmbridge/internal/protocol"
)

// SessionCookie is set by the fake REST endpoint.
const SessionCookie = "CSPSESSIONID-SP-52773-UP-api-=abc123; path=/api/; httpOnly"

// Server is a fake evaluator.
type Server struct {
	*httptest.Server

	// RejectStatus, when non-zero, rejects websocket handshakes with it.
	RejectStatus int

	// QueryStatus, when non-zero, is returned by the REST query endpoint.
	QueryStatus int

	// Rows maps a query prefix to the rows it returns.
	Rows map[string][]map[string]any

	upgrader websocket.Upgrader
	frames   chan protocol.Outbound
	connCh   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	cookies []string
	path    string
	queries []string
}

// NewServer starts a fake evaluator and closes it when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{
		Rows:   make(map[string][]map[string]any),
		frames: make(chan protocol.Outbound, 64),
		connCh: make(chan struct{}, 4),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(func() {
		s.CloseConn()
		s.Server.Close()
	})
	return s
}

// Target returns the model.Target addressing this server.
func (s *Server) Target() model.Target {
	return TargetFor(s.URL)
}

// TargetFor returns a model.Target named "fake" for an httptest server URL.
func TargetFor(rawURL string) model.Target {
	u, _ := url.Parse(rawURL)
	port, _ := strconv.Atoi(u.Port())
	return model.Target{Name: "fake", Scheme: u.Scheme, Host: u.Hostname(), Port: port}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/action/query") {
		s.serveQuery(w, r)
		return
	}

	if s.RejectStatus != 0 {
		http.Error(w, http.StatusText(s.RejectStatus), s.RejectStatus)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.cookies = r.Header.Values("Cookie")
	s.path = r.URL.EscapedPath()
	s.mu.Unlock()
	s.connCh <- struct{}{}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame protocol.Outbound
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		s.frames <- frame
	}
}

func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.queries = append(s.queries, body.Query)
	s.mu.Unlock()

	if s.QueryStatus != 0 && s.QueryStatus != http.StatusOK {
		w.WriteHeader(s.QueryStatus)
		return
	}

	rows := []map[string]any{}
	for prefix, match := range s.Rows {
		if strings.HasPrefix(body.Query, prefix) {
			rows = match
		}
	}
	http.SetCookie(w, &http.Cookie{Name: "CSPSESSIONID-SP-52773-UP-api-", Value: "abc123", Path: "/api/", HttpOnly: true})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": map[string]any{"errors": []any{}},
		"result": map[string]any{"content": rows},
	})
}

// WaitConn waits until a websocket client has connected.
func (s *Server) WaitConn(timeout time.Duration) error {
	select {
	case <-s.connCh:
		return nil
	case <-time.After(timeout):
		return errors.New("timed out waiting for connection")
	}
}

// Cookies returns the Cookie headers of the last websocket handshake.
func (s *Server) Cookies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cookies...)
}

// Path returns the escaped request path of the last websocket handshake.
func (s *Server) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Queries returns the REST queries received so far.
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// SendRaw writes one text frame to the connected client.
func (s *Server) SendRaw(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("no client connected")
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Send encodes v as JSON and writes it to the connected client.
func (s *Server) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SendRaw(string(data))
}

// Next returns the next frame sent by the client.
func (s *Server) Next(timeout time.Duration) (protocol.Outbound, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-time.After(timeout):
		return protocol.Outbound{}, errors.New("timed out waiting for frame")
	}
}

// ExpectNone fails unless no frame arrives within wait.
func (s *Server) ExpectNone(wait time.Duration) error {
	select {
	case frame := <-s.frames:
		return errors.New("unexpected " + string(frame.Type) + " frame")
	case <-time.After(wait):
		return nil
	}
}

// CloseConn closes the websocket connection from the server side.
func (s *Server) CloseConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		s.conn.Close()
		s.conn = nil
	}
}
