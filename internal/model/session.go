package model

import (
	"fmt"
	"time"
)

// InteractionState is the bridge's belief about what the remote evaluator is doing.
type InteractionState int

const (
	StateUninitialized InteractionState = iota
	StateEvaluating
	StatePrompt
	StateReadBlocked
	StateClosed
)

// String returns the lower-case name used in logs and API responses.
func (s InteractionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEvaluating:
		return "evaluating"
	case StatePrompt:
		return "prompt"
	case StateReadBlocked:
		return "read"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionStatus represents the persisted status of a bridge session.
type SessionStatus string

const (
	SessionStatusOpen   SessionStatus = "open"
	SessionStatusClosed SessionStatus = "closed"
	SessionStatusFailed SessionStatus = "failed"
)

// SessionRecord is the persisted history of one bridge session.
type SessionRecord struct {
	ID              string        `json:"id"`
	Key             string        `json:"key"`
	Server          string        `json:"server"`
	Namespace       string        `json:"namespace"`
	Status          SessionStatus `json:"status"`
	CommandCount    int           `json:"commandCount"`
	LastCommand     string        `json:"lastCommand,omitempty"`
	ProtocolVersion int           `json:"protocolVersion,omitempty"`
	RemoteVersion   string        `json:"remoteVersion,omitempty"`
	LogFilePath     string        `json:"logFilePath"`
	Error           string        `json:"error,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Duration returns how long the session has existed.
func (s *SessionRecord) Duration() time.Duration {
	if s.Status != SessionStatusOpen {
		return s.UpdatedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}

// OpenSessionRequest represents a request to open or focus a session.
type OpenSessionRequest struct {
	Server    string `json:"server" binding:"required"`
	Namespace string `json:"namespace"`
}

// Validate validates the open session request.
func (r *OpenSessionRequest) Validate() error {
	if r.Server == "" {
		return ErrServerNotFound
	}
	if r.Namespace == "" {
		return ErrNamespaceRequired
	}
	return nil
}

// SessionKey returns the registry key for a server and namespace.
func SessionKey(server, namespace string) string {
	return server + ":" + namespace
}
