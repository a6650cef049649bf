package model

import "errors"

var (
	// ErrConnect is returned when the evaluator connection cannot be established.
	ErrConnect = errors.New("connect failed")

	// ErrAuth is returned when the remote rejects the handshake or a REST call as unauthorized.
	ErrAuth = errors.New("authentication rejected")

	// ErrSend is returned when a frame cannot be written to the evaluator connection.
	ErrSend = errors.New("send failed")

	// ErrProtocolDecode is returned for inbound frames that cannot be decoded.
	ErrProtocolDecode = errors.New("malformed protocol frame")

	// ErrInvalidStateSubmission is returned when input arrives while no input is expected.
	ErrInvalidStateSubmission = errors.New("input not accepted in current state")

	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when an operation targets a disposed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrServerNotFound is returned when a server definition is not configured.
	ErrServerNotFound = errors.New("server definition not found")

	// ErrNamespaceRequired is returned when an open request is missing the namespace.
	ErrNamespaceRequired = errors.New("namespace is required")
)
