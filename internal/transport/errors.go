package transport

import (
	"fmt"

	"github.com/remote-agent-terminal/ipmbridge/internal/model"
)

// Kind classifies transport failures.
type Kind int

const (
	ConnectError Kind = iota + 1
	AuthError
	SendError
)

func (k Kind) String() string {
	switch k {
	case ConnectError:
		return "ConnectError"
	case AuthError:
		return "AuthError"
	case SendError:
		return "SendError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case AuthError:
		return model.ErrAuth
	case SendError:
		return model.ErrSend
	default:
		return model.ErrConnect
	}
}

// Error is a transport failure. It matches both its Kind's sentinel in
// internal/model and the underlying cause with errors.Is.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind.sentinel())
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind.sentinel(), e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}
