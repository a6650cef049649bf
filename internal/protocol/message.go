package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/remote-agent-terminal/ipmbridge/internal/model"
)

// InboundType is the discriminator of frames sent by the remote evaluator.
type InboundType string

const (
	TypeInit   InboundType = "init"
	TypePrompt InboundType = "prompt"
	TypeRead   InboundType = "read"
	TypeError  InboundType = "error"
	TypeOutput InboundType = "output"
	TypeColor  InboundType = "color"
)

// OutboundType is the discriminator of frames sent to the remote evaluator.
type OutboundType string

const (
	TypeConfig       OutboundType = "config"
	TypePromptSubmit OutboundType = "prompt"
	TypeReadSubmit   OutboundType = "read"
)

// Inbound is a decoded frame from the remote evaluator.
type Inbound struct {
	Type InboundType `json:"type"`

	// Text is present for all types but read and init.
	Text *string `json:"text,omitempty"`

	// Protocol and Version are only present for init.
	Protocol int    `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`
}

// TextOrEmpty returns the text payload, or "" when absent.
func (m Inbound) TextOrEmpty() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

// Outbound is a frame sent to the remote evaluator.
type Outbound struct {
	Type      OutboundType `json:"type"`
	Namespace string       `json:"namespace,omitempty"`
	RawMode   *bool        `json:"rawMode,omitempty"`
	Input     *string      `json:"input,omitempty"`
}

// Config builds the session configuration frame. Raw mode is always
// requested: the presentation layer renders plain text only.
func Config(namespace string) Outbound {
	raw := true
	return Outbound{Type: TypeConfig, Namespace: namespace, RawMode: &raw}
}

// PromptSubmit builds a command frame carrying the wrapped command text.
func PromptSubmit(command string) Outbound {
	input := WrapCommand(command)
	return Outbound{Type: TypePromptSubmit, Input: &input}
}

// ReadSubmit builds a raw answer frame for a pending read request.
func ReadSubmit(answer string) Outbound {
	return Outbound{Type: TypeReadSubmit, Input: &answer}
}

// InputOrEmpty returns the input payload, or "" when absent.
func (m Outbound) InputOrEmpty() string {
	if m.Input == nil {
		return ""
	}
	return *m.Input
}

// Encode serializes an outbound frame.
func Encode(m Outbound) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses one inbound frame. Undecodable payloads and unknown
// discriminators return an error wrapping model.ErrProtocolDecode.
func Decode(data []byte) (Inbound, error) {
	var m Inbound
	if err := json.Unmarshal(data, &m); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", model.ErrProtocolDecode, err)
	}
	switch m.Type {
	case TypeInit, TypePrompt, TypeRead, TypeError, TypeOutput, TypeColor:
		return m, nil
	default:
		return Inbound{}, fmt.Errorf("%w: unknown type %q", model.ErrProtocolDecode, m.Type)
	}
}
