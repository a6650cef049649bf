package model

// PanelCommand identifies a message exchanged with the presentation panel.
type PanelCommand string

const (
	// Bridge -> panel
	PanelLoad       PanelCommand = "load"
	PanelOutput     PanelCommand = "output"
	PanelSetCommand PanelCommand = "setCommand"
	PanelScroll     PanelCommand = "scroll"
	PanelStatus     PanelCommand = "status"
	PanelPong       PanelCommand = "pong"

	// Panel -> bridge
	PanelReady PanelCommand = "ready"
	PanelInput PanelCommand = "input"
	PanelPing  PanelCommand = "ping"
)

// PanelMessage is a message sent to the presentation panel.
type PanelMessage struct {
	Command     PanelCommand `json:"command"`
	Text        *string      `json:"text,omitempty"`
	Placeholder string       `json:"placeholder,omitempty"`
	Load        *LoadPayload `json:"load,omitempty"`
	State       string       `json:"state,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// LoadPayload is the initial snapshot a panel receives after it reports ready.
type LoadPayload struct {
	Server       Target           `json:"server"`
	Namespace    string           `json:"namespace"`
	RegistryRows []map[string]any `json:"registryRows"`
	ModuleRows   []map[string]any `json:"moduleRows"`
	Transcript   string           `json:"transcript"`
}

// PanelClientMessage is a message received from the presentation panel.
type PanelClientMessage struct {
	Command PanelCommand `json:"command"`
	Text    string       `json:"text,omitempty"`
}

// TextPtr returns a pointer to s for PanelMessage.Text.
func TextPtr(s string) *string {
	return &s
}
