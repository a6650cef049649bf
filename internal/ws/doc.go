// Package ws serves presentation panels over WebSocket.
//
// The package implements:
//   - Hub: the panels attached to one session; implements relay.Presenter
//   - HubManager: one Hub per session key
//   - Handler: upgrades panel connections and pumps messages
//
// Panels receive load, output, setCommand, scroll and status messages and
// send ready, input and ping. Sessions outlive their panels: a panel that
// reconnects sends ready and is reloaded with the transcript so far.
package ws
