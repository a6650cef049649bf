// Package protocol defines the JSON frames exchanged with the remote
// evaluator's terminal endpoint and the pure text helpers the session
// bridge uses around them: command wrapping, prompt echo, and the
// end-of-output marker.
package protocol
