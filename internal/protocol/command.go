package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandPlaceholder is shown in the empty input box while the evaluator
// is idle.
const CommandPlaceholder = "Enter an IPM command. Enter '?' for brief help."

const (
	wrapPrefix = `if $zpm("`
	wrapSuffix = `")`
	markerRule = "─"
)

// WrapCommand turns raw command text into an evaluator invocation.
// Embedded double quotes are doubled.
func WrapCommand(command string) string {
	return wrapPrefix + strings.ReplaceAll(command, `"`, `""`) + wrapSuffix
}

// UnwrapCommand reverses WrapCommand. It reports false when input was not
// produced by WrapCommand.
func UnwrapCommand(input string) (string, bool) {
	if !strings.HasPrefix(input, wrapPrefix) || !strings.HasSuffix(input, wrapSuffix) ||
		len(input) < len(wrapPrefix)+len(wrapSuffix) {
		return "", false
	}
	body := input[len(wrapPrefix) : len(input)-len(wrapSuffix)]

	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] != '"' {
			b.WriteByte(body[i])
			continue
		}
		if i+1 >= len(body) || body[i+1] != '"' {
			return "", false
		}
		b.WriteByte('"')
		i++
	}
	return b.String(), true
}

// EchoCommand renders the transcript line for a submitted command.
func EchoCommand(seq int, namespace, command string) string {
	return fmt.Sprintf("\n[%d]zpm:%s> %s\n", seq, namespace, command)
}

// EndOfOutputMarker renders the separator written before a new prompt.
// Its width matches the "[n]zpm:NS>" part of the next echoed command.
func EndOfOutputMarker(seq int, namespace string) string {
	return "\n" + markerRule + "[" + strconv.Itoa(seq) + "]" + strings.Repeat(markerRule, 4+len(namespace))
}

// RunningPlaceholder is shown in the input box while a command executes.
func RunningPlaceholder(command string) string {
	return fmt.Sprintf("Command '%s' is running. If this message persists, check for input question below.", command)
}
