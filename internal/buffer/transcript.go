// Package buffer provides the bounded transcript kept for each bridge session.
package buffer

import (
	"sync"
	"unicode/utf8"
)

// DefaultTranscriptSize is the default transcript capacity (1MB).
const DefaultTranscriptSize = 1024 * 1024

// Transcript is a thread-safe, bounded, append-only record of session
// output. When full, the oldest text is discarded. Trimming always lands
// on a UTF-8 rune boundary so the retained text never begins with a
// partial character.
//
// A panel that attaches late receives the transcript in its load snapshot.
type Transcript struct {
	data     []byte
	capacity int
	total    int64
	mu       sync.RWMutex
}

// NewTranscript creates a Transcript holding at most capacity bytes.
// A non-positive capacity defaults to DefaultTranscriptSize.
func NewTranscript(capacity int) *Transcript {
	if capacity <= 0 {
		capacity = DefaultTranscriptSize
	}
	return &Transcript{
		data:     make([]byte, 0, min(capacity, 4096)),
		capacity: capacity,
	}
}

// Write appends p, discarding the oldest bytes beyond capacity.
// It implements io.Writer and never fails.
func (t *Transcript) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total += int64(len(p))
	t.data = append(t.data, p...)
	if over := len(t.data) - t.capacity; over > 0 {
		for over < len(t.data) && !utf8.RuneStart(t.data[over]) {
			over++
		}
		t.data = append(t.data[:0], t.data[over:]...)
	}
	return len(p), nil
}

// Append appends text to the transcript.
func (t *Transcript) Append(text string) {
	t.Write([]byte(text))
}

// String returns the retained transcript text.
func (t *Transcript) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return string(t.data)
}

// Len returns the number of retained bytes.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

// Cap returns the capacity of the transcript.
func (t *Transcript) Cap() int {
	return t.capacity
}

// Total returns the number of bytes ever written, including discarded ones.
func (t *Transcript) Total() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// Truncated reports whether any text has been discarded.
func (t *Transcript) Truncated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total > int64(len(t.data))
}

// Clear removes all retained text.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = t.data[:0]
	t.total = 0
}
