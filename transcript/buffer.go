// Package transcript accumulates partial and final recognizer output into one
// growing text buffer.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Buffer is safe for concurrent use. It survives pipeline restarts and is only
// emptied by Clear.
type Buffer struct {
	mu        sync.Mutex
	text      string
	updatedAt time.Time
	now       func() time.Time
}

func NewBuffer() *Buffer {
	return &Buffer{now: time.Now}
}

// NewBufferWithClock is NewBuffer with an injectable clock.
func NewBufferWithClock(now func() time.Time) *Buffer {
	return &Buffer{now: now}
}

// Append joins text onto the buffer with a single separating space. A final
// segment leaves exactly one trailing space so the next utterance starts
// cleanly. Empty or whitespace-only text is a no-op and reports false, even
// when final: a blank final segment adds no boundary space.
func (b *Buffer) Append(text string, final bool) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	current := strings.TrimSpace(b.text)
	if current != "" {
		current += " "
	}
	next := current + text
	if final {
		next += " "
	}
	b.text = next
	b.updatedAt = b.now()
	return true
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	b.text = ""
	b.updatedAt = time.Time{}
	b.mu.Unlock()
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// UpdatedAt is the time of the last effective Append, zero after Clear.
func (b *Buffer) UpdatedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updatedAt
}

// Snapshot returns text and timestamp under one lock.
func (b *Buffer) Snapshot() (string, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text, b.updatedAt
}
