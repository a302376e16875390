// Package messages accumulates user-visible informational and error
// messages for a single request.
package messages

import "sync"

// Kind classifies a message.
type Kind string

const (
	KindMessage Kind = "message"
	KindError   Kind = "error"
)

// Messages is the drained set of pending messages, in the shape the JSON
// envelope carries under system_messages.
type Messages struct {
	Messages []string `json:"messages"`
	Errors   []string `json:"errors"`
}

// Empty reports whether no messages are present.
func (m Messages) Empty() bool {
	return len(m.Messages) == 0 && len(m.Errors) == 0
}

// Accumulator collects messages for one request. It must not be shared
// across requests.
type Accumulator struct {
	mu     sync.Mutex
	msgs   []string
	errors []string
}

// New creates an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Add records text under kind. Unknown kinds are stored as informational.
func (a *Accumulator) Add(kind Kind, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if kind == KindError {
		a.errors = append(a.errors, text)
		return
	}
	a.msgs = append(a.msgs, text)
}

// Info records an informational message.
func (a *Accumulator) Info(text string) { a.Add(KindMessage, text) }

// Error records an error message.
func (a *Accumulator) Error(text string) { a.Add(KindError, text) }

// Count returns the number of pending messages of kind.
func (a *Accumulator) Count(kind Kind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if kind == KindError {
		return len(a.errors)
	}
	return len(a.msgs)
}

// Pending returns a copy of the pending messages without clearing them.
func (a *Accumulator) Pending() Messages {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Messages{
		Messages: append([]string{}, a.msgs...),
		Errors:   append([]string{}, a.errors...),
	}
}

// Drain returns every pending message and clears the accumulator. Both
// slices are non-nil so they encode as JSON arrays.
func (a *Accumulator) Drain() Messages {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := Messages{
		Messages: append([]string{}, a.msgs...),
		Errors:   append([]string{}, a.errors...),
	}
	a.msgs = nil
	a.errors = nil
	return out
}
