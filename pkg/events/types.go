// Package events defines the dispatch outcome event and its publishers.
package events

// ActionDispatchedEvent is emitted once per dispatched request.
type ActionDispatchedEvent struct {
	ID         string `json:"id"`
	Service    string `json:"service,omitempty"`
	Action     string `json:"action"`
	Outcome    string `json:"outcome"`
	UserID     string `json:"user_id,omitempty"`
	Async      bool   `json:"async"`
	ForwardURL string `json:"forward_url,omitempty"`
	Timestamp  string `json:"timestamp"`
}
