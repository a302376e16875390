package dispatcher

import "fmt"

// Outcome is the dispatch-level result of one request.
type Outcome int

const (
	// Completed means the handler ran.
	Completed Outcome = iota
	// Gated means the authorization gate rejected the request.
	Gated
	ActionUndefined
	ActionUnauthorized
	ActionLoggedOut
	ActionNotFound
	// Skipped means an action hook vetoed execution without an error.
	Skipped
)

var outcomeLabels = map[Outcome]string{
	Completed:          "completed",
	Gated:              "gated",
	ActionUndefined:    "action_undefined",
	ActionUnauthorized: "action_unauthorized",
	ActionLoggedOut:    "action_logged_out",
	ActionNotFound:     "action_not_found",
	Skipped:            "skipped",
}

// String returns the metric/event label for o.
func (o Outcome) String() string {
	if s, ok := outcomeLabels[o]; ok {
		return s
	}
	return "unknown"
}

// Message returns the user-visible error for o and the action name, or ""
// when o does not register one.
func (o Outcome) Message(name string) string {
	switch o {
	case ActionUndefined:
		return fmt.Sprintf("The requested action (%s) was not defined in the system.", name)
	case ActionUnauthorized:
		return "You are unauthorized to perform this action."
	case ActionLoggedOut:
		return "Sorry, you cannot perform this action while logged out."
	case ActionNotFound:
		return fmt.Sprintf("The action handler for %s was not found.", name)
	}
	return ""
}
