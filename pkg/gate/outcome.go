package gate

// Outcome is the result of one gate pass.
type Outcome int

const (
	Valid Outcome = iota
	MissingFields
	TokenInvalid
	TimeWindowInvalid
	VetoedByHook
)

var outcomeNames = map[Outcome]string{
	Valid:             "valid",
	MissingFields:     "missing_fields",
	TokenInvalid:      "token_invalid",
	TimeWindowInvalid: "time_window_invalid",
	VetoedByHook:      "vetoed_by_hook",
}

var outcomeMessages = map[Outcome]string{
	MissingFields:     "Form is missing __token or __ts fields",
	TokenInvalid:      "We encountered an error (token mismatch). This probably means that the page you were using had expired. Please try again.",
	TimeWindowInvalid: "The page you were using has expired. Please refresh and try again.",
	VetoedByHook:      "An extension has prevented this form from being submitted.",
}

// String returns the metric/event label for o.
func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Message returns the user-visible error for o. Valid has none.
func (o Outcome) Message() string {
	return outcomeMessages[o]
}
