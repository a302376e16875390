package commsutil

import "strings"

// SubjectActionDispatched is the default subject carrying every dispatch
// outcome.
const SubjectActionDispatched = "actions.dispatched"

// BuildDispatchSubject builds the per-action subject for name. Path
// separators become tokens; characters NATS treats specially are replaced.
func BuildDispatchSubject(base, name string) string {
	if base == "" {
		base = SubjectActionDispatched
	}
	name = strings.Trim(name, "/")
	if name == "" {
		return base + "._"
	}
	parts := strings.Split(name, "/")
	for i, p := range parts {
		p = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(p)
		if p == "" {
			p = "_"
		}
		parts[i] = p
	}
	return base + "." + strings.Join(parts, ".")
}
