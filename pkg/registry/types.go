// Package registry maps action names to handler descriptors.
package registry

// ActionDescriptor describes one registered action. Descriptors are
// immutable once stored; re-registration stores a new value.
type ActionDescriptor struct {
	Name       string `json:"name"`
	HandlerRef string `json:"handler"`
	Public     bool   `json:"public"`
	AdminOnly  bool   `json:"admin_only"`
}

// DuplicatePolicy decides what happens when a name is registered twice.
type DuplicatePolicy string

const (
	// DuplicateReplace keeps the latest registration.
	DuplicateReplace DuplicatePolicy = "replace"
	// DuplicateReject keeps the first registration and makes later
	// Register calls for the same name return false.
	DuplicateReject DuplicatePolicy = "reject"
)
