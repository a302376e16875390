// Package bootstrap loads the action manifest: the actions to register, the
// gate exemptions and the local user directory.
package bootstrap

// SupportedVersions is the semver constraint a manifest version must meet.
const SupportedVersions = "^1"

// Manifest is the on-disk action manifest (YAML or JSON).
type Manifest struct {
	Version string       `yaml:"version" json:"version"`
	Actions []ActionSpec `yaml:"actions" json:"actions"`
	// Exempt extends the configured gate exemption list.
	Exempt []string `yaml:"exempt" json:"exempt"`
	Users  []User   `yaml:"users" json:"users"`
}

// ActionSpec declares one action. An empty Handler uses the registry's
// default reference for Name.
type ActionSpec struct {
	Name      string `yaml:"name" json:"name"`
	Handler   string `yaml:"handler" json:"handler"`
	Public    bool   `yaml:"public" json:"public"`
	AdminOnly bool   `yaml:"admin_only" json:"admin_only"`
}

// User is a local account checked by the login action.
type User struct {
	Username     string `yaml:"username" json:"username"`
	ID           string `yaml:"id" json:"id"`
	Admin        bool   `yaml:"admin" json:"admin"`
	PasswordHash string `yaml:"password_hash" json:"password_hash"`
}
