package bootstrap

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Directory holds the manifest's users. It is replaced wholesale on reload.
type Directory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewDirectory creates a Directory holding users.
func NewDirectory(users []User) *Directory {
	d := &Directory{}
	d.Replace(users)
	return d
}

// Replace swaps in a new user list.
func (d *Directory) Replace(users []User) {
	next := make(map[string]User, len(users))
	for _, u := range users {
		next[u.Username] = u
	}
	d.mu.Lock()
	d.users = next
	d.mu.Unlock()
}

// Authenticate checks password against the stored bcrypt hash. Unknown
// users and users without a hash never authenticate.
func (d *Directory) Authenticate(username, password string) (User, bool) {
	d.mu.RLock()
	u, ok := d.users[username]
	d.mu.RUnlock()
	if !ok || u.PasswordHash == "" {
		return User{}, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, false
	}
	return u, true
}

// Len returns the number of users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// HashPassword returns a bcrypt hash suitable for a manifest password_hash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s - hash password: %w", logPrefix, err)
	}
	return string(h), nil
}
