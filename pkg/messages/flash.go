package messages

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

const flashLogPrefix = "messages:flash"

// FlashCookie carries pending messages across a redirect.
const FlashCookie = "system_messages"

// SaveFlash drains a into a short-lived cookie so the page reached after the
// redirect can display the messages. Nothing is written when a is empty.
func SaveFlash(w http.ResponseWriter, a *Accumulator) {
	pending := a.Drain()
	if pending.Empty() {
		return
	}
	data, err := json.Marshal(pending)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to encode messages: %v", flashLogPrefix, err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookie,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// LoadFlash moves messages carried by the flash cookie into a and expires
// the cookie. Malformed cookies are dropped.
func LoadFlash(w http.ResponseWriter, r *http.Request, a *Accumulator) {
	c, err := r.Cookie(FlashCookie)
	if err != nil || c.Value == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{Name: FlashCookie, Value: "", Path: "/", MaxAge: -1})

	data, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return
	}
	var carried Messages
	if err := json.Unmarshal(data, &carried); err != nil {
		return
	}
	for _, m := range carried.Messages {
		a.Info(m)
	}
	for _, e := range carried.Errors {
		a.Error(e)
	}
}
