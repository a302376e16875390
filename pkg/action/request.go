// Package action defines the per-request state handed through the dispatch
// pipeline and the handler signature actions are implemented with.
package action

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/morezero/action-gateway/pkg/messages"
	"github.com/morezero/action-gateway/pkg/session"
)

// Handler performs one action. Errors returned by a handler are logged by
// the dispatcher but are otherwise the handler's own concern.
type Handler func(ctx context.Context, req *Request) error

// Identity answers who is calling.
type Identity interface {
	CurrentUserID() string
	IsAdmin() bool
}

// Request is the transient state of one dispatch.
type Request struct {
	// Name is the normalized action name.
	Name string
	// Forwarder is the redirect target. Handlers may change it.
	Forwarder string
	// CurrentURL is the URL the caller requested.
	CurrentURL string

	HTTP *http.Request
	// Response is the transport writer. Only the final response stage
	// (redirect or envelope) writes to it directly.
	Response http.ResponseWriter
	Session  *session.Session
	Identity Identity
	Messages *messages.Accumulator

	// Async is set when the caller expects a JSON envelope.
	Async bool
	// Output receives anything the handler writes directly.
	Output io.Writer

	buffer     *bytes.Buffer
	direct     *trackingWriter
	newSession *session.Session
}

// trackingWriter remembers whether anything reached the transport.
type trackingWriter struct {
	w     io.Writer
	wrote bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.wrote = true
	}
	return t.w.Write(p)
}

// NewRequest builds a Request for an HTTP call. Output writes through to w
// until StartBuffering is called.
func NewRequest(name string, r *http.Request, w http.ResponseWriter, s *session.Session) *Request {
	req := &Request{
		Name:     name,
		HTTP:     r,
		Response: w,
		Session:  s,
		Messages: messages.New(),
	}
	if w != nil {
		req.direct = &trackingWriter{w: w}
		req.Output = req.direct
	}
	if s != nil {
		req.Identity = s
	}
	if r != nil {
		req.CurrentURL = r.URL.String()
	}
	return req
}

// StartBuffering redirects Output into an in-memory buffer. It is a no-op
// when buffering already started.
func (r *Request) StartBuffering() {
	if r.buffer != nil {
		return
	}
	r.buffer = &bytes.Buffer{}
	r.Output = r.buffer
}

// WroteDirect reports whether the handler wrote output straight to the
// transport.
func (r *Request) WroteDirect() bool { return r.direct != nil && r.direct.wrote }

// Buffering reports whether Output is being captured.
func (r *Request) Buffering() bool { return r.buffer != nil }

// DrainBuffer returns and clears captured output.
func (r *Request) DrainBuffer() string {
	if r.buffer == nil {
		return ""
	}
	out := r.buffer.String()
	r.buffer.Reset()
	return out
}

// ReplaceSession asks the transport to persist s instead of the session the
// request arrived with. Used by login and logout.
func (r *Request) ReplaceSession(s *session.Session) {
	r.newSession = s
	r.Session = s
	r.Identity = s
}

// ReplacedSession returns the session set by ReplaceSession, if any.
func (r *Request) ReplacedSession() *session.Session { return r.newSession }

// UserID returns the caller's user id, or "" when anonymous.
func (r *Request) UserID() string {
	if r.Identity == nil {
		return ""
	}
	return r.Identity.CurrentUserID()
}

// IsAdmin reports whether the caller is a logged-in administrator.
func (r *Request) IsAdmin() bool {
	return r.Identity != nil && r.Identity.IsAdmin()
}

// Input returns a request value by name, looking at form and query values
// first and then at the X-Action-<Name> header form of the field.
func (r *Request) Input(name string) string {
	if r.HTTP == nil {
		return ""
	}
	if v := r.HTTP.FormValue(name); v != "" {
		return v
	}
	return r.HTTP.Header.Get(HeaderFor(name))
}

// HeaderFor maps a field name such as "__elgg_token" to its header form
// "X-Action-Token".
func HeaderFor(field string) string {
	trimmed := strings.TrimLeft(field, "_")
	if i := strings.LastIndex(trimmed, "_"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return ""
	}
	return "X-Action-" + strings.ToUpper(trimmed[:1]) + trimmed[1:]
}
