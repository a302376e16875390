package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/morezero/action-gateway/pkg/action"
	"github.com/morezero/action-gateway/pkg/bootstrap"
	"github.com/morezero/action-gateway/pkg/gate"
	"github.com/morezero/action-gateway/pkg/registry"
	"github.com/morezero/action-gateway/pkg/secret"
	"github.com/morezero/action-gateway/pkg/session"
	"github.com/morezero/action-gateway/pkg/token"
)

const builtinTestPrefix = "builtin:builtin_test"

var testNow = time.Unix(1_700_000_000, 0)

func setup(t *testing.T) (*registry.Registry, Deps) {
	t.Helper()
	hash, err := bootstrap.HashPassword("pw")
	if err != nil {
		t.Fatalf("%s - HashPassword: %v", builtinTestPrefix, err)
	}
	provider := secret.Static("site-secret")
	deps := Deps{
		Codec:    token.NewCodec(provider, token.WithClock(func() time.Time { return testNow })),
		Sessions: session.NewManager(session.ManagerParams{Secrets: provider}),
		Users:    bootstrap.NewDirectory([]bootstrap.User{{Username: "ann", ID: "3", Admin: true, PasswordHash: hash}}),
	}
	reg := registry.NewRegistry(registry.NewRegistryParams{})
	bootstrap.NewApplier(bootstrap.ApplierParams{Registry: reg, Gate: gate.New(gate.Params{}), Base: Manifest()}).Apply(nil)
	Bind(reg, deps)
	return reg, deps
}

func run(t *testing.T, reg *registry.Registry, name string, form url.Values, s *session.Session, async bool) (*action.Request, *httptest.ResponseRecorder) {
	t.Helper()
	desc, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("%s - %s not registered", builtinTestPrefix, name)
	}
	h, ok := reg.Handler(desc)
	if !ok {
		t.Fatalf("%s - %s not bound", builtinTestPrefix, name)
	}
	r := httptest.NewRequest(http.MethodPost, "/action/"+name, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	req := action.NewRequest(name, r, rec, s)
	req.Async = async
	if async {
		req.StartBuffering()
	}
	if err := h(context.Background(), req); err != nil {
		t.Fatalf("%s - %s: %v", builtinTestPrefix, name, err)
	}
	return req, rec
}

func TestManifest_Flags(t *testing.T) {
	reg, _ := setup(t)
	for _, name := range []string{RefreshToken, Login, Logout} {
		if !reg.Exists(name) {
			t.Errorf("%s - %s should be registered and bound", builtinTestPrefix, name)
		}
	}
	if d, _ := reg.Lookup(Logout); d.Public {
		t.Errorf("%s - logout must require a logged-in session", builtinTestPrefix)
	}
	if d, _ := reg.Lookup(RefreshToken); !d.Public {
		t.Errorf("%s - refreshtoken must be public", builtinTestPrefix)
	}
}

func TestRefreshToken(t *testing.T) {
	reg, _ := setup(t)
	s := &session.Session{ID: "sid", Salt: "salt"}

	_, rec := run(t, reg, RefreshToken, nil, s, false)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("%s - Content-Type = %q", builtinTestPrefix, ct)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("%s - body: %v", builtinTestPrefix, err)
	}
	if got[token.FieldTimestamp] != float64(testNow.Unix()) {
		t.Errorf("%s - ts = %v", builtinTestPrefix, got[token.FieldTimestamp])
	}
	want, _ := token.Derive(testNow.Unix(), "site-secret", "sid", "salt")
	if got[token.FieldToken] != want {
		t.Errorf("%s - token = %v, want %s", builtinTestPrefix, got[token.FieldToken], want)
	}

	req, rec := run(t, reg, RefreshToken, nil, s, true)
	if rec.Body.Len() != 0 || !strings.Contains(req.DrainBuffer(), want) {
		t.Errorf("%s - async output should be buffered", builtinTestPrefix)
	}
}

func TestLogin(t *testing.T) {
	reg, _ := setup(t)
	anon := &session.Session{ID: "before", Salt: "s"}

	req, _ := run(t, reg, Login, url.Values{FieldUsername: {"ann"}, FieldPassword: {"nope"}}, anon, false)
	if req.ReplacedSession() != nil || len(req.Messages.Drain().Errors) != 1 {
		t.Errorf("%s - bad password must not log in", builtinTestPrefix)
	}

	req, _ = run(t, reg, Login, url.Values{FieldUsername: {"ann"}, FieldPassword: {"pw"}}, anon, false)
	s := req.ReplacedSession()
	if s == nil || s.UserID != "3" || !s.Admin {
		t.Fatalf("%s - session = %+v", builtinTestPrefix, s)
	}
	if s.ID == "before" {
		t.Errorf("%s - login must regenerate the session id", builtinTestPrefix)
	}
	if msgs := req.Messages.Drain(); len(msgs.Messages) != 1 || len(msgs.Errors) != 0 {
		t.Errorf("%s - messages = %+v", builtinTestPrefix, msgs)
	}
}

func TestLogout(t *testing.T) {
	reg, _ := setup(t)
	req, _ := run(t, reg, Logout, nil, &session.Session{ID: "x", Salt: "y", UserID: "3"}, false)
	s := req.ReplacedSession()
	if s == nil || s.LoggedIn() || s.ID == "x" {
		t.Errorf("%s - logout session = %+v", builtinTestPrefix, s)
	}
	if req.UserID() != "" {
		t.Errorf("%s - identity should be anonymous after logout", builtinTestPrefix)
	}
}
