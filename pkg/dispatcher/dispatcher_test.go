package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/morezero/action-gateway/pkg/action"
	"github.com/morezero/action-gateway/pkg/events"
	"github.com/morezero/action-gateway/pkg/gate"
	"github.com/morezero/action-gateway/pkg/hooks"
	"github.com/morezero/action-gateway/pkg/messages"
	"github.com/morezero/action-gateway/pkg/registry"
	"github.com/morezero/action-gateway/pkg/secret"
	"github.com/morezero/action-gateway/pkg/session"
	"github.com/morezero/action-gateway/pkg/shaper"
	"github.com/morezero/action-gateway/pkg/token"
)

const dispatcherTestPrefix = "dispatcher:dispatcher_test"

const testSite = "http://site.example/"

var testNow = time.Unix(1_700_000_000, 0)

type fixture struct {
	reg    *registry.Registry
	bus    *hooks.Bus
	disp   *Dispatcher
	mu     sync.Mutex
	events []*events.ActionDispatchedEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg: registry.NewRegistry(registry.NewRegistryParams{}),
		bus: hooks.NewBus(),
	}
	shaper.New(shaper.Config{}).Register(f.bus)
	codec := token.NewCodec(secret.Static("site-secret"), token.WithClock(func() time.Time { return testNow }))
	f.disp = New(Params{
		Registry: f.reg,
		Gate:     gate.New(gate.Params{Codec: codec, Bus: f.bus}),
		Bus:      f.bus,
		SiteURL:  testSite,
		Service:  "test",
		Now:      func() time.Time { return testNow },
		Publisher: events.NewCallbackPublisher(func(_ context.Context, ev *events.ActionDispatchedEvent) error {
			f.mu.Lock()
			f.events = append(f.events, ev)
			f.mu.Unlock()
			return nil
		}),
	})
	return f
}

// request builds a dispatch request. tokens adds valid token fields for the
// session; userID and admin set identity.
func request(t *testing.T, name string, tokens bool, userID string, admin bool) (*action.Request, *httptest.ResponseRecorder) {
	t.Helper()
	s := &session.Session{ID: "sess-1", Salt: "salt-1", UserID: userID, Admin: admin}
	form := url.Values{}
	if tokens {
		ts := testNow.Unix()
		tok, err := token.Derive(ts, "site-secret", s.ID, s.Salt)
		if err != nil {
			t.Fatalf("%s - Derive: %v", dispatcherTestPrefix, err)
		}
		form.Set(token.FieldToken, tok)
		form.Set(token.FieldTimestamp, strconv.FormatInt(ts, 10))
	}
	r := httptest.NewRequest(http.MethodPost, testSite+"action/"+name, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	return action.NewRequest(name, r, rec, s), rec
}

func flashOf(t *testing.T, rec *httptest.ResponseRecorder) messages.Messages {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	a := messages.New()
	messages.LoadFlash(httptest.NewRecorder(), r, a)
	return a.Drain()
}

func TestSanitizeForwarder(t *testing.T) {
	tests := []struct {
		in, site, want string
	}{
		{"http://site.example/@path/", "http://site.example/", "path/"},
		{"/blog/view/1", "http://site.example/", "blog/view/1"},
		{"http://evil.example/x", "http://site.example/", "evil.example/x"},
		{"//path", "", "/path"},
		{"user@evil", "", "userevil"},
		{"", "http://site.example/", ""},
	}
	for _, tt := range tests {
		if got := SanitizeForwarder(tt.in, tt.site); got != tt.want {
			t.Errorf("%s - SanitizeForwarder(%q, %q) = %q, want %q", dispatcherTestPrefix, tt.in, tt.site, got, tt.want)
		}
	}
}

func TestResolveForward(t *testing.T) {
	tests := []struct {
		target, site, want string
	}{
		{"blog/view/1", "http://site.example/", "http://site.example/blog/view/1"},
		{"", "http://site.example/", "http://site.example/"},
		{"https://other.example/", "http://site.example/", "https://other.example/"},
		{"path", "", "/path"},
	}
	for _, tt := range tests {
		if got := ResolveForward(tt.target, tt.site); got != tt.want {
			t.Errorf("%s - ResolveForward(%q, %q) = %q, want %q", dispatcherTestPrefix, tt.target, tt.site, got, tt.want)
		}
	}
}

func TestDispatch_Undefined(t *testing.T) {
	f := newFixture(t)
	req, rec := request(t, "nope", true, "1", false)
	res, err := f.disp.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("%s - Dispatch: %v", dispatcherTestPrefix, err)
	}
	if res.Outcome != ActionUndefined {
		t.Errorf("%s - Outcome = %s, want %s", dispatcherTestPrefix, res.Outcome, ActionUndefined)
	}
	if rec.Code != http.StatusFound {
		t.Errorf("%s - status = %d, want 302", dispatcherTestPrefix, rec.Code)
	}
	flash := flashOf(t, rec)
	if len(flash.Errors) != 1 || !strings.Contains(flash.Errors[0], "nope") {
		t.Errorf("%s - errors = %v, want exactly one undefined message", dispatcherTestPrefix, flash.Errors)
	}
}

func TestDispatch_AdminCheckedBeforeLogin(t *testing.T) {
	f := newFixture(t)
	var ran bool
	f.reg.RegisterFunc("admin/site", false, true, func(context.Context, *action.Request) error {
		ran = true
		return nil
	})

	req, rec := request(t, "admin/site", true, "5", false)
	res, _ := f.disp.Dispatch(context.Background(), req)
	if res.Outcome != ActionUnauthorized {
		t.Errorf("%s - Outcome = %s, want %s", dispatcherTestPrefix, res.Outcome, ActionUnauthorized)
	}
	if ran {
		t.Errorf("%s - handler must not run", dispatcherTestPrefix)
	}
	if errs := flashOf(t, rec).Errors; len(errs) != 1 || errs[0] != ActionUnauthorized.Message("admin/site") {
		t.Errorf("%s - errors = %v", dispatcherTestPrefix, errs)
	}

	// Anonymous callers also get the admin message first.
	req, _ = request(t, "admin/site", true, "", false)
	if res, _ := f.disp.Dispatch(context.Background(), req); res.Outcome != ActionUnauthorized {
		t.Errorf("%s - anonymous Outcome = %s, want %s", dispatcherTestPrefix, res.Outcome, ActionUnauthorized)
	}
}

func TestDispatch_LoggedOut(t *testing.T) {
	f := newFixture(t)
	f.reg.RegisterFunc("blog/save", false, false, func(context.Context, *action.Request) error { return nil })

	req, _ := request(t, "blog/save", true, "", false)
	if res, _ := f.disp.Dispatch(context.Background(), req); res.Outcome != ActionLoggedOut {
		t.Errorf("%s - Outcome = %s, want %s", dispatcherTestPrefix, res.Outcome, ActionLoggedOut)
	}
}

func TestDispatch_HandlerNotBound(t *testing.T) {
	f := newFixture(t)
	f.reg.Register("broken", true, "", false)

	req, rec := request(t, "broken", true, "", false)
	res, _ := f.disp.Dispatch(context.Background(), req)
	if res.Outcome != ActionNotFound {
		t.Errorf("%s - Outcome = %s, want %s", dispatcherTestPrefix, res.Outcome, ActionNotFound)
	}
	if n := len(flashOf(t, rec).Errors); n != 1 {
		t.Errorf("%s - %d errors, want 1", dispatcherTestPrefix, n)
	}
}

func TestDispatch_CompletesAndRedirects(t *testing.T) {
	f := newFixture(t)
	f.reg.RegisterFunc("blog/save/", false, false, func(_ context.Context, req *action.Request) error {
		req.Messages.Info("Saved")
		req.Forwarder = "blog/view/1"
		return nil
	})

	req, rec := request(t, "blog/save/", true, "9", false)
	req.Forwarder = "http://site.example/@ignored"
	res, _ := f.disp.Dispatch(context.Background(), req)
	if res.Outcome != Completed {
		t.Fatalf("%s - Outcome = %s", dispatcherTestPrefix, res.Outcome)
	}
	if loc := rec.Header().Get("Location"); loc != "http://site.example/blog/view/1" {
		t.Errorf("%s - Location = %q", dispatcherTestPrefix, loc)
	}
	if msgs := flashOf(t, rec).Messages; len(msgs) != 1 || msgs[0] != "Saved" {
		t.Errorf("%s - flash = %v", dispatcherTestPrefix, msgs)
	}

	if len(f.events) != 1 {
		t.Fatalf("%s - %d events published", dispatcherTestPrefix, len(f.events))
	}
	ev := f.events[0]
	if ev.Action != "blog/save" || ev.Outcome != "completed" || ev.UserID != "9" || ev.Service != "test" || ev.ID == "" {
		t.Errorf("%s - event = %+v", dispatcherTestPrefix, ev)
	}
}

func TestDispatch_GateFailureSkipsHandler(t *testing.T) {
	f := newFixture(t)
	var ran bool
	f.reg.RegisterFunc("blog/save", true, false, func(context.Context, *action.Request) error {
		ran = true
		return nil
	})
	var hookRan bool
	f.bus.Register(hooks.TopicAction, "blog/save", func(context.Context, *hooks.Event) error {
		hookRan = true
		return nil
	})

	req, rec := request(t, "blog/save", false, "1", false)
	res, _ := f.disp.Dispatch(context.Background(), req)
	if res.Outcome != Gated || res.Gate != gate.MissingFields {
		t.Errorf("%s - result = %+v", dispatcherTestPrefix, res)
	}
	if ran || hookRan {
		t.Errorf("%s - gate failure must skip hook and handler", dispatcherTestPrefix)
	}
	if n := len(flashOf(t, rec).Errors); n != 1 {
		t.Errorf("%s - %d errors, want 1", dispatcherTestPrefix, n)
	}
	if f.events[0].Outcome != "missing_fields" {
		t.Errorf("%s - event outcome = %q", dispatcherTestPrefix, f.events[0].Outcome)
	}
}

func TestDispatch_ExemptBypassesGate(t *testing.T) {
	f := newFixture(t)
	var ran bool
	f.reg.RegisterFunc("logout", true, false, func(context.Context, *action.Request) error {
		ran = true
		return nil
	})

	req, _ := request(t, "logout", false, "", false)
	res, _ := f.disp.Dispatch(context.Background(), req)
	if res.Outcome != Completed || !ran {
		t.Errorf("%s - exempt action did not complete: %+v ran=%v", dispatcherTestPrefix, res, ran)
	}
}

func TestDispatch_ActionHookVetoIsSilent(t *testing.T) {
	f := newFixture(t)
	var ran bool
	f.reg.RegisterFunc("blog/save", true, false, func(context.Context, *action.Request) error {
		ran = true
		return nil
	})
	f.bus.Register(hooks.TopicAction, "blog/save", func(_ context.Context, ev *hooks.Event) error {
		ev.Result = false
		return nil
	})

	req, rec := request(t, "blog/save", true, "", false)
	res, _ := f.disp.Dispatch(context.Background(), req)
	if res.Outcome != Skipped || ran {
		t.Errorf("%s - result = %+v ran=%v", dispatcherTestPrefix, res, ran)
	}
	if flash := flashOf(t, rec); !flash.Empty() {
		t.Errorf("%s - veto must not register messages: %+v", dispatcherTestPrefix, flash)
	}
}

func TestDispatch_AsyncEnvelope(t *testing.T) {
	f := newFixture(t)
	f.reg.RegisterFunc("blog/save", true, false, func(_ context.Context, req *action.Request) error {
		_, _ = req.Output.Write([]byte(`{"guid":12}`))
		req.Messages.Info("Saved")
		return nil
	})

	tests := []struct {
		name       string
		action     string
		tokens     bool
		wantStatus float64
	}{
		{"success", "blog/save", true, 0},
		{"gate failure", "blog/save", false, -1},
		{"undefined", "missing", true, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := request(t, tt.action, tt.tokens, "", false)
			req.Async = true
			res, _ := f.disp.Dispatch(context.Background(), req)
			if !res.Enveloped {
				t.Fatalf("%s - expected envelope", dispatcherTestPrefix)
			}
			if rec.Code != http.StatusOK || rec.Header().Get("Location") != "" {
				t.Errorf("%s - async must not redirect: %d %q", dispatcherTestPrefix, rec.Code, rec.Header().Get("Location"))
			}
			var env map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatalf("%s - body: %v", dispatcherTestPrefix, err)
			}
			if env["status"] != tt.wantStatus {
				t.Errorf("%s - status = %v, want %v", dispatcherTestPrefix, env["status"], tt.wantStatus)
			}
			sys, _ := env["system_messages"].(map[string]any)
			errs, _ := sys["errors"].([]any)
			if tt.wantStatus == 0 && len(errs) != 0 || tt.wantStatus == -1 && len(errs) != 1 {
				t.Errorf("%s - errors = %v", dispatcherTestPrefix, errs)
			}
		})
	}
}

func TestDispatch_DirectOutputSuppressesRedirect(t *testing.T) {
	f := newFixture(t)
	f.reg.RegisterFunc("file/download", true, false, func(_ context.Context, req *action.Request) error {
		_, err := req.Output.Write([]byte("file body"))
		return err
	})

	req, rec := request(t, "file/download", false, "", false)
	if _, err := f.disp.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("%s - Dispatch: %v", dispatcherTestPrefix, err)
	}
	if rec.Body.String() != "file body" || rec.Header().Get("Location") != "" {
		t.Errorf("%s - body=%q location=%q", dispatcherTestPrefix, rec.Body.String(), rec.Header().Get("Location"))
	}
}

func TestDispatch_BeforeRespondRunsBeforeWrite(t *testing.T) {
	f := newFixture(t)
	f.disp.respond = func(_ context.Context, req *action.Request) {
		req.Response.Header().Set("X-Session", "saved")
	}
	req, rec := request(t, "missing", true, "", false)
	req.Async = true
	_, _ = f.disp.Dispatch(context.Background(), req)
	if rec.Header().Get("X-Session") != "saved" {
		t.Errorf("%s - BeforeRespond header lost", dispatcherTestPrefix)
	}
}

func TestDispatch_NilRequest(t *testing.T) {
	f := newFixture(t)
	if _, err := f.disp.Dispatch(context.Background(), nil); err == nil {
		t.Errorf("%s - expected error", dispatcherTestPrefix)
	}
}

func TestOutcome_Labels(t *testing.T) {
	for o := Completed; o <= Skipped; o++ {
		if o.String() == "unknown" {
			t.Errorf("%s - outcome %d has no label", dispatcherTestPrefix, o)
		}
	}
	for _, o := range []Outcome{ActionUndefined, ActionUnauthorized, ActionLoggedOut, ActionNotFound} {
		if o.Message("x") == "" {
			t.Errorf("%s - %s has no message", dispatcherTestPrefix, o)
		}
	}
	if Completed.Message("x") != "" {
		t.Errorf("%s - Completed must not carry a message", dispatcherTestPrefix)
	}
}

func TestDispatch_GateFailureForwardsToFrontPage(t *testing.T) {
	f := newFixture(t)
	f.reg.RegisterFunc("blog/save", true, false, func(context.Context, *action.Request) error { return nil })

	req, rec := request(t, "blog/save", false, "1", false)
	req.Forwarder = "http://site.example/blog/edit/5"
	res, _ := f.disp.Dispatch(context.Background(), req)

	if res.Forward != "" {
		t.Errorf("%s - Forward = %q, want empty", dispatcherTestPrefix, res.Forward)
	}
	if loc := rec.Header().Get("Location"); loc != testSite {
		t.Errorf("%s - Location = %q, want %q", dispatcherTestPrefix, loc, testSite)
	}
	if f.events[0].ForwardURL != "" {
		t.Errorf("%s - event forward_url = %q, want empty", dispatcherTestPrefix, f.events[0].ForwardURL)
	}
}

func TestDispatch_GateFailureAsyncHasEmptyForward(t *testing.T) {
	f := newFixture(t)
	f.reg.RegisterFunc("blog/save", true, false, func(context.Context, *action.Request) error { return nil })

	req, rec := request(t, "blog/save", false, "1", false)
	req.Async = true
	req.Forwarder = "http://site.example/blog/edit/5"
	if _, err := f.disp.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("%s - Dispatch: %v", dispatcherTestPrefix, err)
	}

	var env map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s - body: %v", dispatcherTestPrefix, err)
	}
	if env["forward_url"] != "" {
		t.Errorf("%s - forward_url = %v, want empty", dispatcherTestPrefix, env["forward_url"])
	}
	if env["status"] != float64(-1) {
		t.Errorf("%s - status = %v, want -1", dispatcherTestPrefix, env["status"])
	}
}

func TestDispatch_ValidRequestKeepsSanitizedForward(t *testing.T) {
	f := newFixture(t)
	f.reg.RegisterFunc("blog/save", true, false, func(context.Context, *action.Request) error { return nil })

	req, rec := request(t, "blog/save", true, "1", false)
	req.Forwarder = "http://site.example/blog/edit/5"
	res, _ := f.disp.Dispatch(context.Background(), req)

	if res.Forward != "blog/edit/5" {
		t.Errorf("%s - Forward = %q, want blog/edit/5", dispatcherTestPrefix, res.Forward)
	}
	if loc := rec.Header().Get("Location"); loc != testSite+"blog/edit/5" {
		t.Errorf("%s - Location = %q", dispatcherTestPrefix, loc)
	}
}

func TestDispatch_DirectOutputLogsDroppedMessages(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	f := newFixture(t)
	f.reg.RegisterFunc("file/download", true, false, func(_ context.Context, req *action.Request) error {
		req.Messages.Error("partial file")
		_, err := req.Output.Write([]byte("data"))
		return err
	})

	req, rec := request(t, "file/download", false, "", false)
	if _, err := f.disp.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("%s - Dispatch: %v", dispatcherTestPrefix, err)
	}
	if rec.Code != http.StatusOK || len(rec.Result().Cookies()) != 0 {
		t.Errorf("%s - code=%d cookies=%d, want 200 and none", dispatcherTestPrefix, rec.Code, len(rec.Result().Cookies()))
	}
	if !strings.Contains(logs.String(), "dropping 0 messages and 1 errors") {
		t.Errorf("%s - dropped messages not logged: %q", dispatcherTestPrefix, logs.String())
	}
	if n := req.Messages.Count(messages.KindError); n != 0 {
		t.Errorf("%s - %d errors still pending", dispatcherTestPrefix, n)
	}
}

func TestCurrentPageURL(t *testing.T) {
	tests := []struct {
		in, site, want string
	}{
		{"/action/blog/save?x=1", "http://site.example/", "http://site.example/action/blog/save?x=1"},
		{"/action/blog/save", "https://site.example/sub/", "https://site.example/action/blog/save"},
		{"http://other.example/a", "http://site.example/", "http://other.example/a"},
		{"/action/x", "", "/action/x"},
	}
	for _, tt := range tests {
		if got := CurrentPageURL(tt.in, tt.site); got != tt.want {
			t.Errorf("%s - CurrentPageURL(%q, %q) = %q, want %q", dispatcherTestPrefix, tt.in, tt.site, got, tt.want)
		}
	}
}

func TestDispatch_EnvelopeCurrentURLIsAbsolute(t *testing.T) {
	f := newFixture(t)
	f.reg.RegisterFunc("blog/save", true, false, func(context.Context, *action.Request) error { return nil })

	req, rec := request(t, "blog/save", true, "", false)
	req.Async = true
	req.CurrentURL = "/action/blog/save"
	if _, err := f.disp.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("%s - Dispatch: %v", dispatcherTestPrefix, err)
	}
	var env map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s - body: %v", dispatcherTestPrefix, err)
	}
	if env["current_url"] != testSite+"action/blog/save" {
		t.Errorf("%s - current_url = %v", dispatcherTestPrefix, env["current_url"])
	}
}
