package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/action-gateway/pkg/action"
	"github.com/morezero/action-gateway/pkg/messages"
	"github.com/morezero/action-gateway/pkg/registry"
	"github.com/morezero/action-gateway/pkg/session"
)

const routesLogPrefix = "server:routes"

// FieldForward names the request value that overrides the Referer as the
// post-action redirect target.
const FieldForward = "__elgg_forward"

// Routes returns the HTTP handler for the gateway.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHome())
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/actions", s.handleActions)
	r.Get("/system_messages", s.handleSystemMessages)

	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}
		r.Get("/action/*", s.handleAction)
		r.Post("/action/*", s.handleAction)
	})
	return r
}

// handleAction runs one action through the dispatcher.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "*")

	sess, fresh := s.sessions.Load(ctx, r)
	if fresh {
		if err := s.sessions.Save(ctx, w, sess); err != nil {
			slog.Warn(fmt.Sprintf("%s - could not issue session for %s: %v", routesLogPrefix, name, err))
		}
	}

	req := action.NewRequest(name, r, w, sess)
	req.Async = s.shaper.IsAsync(r)
	req.Forwarder = req.Input(FieldForward)
	if req.Forwarder == "" {
		req.Forwarder = r.Referer()
	}

	if _, err := s.disp.Dispatch(session.WithSession(ctx, sess), req); err != nil {
		slog.Error(fmt.Sprintf("%s - dispatch %s: %v", routesLogPrefix, name, err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// healthOutput is the /health response body.
type healthOutput struct {
	Status    string       `json:"status"`
	Checks    healthChecks `json:"checks"`
	Actions   int          `json:"actions"`
	Timestamp string       `json:"timestamp"`
}

type healthChecks struct {
	Database bool `json:"database"`
	Secret   bool `json:"secret"`
	Events   bool `json:"events"`
}

// health checks the collaborators the gateway depends on. Checks for
// components that are not configured report true.
func (s *Server) health(ctx context.Context) *healthOutput {
	h := &healthOutput{
		Status:    "healthy",
		Checks:    healthChecks{Database: true, Secret: true, Events: true},
		Actions:   s.reg.Count(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.repo != nil {
		if err := s.repo.Ping(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - database ping failed: %v", routesLogPrefix, err))
			h.Checks.Database = false
		}
	}
	if v, err := s.secrets.Get(ctx); err != nil || v == "" {
		h.Checks.Secret = false
	}
	if s.nc != nil && !s.nc.IsConnected() {
		h.Checks.Events = false
	}
	if !h.Checks.Database || !h.Checks.Secret || !h.Checks.Events {
		h.Status = "unhealthy"
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout())
	defer cancel()
	h := s.health(ctx)
	w.Header().Set("Content-Type", "application/json")
	if h.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// actionView is one row of the /actions listing.
type actionView struct {
	registry.ActionDescriptor
	Bound  bool `json:"bound"`
	Exempt bool `json:"exempt"`
}

func (s *Server) actionViews() []actionView {
	list := s.reg.List()
	out := make([]actionView, 0, len(list))
	for _, d := range list {
		out = append(out, actionView{
			ActionDescriptor: d,
			Bound:            s.reg.Exists(d.Name),
			Exempt:           s.gate.IsExempt(d.Name),
		})
	}
	return out
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"actions": s.actionViews(),
		"exempt":  s.gate.Exempt(),
	})
}

// handleSystemMessages returns and clears the messages carried across the
// last redirect.
func (s *Server) handleSystemMessages(w http.ResponseWriter, r *http.Request) {
	acc := messages.New()
	messages.LoadFlash(w, r, acc)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(acc.Drain())
}

func (s *Server) healthTimeout() time.Duration {
	if s.cfg.HealthCheckTimeout > 0 {
		return s.cfg.HealthCheckTimeout
	}
	return 5 * time.Second
}

const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Action Gateway</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Action Gateway</h1>
  <p class="meta">Registered actions and gateway health.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Database: {{if .Health.Checks.Database}}OK{{else}}<span class="error">Failed</span>{{end}}</p>
    <p>Site secret: {{if .Health.Checks.Secret}}OK{{else}}<span class="error">Unavailable</span>{{end}}</p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Actions ({{len .Actions}})</h2>
    {{if .Actions}}
    <table>
      <thead><tr><th>Name</th><th>Handler</th><th>Access</th><th>Token</th><th>Bound</th></tr></thead>
      <tbody>
      {{range .Actions}}
      <tr>
        <td>{{.Name}}</td>
        <td>{{.HandlerRef}}</td>
        <td>{{if .AdminOnly}}admin{{else if .Public}}public{{else}}logged in{{end}}</td>
        <td>{{if .Exempt}}exempt{{else}}required{{end}}</td>
        <td>{{if .Bound}}yes{{else}}<span class="error">no</span>{{end}}</td>
      </tr>
      {{end}}
      </tbody>
    </table>
    {{else}}
    <p>No actions registered.</p>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health  *healthOutput
	Actions []actionView
}

// handleHome returns an HTTP handler for the gateway home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout())
		defer cancel()

		data := homeData{Health: s.health(ctx), Actions: s.actionViews()}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", routesLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
