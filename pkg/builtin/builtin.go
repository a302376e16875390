// Package builtin provides the actions every deployment ships with:
// token refresh, login and logout.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/morezero/action-gateway/pkg/action"
	"github.com/morezero/action-gateway/pkg/bootstrap"
	"github.com/morezero/action-gateway/pkg/registry"
	"github.com/morezero/action-gateway/pkg/session"
	"github.com/morezero/action-gateway/pkg/token"
)

const logPrefix = "builtin:builtin"

// Action names.
const (
	RefreshToken = "security/refreshtoken"
	Login        = "login"
	Logout       = "logout"
)

// Form fields read by the login action.
const (
	FieldUsername = "username"
	FieldPassword = "password"
)

// User-visible messages.
const (
	msgLoginOK     = "You have been logged in."
	msgLoginFailed = "We could not log you in. Please check your username and password."
	msgLogoutOK    = "You have been logged out."
)

// Authenticator checks login credentials.
type Authenticator interface {
	Authenticate(username, password string) (bootstrap.User, bool)
}

// Deps are the collaborators the built-in actions need.
type Deps struct {
	Codec    *token.Codec
	Sessions *session.Manager
	Users    Authenticator
}

// Manifest declares the built-in actions. A manifest file may override
// their flags by redeclaring the same names.
func Manifest() *bootstrap.Manifest {
	return &bootstrap.Manifest{
		Version: "1.0.0",
		Actions: []bootstrap.ActionSpec{
			{Name: RefreshToken, Public: true},
			{Name: Login, Public: true},
			{Name: Logout},
		},
	}
}

// Bind attaches the built-in handlers to their default references in reg.
// Registration itself comes from Manifest via the bootstrap applier.
func Bind(reg *registry.Registry, deps Deps) {
	reg.Bind(reg.DefaultHandlerRef(RefreshToken), refreshToken(deps))
	reg.Bind(reg.DefaultHandlerRef(Login), login(deps))
	reg.Bind(reg.DefaultHandlerRef(Logout), logout(deps))
}

func refreshToken(deps Deps) action.Handler {
	return func(ctx context.Context, req *action.Request) error {
		if req.Session == nil {
			return fmt.Errorf("%s - refreshtoken without session", logPrefix)
		}
		tok, err := deps.Codec.Generate(ctx, req.Session.ID, req.Session.Salt)
		if err != nil {
			return fmt.Errorf("%s - generate token: %w", logPrefix, err)
		}
		if !req.Async && req.Response != nil {
			req.Response.Header().Set("Content-Type", "application/json")
		}
		return json.NewEncoder(req.Output).Encode(tok)
	}
}

func login(deps Deps) action.Handler {
	return func(_ context.Context, req *action.Request) error {
		username := req.Input(FieldUsername)
		user, ok := deps.Users.Authenticate(username, req.Input(FieldPassword))
		if !ok {
			slog.Info(fmt.Sprintf("%s - failed login for %q", logPrefix, username))
			req.Messages.Error(msgLoginFailed)
			return nil
		}
		req.ReplaceSession(deps.Sessions.Login(user.ID, user.Admin))
		req.Messages.Info(msgLoginOK)
		slog.Info(fmt.Sprintf("%s - user %s logged in", logPrefix, user.ID))
		return nil
	}
}

func logout(deps Deps) action.Handler {
	return func(_ context.Context, req *action.Request) error {
		prev := req.UserID()
		req.ReplaceSession(deps.Sessions.Logout())
		req.Messages.Info(msgLogoutOK)
		slog.Info(fmt.Sprintf("%s - user %s logged out", logPrefix, prev))
		return nil
	}
}
