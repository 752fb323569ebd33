// Package routegate protects portal views by role. While the session is still
// being read from storage it renders a neutral loading page rather than a
// denial.
package routegate

import (
	"context"
	"net/http"

	"github.com/jobportal/identity/internal/config"
	"github.com/jobportal/identity/internal/guard"
	"github.com/jobportal/identity/internal/session"
	"github.com/jobportal/identity/internal/user"
	"go.uber.org/zap"
)

// Kind is what the gate does with a request
type Kind int

const (
	Loading Kind = iota
	Redirect
	Render
)

func (k Kind) String() string {
	switch k {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	case Render:
		return "render"
	default:
		return "unknown"
	}
}

// Outcome is a gate decision. Target is set for Redirect.
type Outcome struct {
	Kind     Kind
	Target   string
	Decision guard.Decision
}

// Sessions provides the current session
type Sessions interface {
	Snapshot() session.Snapshot
}

// Gate applies the authorization guard to portal views
type Gate struct {
	sessions Sessions
	routes   config.RoutesConfig
	logger   *zap.Logger
}

// New creates a gate over sessions
func New(sessions Sessions, routes config.RoutesConfig, logger *zap.Logger) *Gate {
	return &Gate{sessions: sessions, routes: routes, logger: logger}
}

// Decide maps a snapshot to an outcome for a view requiring roles
func (g *Gate) Decide(snap session.Snapshot, roles ...guard.Role) Outcome {
	if snap.Loading() {
		return Outcome{Kind: Loading}
	}

	decision := guard.Authorize(snap.Identity(), roles...)
	switch {
	case decision.Allowed():
		return Outcome{Kind: Render, Decision: decision}
	case decision.Reason == guard.RoleMismatch:
		return Outcome{Kind: Redirect, Target: g.routes.Home, Decision: decision}
	default:
		return Outcome{Kind: Redirect, Target: g.routes.Unauthenticated, Decision: decision}
	}
}

type profileKey struct{}

// ProfileFrom returns the profile of the user a protected view is rendered for
func ProfileFrom(ctx context.Context) (*user.Profile, bool) {
	p, ok := ctx.Value(profileKey{}).(*user.Profile)
	return p, ok && p != nil
}

// Protect wraps view so it only renders for the given roles
func (g *Gate) Protect(view http.Handler, roles ...guard.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := g.sessions.Snapshot()
		outcome := g.Decide(snap, roles...)

		switch outcome.Kind {
		case Loading:
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Refresh", "1")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(loadingPage))
		case Redirect:
			g.logger.Debug("view denied",
				zap.String("path", r.URL.Path),
				zap.String("reason", outcome.Decision.Reason.String()),
				zap.String("target", outcome.Target),
			)
			http.Redirect(w, r, outcome.Target, http.StatusSeeOther)
		default:
			ctx := context.WithValue(r.Context(), profileKey{}, snap.User)
			view.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

const loadingPage = `<!doctype html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>Loading</title></head>
<body><p>Loading...</p></body></html>
`
