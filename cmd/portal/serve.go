package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/jobportal/identity/internal/config"
	"github.com/jobportal/identity/internal/guard"
	"github.com/jobportal/identity/internal/portalapi"
	"github.com/jobportal/identity/internal/routegate"
	"github.com/jobportal/identity/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve role-gated portal views",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	reconciled := a.controller.Start(ctx)
	go func() {
		<-reconciled
		a.logger.Info("session reconciled", zap.String("state", a.controller.Snapshot().State.String()))
	}()

	// Pick up logins and logouts made by other portal processes
	if a.file != nil {
		go func() {
			err := a.file.Watch(ctx, func() { a.controller.Sync(ctx) })
			if err != nil {
				a.logger.Warn("session file watch stopped", zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           newPortalMux(a.controller, a.client, a.cfg.Routes, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("portal listening", zap.String("addr", a.cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type portal struct {
	controller *session.Controller
	client     *portalapi.Client
	routes     config.RoutesConfig
	logger     *zap.Logger
}

func newPortalMux(controller *session.Controller, client *portalapi.Client, routes config.RoutesConfig, logger *zap.Logger) http.Handler {
	p := &portal{controller: controller, client: client, routes: routes, logger: logger}
	gate := routegate.New(controller, routes, logger.Named("gate"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+routes.Unauthenticated, p.status("Not signed in. Run `portal login` to sign in."))
	mux.HandleFunc("POST /logout", p.logout)
	mux.Handle("GET /account", gate.Protect(p.area("/api/account")))

	roles := make([]string, 0, len(routes.Landing))
	for role := range routes.Landing {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, name := range roles {
		role, err := guard.ParseRole(name)
		if err != nil {
			logger.Warn("ignoring landing route for unknown role", zap.String("role", name))
			continue
		}
		apiPath := fmt.Sprintf("/api/%s/dashboard", role)
		mux.Handle("GET "+routes.Landing[name], gate.Protect(p.area(apiPath), role))
	}

	if routes.Home != routes.Unauthenticated {
		home := routes.Home
		if home == "/" {
			home = "/{$}"
		}
		mux.HandleFunc("GET "+home, p.status("Job portal"))
	}

	return mux
}

func (p *portal) status(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := p.controller.Snapshot()
		body := map[string]interface{}{
			"title": title,
			"state": snap.State.String(),
		}
		if snap.User != nil {
			body["user"] = snap.User
			body["landing"] = p.routes.LandingFor(string(snap.User.Role))
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func (p *portal) logout(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, p.controller.Logout(r.Context()), http.StatusSeeOther)
}

// area renders a view backed by a protected server resource. A 401 from the
// server gives the controller one chance to refresh before the user is sent
// to sign in.
func (p *portal) area(apiPath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		profile, _ := routegate.ProfileFrom(ctx)

		var data json.RawMessage
		err := p.client.Fetch(ctx, p.controller.TokenSource(ctx), apiPath, &data)
		if session.IsUnauthorized(err) {
			if err = p.controller.HandleUnauthorized(ctx); err == nil {
				err = p.client.Fetch(ctx, p.controller.TokenSource(ctx), apiPath, &data)
			}
		}

		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"user": profile,
				"data": data,
			})
		case session.IsUnauthorized(err), errors.Is(err, session.ErrNoSession):
			http.Redirect(w, r, p.routes.Unauthenticated, http.StatusSeeOther)
		default:
			p.logger.Warn("failed to load view data", zap.String("resource", apiPath), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"message": "The portal is temporarily unavailable."})
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
