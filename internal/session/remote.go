package session

import (
	"context"

	"github.com/jobportal/identity/internal/guard"
	"github.com/jobportal/identity/internal/token"
	"github.com/jobportal/identity/internal/user"
)

// Remote is the identity server as seen by the controller. Non-2xx answers
// are *RemoteError; transport failures wrap ErrRemoteUnreachable.
type Remote interface {
	Login(ctx context.Context, email, password string) (*Grant, error)
	Register(ctx context.Context, reg Registration) (*Grant, error)
	Me(ctx context.Context, accessToken string) (*user.Profile, error)
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Grant is the server's answer to login, register and refresh
type Grant struct {
	Token *token.Pair   `json:"token"`
	User  *user.Profile `json:"user"`
}

func (g *Grant) valid() bool {
	return g.hasToken() && g.User != nil && g.User.ID != ""
}

// hasToken is enough for a refresh answer; the profile may be omitted
func (g *Grant) hasToken() bool {
	return g != nil && g.Token != nil && g.Token.AccessToken != ""
}

// Registration is the account creation form
type Registration struct {
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     guard.Role `json:"role"`
}
