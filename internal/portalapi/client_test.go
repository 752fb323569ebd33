package portalapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jobportal/identity/internal/guard"
	"github.com/jobportal/identity/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret1" {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"success": false,
				"error":   map[string]string{"code": "INVALID_CREDENTIALS", "message": "Invalid email or password"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"token": map[string]string{"access_token": "T", "refresh_token": "R", "token_type": "Bearer"},
				"user":  map[string]string{"id": "u-1", "role": "employer", "email": req.Email},
			},
		})
	})

	mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "An account with this email already exists"})
	})

	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer T":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"data":    map[string]interface{}{"user": map[string]string{"id": "u-1", "role": "employer"}},
			})
		case "Bearer BARE":
			writeJSON(w, http.StatusOK, map[string]string{"id": "u-2", "role": "jobseeker"})
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"error": map[string]string{"message": "Not authenticated"},
			})
		}
	})

	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	})

	mux.HandleFunc("/api/employer/dashboard", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T" {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]string{"area": "employer"}})
	})

	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Login(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL+"/", 5*time.Second)

	grant, err := client.Login(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "T", grant.Token.AccessToken)
	assert.Equal(t, "R", grant.Token.RefreshToken)
	assert.Equal(t, guard.RoleEmployer, grant.User.Role)

	_, err = client.Login(context.Background(), "a@b.com", "wrong")
	var remote *session.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusUnauthorized, remote.Status)
	assert.Equal(t, "Invalid email or password", remote.Message)
}

func TestClient_TopLevelMessage(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL, 5*time.Second)

	_, err := client.Register(context.Background(), session.Registration{Email: "taken@b.com"})
	var remote *session.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusConflict, remote.Status)
	assert.Equal(t, "An account with this email already exists", remote.Message)
}

func TestClient_Me(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL, 5*time.Second)

	profile, err := client.Me(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, "u-1", profile.ID)

	profile, err = client.Me(context.Background(), "BARE")
	require.NoError(t, err)
	assert.Equal(t, "u-2", profile.ID)

	_, err = client.Me(context.Background(), "expired")
	assert.True(t, session.IsUnauthorized(err))
}

func TestClient_NonJSONError(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL, 5*time.Second)

	err := client.Fetch(context.Background(), nil, "/broken", nil)
	var remote *session.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusBadGateway, remote.Status)
	assert.Empty(t, remote.Message)
}

func TestClient_Unreachable(t *testing.T) {
	srv := newTestServer(t)
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Login(context.Background(), "a@b.com", "secret1")
	assert.ErrorIs(t, err, session.ErrRemoteUnreachable)

	var remote *session.RemoteError
	assert.False(t, errors.As(err, &remote))
}

func TestClient_Logout(t *testing.T) {
	srv := newTestServer(t)
	assert.NoError(t, NewClient(srv.URL, time.Second).Logout(context.Background(), "R"))
}

func TestClient_FetchWithTokenSource(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL, 5*time.Second)

	var out struct {
		Area string `json:"area"`
	}
	require.NoError(t, client.Fetch(context.Background(), staticToken("T"), "/api/employer/dashboard", &out))
	assert.Equal(t, "employer", out.Area)

	err := client.Fetch(context.Background(), staticToken("other"), "/api/employer/dashboard", &out)
	assert.True(t, session.IsUnauthorized(err))
}
