package placeholder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/querycountdown/go/clients"
)

func TestClient_ListUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UsersEndpoint, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":1,"name":"Leanne Graham","username":"Bret","email":"Sincere@april.biz","phone":"1-770"}]`))
	}))
	defer srv.Close()

	users, err := NewClient(srv.URL).ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, User{ID: 1, Name: "Leanne Graham", Username: "Bret", Email: "Sincere@april.biz"}, users[0])
}

func TestClient_ListUsersUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ListUsers(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, clients.ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_ListUsersBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"a list"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ListUsers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal users")
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	assert.Equal(t, BaseURL, NewClient("").BaseURL())
}
