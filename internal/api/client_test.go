package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"besedka/internal/models"
	"besedka/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	queries map[string]map[string]string
	bodies  map[string]map[string]string
}

func (b *fakeBackend) record(r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := r.Method + " " + r.URL.Path
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	b.queries[key] = q
	if r.Body != nil {
		body := map[string]string{}
		if json.NewDecoder(r.Body).Decode(&body) == nil {
			b.bodies[key] = body
		}
	}
}

func (b *fakeBackend) query(key string) map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries[key]
}

func (b *fakeBackend) body(key string) map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[key]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T) (*Client, *fakeBackend, *storage.MemoryStore) {
	t.Helper()
	b := &fakeBackend{queries: map[string]map[string]string{}, bodies: map[string]map[string]string{}}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b.record(r)
			next.ServeHTTP(w, r)
		})
	})
	r.Post("/users/login", func(w http.ResponseWriter, r *http.Request) {
		if body := b.body("POST /users/login"); body["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "wrong password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": "@alice", "jwt": "jwt-1", "refreshToken": "rt-1"})
	})
	r.Post("/users/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"name": b.body("POST /users/register")["name"], "jwt": "jwt-new"})
	})
	r.Get("/users/GetUserinfo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.UserInfo{Name: "@alice", Login: "alice", JWT: "jwt-2"})
	})
	r.Get("/users/getChat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"chats": []models.Chat{
				{ID: 11, UserName1: "@alice", UserName2: "bob", Name: "bob"},
				{ID: 12, UserName1: "carol", UserName2: "@alice", Name: "@carol"},
			},
			"jwt": "jwt-3",
		})
	})
	r.Get("/app/chats/ChatHistory", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"history": []models.HistoryEntry{{Name: "@bob", Content: "hi"}, {Name: "@alice", Content: "hello"}},
		})
	})
	r.Get("/users/Search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []string{"alice", "@alicia", "alina"})
	})
	r.Post("/app/chats/createchat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	r.Delete("/users/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/users/deleteAccount", func(w http.ResponseWriter, r *http.Request) {
		if b.body("DELETE /users/deleteAccount")["password"] != "secret" {
			http.Error(w, "wrong password", http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		if b.body("POST /auth/refresh")["refreshToken"] != "rt-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "refresh token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"jwt": "jwt-9", "refreshToken": "rt-2"})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	store := storage.NewMemoryStore()
	return New(srv.URL+"/", srv.Client(), srv.Client(), store), b, store
}

func signIn(t *testing.T, store *storage.MemoryStore) {
	t.Helper()
	require.NoError(t, store.SetIdentity(models.Identity{Name: "@alice", Login: "alice", AccessToken: "jwt-1", RefreshToken: "rt-1"}))
}

func TestLogin(t *testing.T) {
	c, b, store := newTestClient(t)

	id, err := c.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, models.Identity{Name: "@alice", Login: "alice", AccessToken: "jwt-1", RefreshToken: "rt-1"}, id)
	require.Equal(t, map[string]string{"login": "alice", "password": "secret"}, b.body("POST /users/login"))

	stored, err := store.Identity()
	require.NoError(t, err)
	require.Equal(t, id, stored)

	t.Run("wrong password", func(t *testing.T) {
		c, _, store := newTestClient(t)
		_, err := c.Login(context.Background(), "alice", "nope")

		var se *StatusError
		require.True(t, errors.As(err, &se))
		require.Equal(t, http.StatusUnauthorized, se.StatusCode)
		require.Equal(t, "wrong password", se.Message)

		_, err = store.Identity()
		require.ErrorIs(t, err, storage.ErrNoIdentity)
	})
}

func TestRegister(t *testing.T) {
	c, b, store := newTestClient(t)

	id, err := c.Register(context.Background(), "@bob", "bob", "pw")
	require.NoError(t, err)
	require.Equal(t, "@bob", id.Name)
	require.Equal(t, "jwt-new", id.AccessToken)
	require.Equal(t, map[string]string{"name": "@bob", "login": "bob", "password": "pw"}, b.body("POST /users/register"))

	stored, err := store.Identity()
	require.NoError(t, err)
	require.Equal(t, "bob", stored.Login)
}

func TestUserInfo(t *testing.T) {
	c, b, store := newTestClient(t)
	signIn(t, store)

	info, err := c.UserInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.UserInfo{Name: "@alice", Login: "alice", JWT: "jwt-2"}, info)
	require.Equal(t, map[string]string{"Name": "@alice", "JWT": "jwt-1"}, b.query("GET /users/GetUserinfo"))

	id, err := store.Identity()
	require.NoError(t, err)
	require.Equal(t, "jwt-2", id.AccessToken)
	require.Equal(t, "rt-1", id.RefreshToken)
}

func TestUserInfoSignedOut(t *testing.T) {
	c, _, _ := newTestClient(t)
	_, err := c.UserInfo(context.Background())
	require.ErrorIs(t, err, storage.ErrNoIdentity)
}

func TestChats(t *testing.T) {
	c, _, store := newTestClient(t)
	signIn(t, store)

	chats, err := c.Chats(context.Background())
	require.NoError(t, err)
	require.Equal(t, []models.Chat{
		{ID: 11, UserName1: "@alice", UserName2: "@bob", Name: "@bob"},
		{ID: 12, UserName1: "@carol", UserName2: "@alice", Name: "@carol"},
	}, chats)

	chatMap, err := store.ChatMap()
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"@bob": 11, "@carol": 12}, chatMap)

	id, err := store.Identity()
	require.NoError(t, err)
	require.Equal(t, "jwt-3", id.AccessToken)
}

func TestChatHistory(t *testing.T) {
	c, b, store := newTestClient(t)
	signIn(t, store)

	history, err := c.ChatHistory(context.Background(), 11)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, map[string]string{"ChatId": "11", "Name": "@alice", "JWT": "jwt-1"}, b.query("GET /app/chats/ChatHistory"))

	// No token in the response: the stored one is kept.
	id, err := store.Identity()
	require.NoError(t, err)
	require.Equal(t, "jwt-1", id.AccessToken)
}

func TestSearchExcludesSelf(t *testing.T) {
	c, b, store := newTestClient(t)
	signIn(t, store)

	results, err := c.Search(context.Background(), "ali")
	require.NoError(t, err)
	require.Equal(t, []models.SearchResult{
		{Username: "@alicia", Name: "alicia"},
		{Username: "@alina", Name: "alina"},
	}, results)
	require.Equal(t, map[string]string{"Parametr": "ali", "Name": "@alice"}, b.query("GET /users/Search"))
}

func TestCreateChat(t *testing.T) {
	c, b, store := newTestClient(t)
	signIn(t, store)

	require.NoError(t, c.CreateChat(context.Background(), "bob"))
	require.Equal(t, map[string]string{
		"name":      "@alice",
		"userName1": "@alice",
		"userName2": "@bob",
		"jwt":       "jwt-1",
	}, b.body("POST /app/chats/createchat"))
}

func TestLogoutClearsState(t *testing.T) {
	c, _, store := newTestClient(t)
	signIn(t, store)
	require.NoError(t, store.SetChatMap(map[string]int64{"@bob": 11}))

	require.NoError(t, c.Logout(context.Background()))

	_, err := store.Identity()
	require.ErrorIs(t, err, storage.ErrNoIdentity)
	chatMap, err := store.ChatMap()
	require.NoError(t, err)
	require.Empty(t, chatMap)
}

func TestDeleteAccount(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		c, b, store := newTestClient(t)
		signIn(t, store)

		require.NoError(t, c.DeleteAccount(context.Background(), "secret"))
		require.Equal(t, map[string]string{
			"login":    "alice",
			"password": "secret",
			"name":     "@alice",
			"jwt":      "jwt-1",
		}, b.body("DELETE /users/deleteAccount"))

		_, err := store.Identity()
		require.ErrorIs(t, err, storage.ErrNoIdentity)
	})

	t.Run("wrong password keeps state", func(t *testing.T) {
		c, _, store := newTestClient(t)
		signIn(t, store)

		err := c.DeleteAccount(context.Background(), "nope")
		var se *StatusError
		require.True(t, errors.As(err, &se))
		require.Equal(t, http.StatusForbidden, se.StatusCode)
		require.Equal(t, "wrong password", se.Message)

		_, err = store.Identity()
		require.NoError(t, err)
	})

	t.Run("missing login", func(t *testing.T) {
		c, _, store := newTestClient(t)
		require.NoError(t, store.SetIdentity(models.Identity{Name: "@alice", AccessToken: "jwt-1"}))
		require.ErrorIs(t, c.DeleteAccount(context.Background(), "secret"), ErrIncompleteCredentials)
	})
}

func TestRefresh(t *testing.T) {
	c, b, _ := newTestClient(t)

	access, refresh, err := c.Refresh(context.Background(), "@alice", "rt-1")
	require.NoError(t, err)
	require.Equal(t, "jwt-9", access)
	require.Equal(t, "rt-2", refresh)
	require.Equal(t, map[string]string{"name": "@alice", "refreshToken": "rt-1"}, b.body("POST /auth/refresh"))

	_, _, err = c.Refresh(context.Background(), "@alice", "rt-old")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "refresh token expired", se.Message)
}
