package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal/internal/common"
	"portal/internal/localstore"
	"portal/internal/models"
	"portal/internal/session"
)

type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) Close() error { return nil }

func newTestStore(t *testing.T, handler http.Handler) (*Store, *memKV) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)
	kv := &memKV{data: map[string]string{}}
	store, err := New(srv.URL, kv, Options{Timeout: time.Second, Logger: log})
	require.NoError(t, err)
	return store, kv
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", &memKV{}, Options{})
	assert.Error(t, err)
}

func TestLogin_StoresSessionCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("password") != "pw" {
			http.Error(w, common.MsgInvalidCredentials, http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: session.CookieName, Value: "token-1"})
		http.Redirect(w, r, "/html/offerings.html?welcome=1", http.StatusFound)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(session.CookieName)
		if err != nil || c.Value != "token-1" {
			json.NewEncoder(w).Encode(map[string]bool{"authenticated": false})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"authenticated": true, "username": "alice", "displayName": "Al",
		})
	})
	store, kv := newTestStore(t, mux)
	ctx := context.Background()

	acc, err := store.Login(ctx, " Alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "alice", acc.Username)
	assert.Equal(t, "token-1", kv.data[localstore.KeyRemoteCookie])

	found, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Al", found.DisplayName())

	_, err = store.Lookup(ctx, "bob")
	assert.True(t, errors.Is(err, common.ErrNotFound))

	_, err = store.Login(ctx, "alice", "bad")
	assert.True(t, errors.Is(err, common.ErrInvalidCredentials))
	assert.Equal(t, common.MsgInvalidCredentials, common.Message(err))
}

func TestSignup_ErrorMessagesAreClassified(t *testing.T) {
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, common.MsgDeletedUsername, http.StatusBadRequest)
	}))

	_, err := store.Signup(context.Background(), models.SignupRequest{Username: "carol", Password: "pw", ConfirmPassword: "pw"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConflict))
	assert.Equal(t, common.MsgDeletedUsername, common.Message(err))
}

func TestUnavailableServerIsUnreachable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"missing route", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }},
		{"bad gateway", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore(t, tt.handler)
			_, err := store.Login(context.Background(), "alice", "pw")
			assert.True(t, errors.Is(err, common.ErrStoreUnreachable))
		})
	}
}

func TestClosedServerIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	store, err := New(srv.URL, &memKV{data: map[string]string{}}, Options{Timeout: time.Second})
	require.NoError(t, err)
	_, err = store.ListUsers(context.Background())
	assert.True(t, errors.Is(err, common.ErrStoreUnreachable))
}

func TestAdminRoutes(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/users", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(session.CookieName); err != nil {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"users": []models.AccountView{
			{Username: "bob", CreatedAt: created, IsDeleted: true, DeletedAt: &created},
		}})
	})
	mux.HandleFunc("/admin/users/ghost/delete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": common.MsgUserNotFound})
	})
	mux.HandleFunc("/admin/users/admin/delete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": common.MsgCannotDeleteAdmin})
	})
	mux.HandleFunc("/admin/users/bob/delete", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	store, kv := newTestStore(t, mux)
	ctx := context.Background()

	_, err := store.ListUsers(ctx)
	assert.True(t, errors.Is(err, common.ErrForbidden))

	kv.data[localstore.KeyRemoteCookie] = "token"
	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, bool(users[0].IsDeleted))
	assert.True(t, created.Equal(users[0].CreatedAt))

	assert.NoError(t, store.SoftDelete(ctx, "bob"))
	assert.True(t, errors.Is(store.SoftDelete(ctx, "ghost"), common.ErrNotFound))
	assert.True(t, errors.Is(store.SoftDelete(ctx, "admin"), common.ErrCannotDeleteAdmin))
}

func TestSoftDelete_BlankUsername(t *testing.T) {
	var calls int
	store, kv := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	kv.data[localstore.KeyRemoteCookie] = "token"

	for _, username := range []string{"", "   "} {
		err := store.SoftDelete(context.Background(), username)
		require.Error(t, err)
		assert.True(t, errors.Is(err, common.ErrValidation))
		assert.Equal(t, common.MsgMissingUsername, common.Message(err))
	}
	assert.Zero(t, calls)
}

func TestSoftDelete_NormalizesUsername(t *testing.T) {
	var path string
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))

	require.NoError(t, store.SoftDelete(context.Background(), "  Bob "))
	assert.Equal(t, "/admin/users/bob/delete", path)
}

func TestLogout_DropsCookie(t *testing.T) {
	var calls int
	store, kv := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Redirect(w, r, "/index.html", http.StatusFound)
	}))
	kv.data[localstore.KeyRemoteCookie] = "token"

	store.Logout(context.Background())
	assert.Equal(t, 1, calls)
	assert.NotContains(t, kv.data, localstore.KeyRemoteCookie)
}
