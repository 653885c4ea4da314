package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CookieName is the session cookie set on the browser.
const CookieName = "portal_session"

const (
	DefaultTTL         = 24 * time.Hour
	DefaultMaxSessions = 10000
)

var ErrInvalidToken = errors.New("invalid session token")

type Config struct {
	Secret      []byte
	TTL         time.Duration
	MaxSessions int
	// Secure marks the cookie HTTPS-only.
	Secure bool
}

// Manager keeps sessions in memory keyed by a random id. The browser holds
// the id inside a signed token, so a forged or edited cookie never resolves.
// Sessions live for TTL from the moment they are established.
type Manager struct {
	secret   []byte
	ttl      time.Duration
	secure   bool
	sessions *lru.LRU[string, *State]
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return &Manager{
		secret:   cfg.Secret,
		ttl:      cfg.TTL,
		secure:   cfg.Secure,
		sessions: lru.NewLRU[string, *State](cfg.MaxSessions, nil, cfg.TTL),
	}, nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	return m.sessions.Len()
}

func (m *Manager) sign(id string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	})
	return token.SignedString(m.secret)
}

func (m *Manager) parse(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == "" {
		return "", ErrInvalidToken
	}
	return claims.ID, nil
}

// Bind returns the session view of one request.
func (m *Manager) Bind(w http.ResponseWriter, r *http.Request) *Binding {
	return &Binding{m: m, w: w, r: r}
}

// Binding exposes the session of a single HTTP request. It is used by one
// goroutine; the shared State it resolves to is itself synchronized.
type Binding struct {
	m      *Manager
	w      http.ResponseWriter
	r      *http.Request
	loaded bool
	id     string
	state  *State
}

func (b *Binding) load() *State {
	if b.loaded {
		return b.state
	}
	b.loaded = true

	cookie, err := b.r.Cookie(CookieName)
	if err != nil {
		return nil
	}
	id, err := b.m.parse(cookie.Value)
	if err != nil {
		return nil
	}
	state, ok := b.m.sessions.Get(id)
	if !ok {
		return nil
	}
	b.id, b.state = id, state
	return state
}

// Establish starts a new session for id. Any previous session of this
// client is dropped and a fresh session id is issued.
func (b *Binding) Establish(_ context.Context, id Identity) error {
	if b.load() != nil {
		b.m.sessions.Remove(b.id)
	}

	sid := uuid.NewString()
	token, err := b.m.sign(sid)
	if err != nil {
		return fmt.Errorf("failed to sign session: %w", err)
	}

	state := &State{}
	state.Establish(id)
	b.m.sessions.Add(sid, state)
	b.id, b.state = sid, state

	http.SetCookie(b.w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(b.m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   b.m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (b *Binding) Current(_ context.Context) (Identity, error) {
	if state := b.load(); state != nil {
		return state.Current(), nil
	}
	return Identity{}, nil
}

func (b *Binding) ReadIdentity(_ context.Context) (Identity, error) {
	if state := b.load(); state != nil {
		return state.ReadIdentity(), nil
	}
	return Identity{}, nil
}

// Destroy ends the session. Calling it without a session is a no-op apart
// from clearing the cookie.
func (b *Binding) Destroy(_ context.Context) error {
	if state := b.load(); state != nil {
		state.Destroy()
		b.m.sessions.Remove(b.id)
	}
	b.id, b.state = "", nil

	http.SetCookie(b.w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
