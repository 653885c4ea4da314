// Package gateway runs account operations against the primary store and
// falls back to a secondary store when the primary cannot be reached. It is
// the only place that mutates session state.
package gateway

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"portal/internal/common"
	"portal/internal/models"
	"portal/internal/session"
	"portal/internal/storage"
)

// DefaultTimeout bounds every call to the primary store.
const DefaultTimeout = 3 * time.Second

// Operation names used in logs and metrics.
const (
	OpSignup     = "signup"
	OpLogin      = "login"
	OpMe         = "me"
	OpListUsers  = "list_users"
	OpDeleteUser = "delete_user"
)

// Sessions is the session of the caller: a cookie-bound server session or
// the persisted identity of the command-line client.
type Sessions interface {
	Establish(ctx context.Context, id session.Identity) error
	Current(ctx context.Context) (session.Identity, error)
	// ReadIdentity returns the identity and clears its welcome flag.
	ReadIdentity(ctx context.Context) (session.Identity, error)
	Destroy(ctx context.Context) error
}

// Recorder observes operation outcomes.
type Recorder interface {
	ObserveOperation(op, store, outcome string)
	ObserveFailover(op string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, string) {}
func (nopRecorder) ObserveFailover(string)                  {}

type Options struct {
	Timeout  time.Duration
	Logger   *logrus.Logger
	Recorder Recorder
}

// Profile is the answer to "who am I".
type Profile struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username"`
	DisplayName   string `json:"displayName"`
	ShowWelcome   bool   `json:"showWelcome"`
	IsAdmin       bool   `json:"isAdmin"`
}

type credentials struct {
	username string
	password string
}

type Gateway struct {
	primary  storage.AccountStore
	fallback storage.AccountStore
	timeout  time.Duration
	log      *logrus.Logger
	rec      Recorder

	signup     func(context.Context, models.SignupRequest) (*models.Account, storage.AccountStore, error)
	login      func(context.Context, credentials) (*models.Account, storage.AccountStore, error)
	listUsers  func(context.Context, struct{}) ([]models.AccountView, storage.AccountStore, error)
	softDelete func(context.Context, string) (struct{}, storage.AccountStore, error)
}

// New builds a gateway. fallback may be nil.
func New(primary, fallback storage.AccountStore, opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	g := &Gateway{
		primary:  primary,
		fallback: fallback,
		timeout:  opts.Timeout,
		log:      opts.Logger,
		rec:      opts.Recorder,
	}

	g.signup = failover(g, OpSignup, func(ctx context.Context, s storage.AccountStore, req models.SignupRequest) (*models.Account, error) {
		return s.Signup(ctx, req)
	})
	g.login = failover(g, OpLogin, func(ctx context.Context, s storage.AccountStore, c credentials) (*models.Account, error) {
		return s.Login(ctx, c.username, c.password)
	})
	g.listUsers = failover(g, OpListUsers, func(ctx context.Context, s storage.AccountStore, _ struct{}) ([]models.AccountView, error) {
		return s.ListUsers(ctx)
	})
	g.softDelete = failover(g, OpDeleteUser, func(ctx context.Context, s storage.AccountStore, username string) (struct{}, error) {
		return struct{}{}, s.SoftDelete(ctx, username)
	})
	return g
}

func (g *Gateway) Signup(ctx context.Context, sess Sessions, req models.SignupRequest) (session.Identity, error) {
	account, store, err := g.signup(ctx, req)
	if err != nil {
		return session.Identity{}, err
	}
	return g.establish(ctx, sess, account, store)
}

func (g *Gateway) Login(ctx context.Context, sess Sessions, username, password string) (session.Identity, error) {
	account, store, err := g.login(ctx, credentials{username: username, password: password})
	if err != nil {
		return session.Identity{}, err
	}
	return g.establish(ctx, sess, account, store)
}

func (g *Gateway) establish(ctx context.Context, sess Sessions, account *models.Account, store storage.AccountStore) (session.Identity, error) {
	id := session.Identity{
		UserID:      account.ID,
		Username:    account.Username,
		IsAdmin:     models.IsReserved(account.Username),
		ShowWelcome: true,
		Origin:      store.Name(),
	}
	if err := sess.Establish(ctx, id); err != nil {
		g.log.WithError(err).Error("Failed to establish session")
		return session.Identity{}, common.Internal(err)
	}
	return id, nil
}

// Logout ends the session. It never fails because of the stores.
func (g *Gateway) Logout(ctx context.Context, sess Sessions) error {
	if err := sess.Destroy(ctx); err != nil {
		g.log.WithError(err).Error("Failed to destroy session")
		return common.Internal(err)
	}
	return nil
}

// Me resolves the session's account in the store that authenticated it and
// consumes the welcome flag. Any failure reads as unauthenticated.
func (g *Gateway) Me(ctx context.Context, sess Sessions) (Profile, error) {
	id, err := sess.Current(ctx)
	if err != nil || !id.Authenticated() {
		return Profile{}, err
	}

	store := g.storeNamed(id.Origin)
	if store == nil {
		return Profile{}, nil
	}

	lctx := ctx
	if store == g.primary {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	account, err := store.Lookup(lctx, id.Username)
	g.observe(OpMe, store, err)
	if err != nil {
		g.log.WithError(err).WithFields(logrus.Fields{"username": id.Username, "store": store.Name()}).
			Debug("Session account lookup failed")
		return Profile{}, nil
	}

	id, err = sess.ReadIdentity(ctx)
	if err != nil || !id.Authenticated() {
		return Profile{}, err
	}
	return Profile{
		Authenticated: true,
		Username:      account.Username,
		DisplayName:   account.DisplayName(),
		ShowWelcome:   id.ShowWelcome,
		IsAdmin:       id.IsAdmin,
	}, nil
}

func (g *Gateway) ListUsers(ctx context.Context, sess Sessions) ([]models.AccountView, error) {
	if err := g.RequireAdmin(ctx, sess); err != nil {
		return nil, err
	}
	views, _, err := g.listUsers(ctx, struct{}{})
	return views, err
}

func (g *Gateway) DeleteUser(ctx context.Context, sess Sessions, username string) error {
	if err := g.RequireAdmin(ctx, sess); err != nil {
		return err
	}
	_, _, err := g.softDelete(ctx, username)
	return err
}

// RequireAdmin fails with ErrForbidden unless the session belongs to the admin.
func (g *Gateway) RequireAdmin(ctx context.Context, sess Sessions) error {
	id, err := sess.Current(ctx)
	if err != nil {
		return common.Internal(err)
	}
	if !id.IsAdmin || !models.IsReserved(id.Username) {
		return common.New(common.ErrForbidden, common.MsgForbidden)
	}
	return nil
}

func (g *Gateway) storeNamed(name string) storage.AccountStore {
	switch {
	case g.primary != nil && g.primary.Name() == name:
		return g.primary
	case g.fallback != nil && g.fallback.Name() == name:
		return g.fallback
	}
	return nil
}

func (g *Gateway) observe(op string, store storage.AccountStore, err error) {
	g.rec.ObserveOperation(op, store.Name(), common.KindName(err))
}
