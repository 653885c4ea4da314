package localstore

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"portal/internal/common"
	"portal/internal/hasher"
	"portal/internal/models"
	"portal/internal/storage"
)

var _ storage.AccountStore = (*Store)(nil)

type Options struct {
	// AdminPassword is compared literally on admin login; no admin record is
	// ever stored locally.
	AdminPassword string
	// Iterations overrides the PBKDF2 work factor; zero keeps the default.
	Iterations int
	Logger     *logrus.Logger
}

// Store is the fallback AccountStore. All operations are serialized.
type Store struct {
	mu            sync.Mutex
	kv            KV
	hasher        *hasher.PBKDF2
	adminPassword string
	log           *logrus.Logger
	now           func() time.Time
}

func New(kv KV, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Store{
		kv:            kv,
		hasher:        hasher.NewPBKDF2(opts.Iterations),
		adminPassword: opts.AdminPassword,
		log:           opts.Logger,
		now:           time.Now,
	}
}

func (s *Store) Name() string {
	return storage.LocalName
}

func (s *Store) failure(op string, err error) error {
	s.log.WithError(err).WithField("op", op).Error("Local account store failure")
	return common.Internal(fmt.Errorf("local %s: %w", op, err))
}

func (s *Store) Signup(ctx context.Context, req models.SignupRequest) (*models.Account, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	account := req.Account()
	if models.IsReserved(account.Username) {
		return nil, common.New(common.ErrReserved, common.MsgUsernameTaken)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted, err := loadBlocklist(ctx, s.kv)
	if err != nil {
		return nil, s.failure("signup", err)
	}
	if deleted.contains(account.Username) {
		return nil, common.New(common.ErrConflict, common.MsgDeletedUsername)
	}

	users, err := loadRecords(ctx, s.kv)
	if err != nil {
		return nil, s.failure("signup", err)
	}
	if _, exists := users[account.Username]; exists {
		return nil, common.New(common.ErrConflict, common.MsgUsernameTaken)
	}

	hash, salt, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, s.failure("signup", err)
	}
	account.PasswordHash = hash
	account.Salt = salt
	account.CreatedAt = s.now().UTC()

	users[account.Username] = record{
		Username:    account.Username,
		FirstName:   account.FirstName,
		LastName:    account.LastName,
		Nickname:    account.Nickname,
		DisplayName: account.DisplayName(),
		Salt:        salt,
		Hash:        hash,
		CreatedAt:   account.CreatedAt,
	}
	if err := saveRecords(ctx, s.kv, users); err != nil {
		return nil, s.failure("signup", err)
	}

	s.log.WithField("username", account.Username).Info("Local account created")
	return account, nil
}

func (s *Store) Login(ctx context.Context, username, password string) (*models.Account, error) {
	if err := (models.LoginRequest{Username: username, Password: password}).Validate(); err != nil {
		return nil, err
	}
	username = models.NormalizeUsername(username)

	if models.IsReserved(username) {
		if s.adminPassword != "" && subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) == 1 {
			return models.NewAdminAccount(), nil
		}
		return nil, common.New(common.ErrInvalidCredentials, common.MsgInvalidCredentials)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.active(ctx, username)
	if err != nil {
		return nil, s.failure("login", err)
	}
	if !ok || !s.hasher.Verify(password, rec.Hash, rec.Salt) {
		return nil, common.New(common.ErrInvalidCredentials, common.MsgInvalidCredentials)
	}
	return rec.account(false), nil
}

func (s *Store) Lookup(ctx context.Context, username string) (*models.Account, error) {
	username = models.NormalizeUsername(username)
	if models.IsReserved(username) {
		return models.NewAdminAccount(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.active(ctx, username)
	if err != nil {
		return nil, s.failure("lookup", err)
	}
	if !ok {
		return nil, common.New(common.ErrNotFound, common.MsgUserNotFound)
	}
	return rec.account(false), nil
}

// active returns the record for username unless it is missing or blocklisted.
func (s *Store) active(ctx context.Context, username string) (record, bool, error) {
	deleted, err := loadBlocklist(ctx, s.kv)
	if err != nil {
		return record{}, false, err
	}
	if deleted.contains(username) {
		return record{}, false, nil
	}
	users, err := loadRecords(ctx, s.kv)
	if err != nil {
		return record{}, false, err
	}
	rec, ok := users[username]
	return rec, ok, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.AccountView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := loadRecords(ctx, s.kv)
	if err != nil {
		return nil, s.failure("list", err)
	}
	deleted, err := loadBlocklist(ctx, s.kv)
	if err != nil {
		return nil, s.failure("list", err)
	}

	views := make([]models.AccountView, 0, len(users))
	for _, rec := range users {
		views = append(views, rec.account(deleted.contains(rec.Username)).View())
	}
	sort.Slice(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.After(views[j].CreatedAt)
		}
		return views[i].Username < views[j].Username
	})
	return views, nil
}

// SoftDelete blocklists username and then removes its record. A record left
// behind by an interrupted delete is removed on the next attempt, which still
// reports not found.
func (s *Store) SoftDelete(ctx context.Context, username string) error {
	username = models.NormalizeUsername(username)
	if username == "" {
		return common.New(common.ErrValidation, common.MsgMissingUsername)
	}
	if models.IsReserved(username) {
		return common.New(common.ErrCannotDeleteAdmin, common.MsgCannotDeleteAdmin)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := loadRecords(ctx, s.kv)
	if err != nil {
		return s.failure("delete", err)
	}
	deleted, err := loadBlocklist(ctx, s.kv)
	if err != nil {
		return s.failure("delete", err)
	}

	_, exists := users[username]
	if deleted.contains(username) {
		if exists {
			delete(users, username)
			if err := saveRecords(ctx, s.kv, users); err != nil {
				return s.failure("delete", err)
			}
		}
		return common.New(common.ErrNotFound, common.MsgUserNotFound)
	}
	if !exists {
		return common.New(common.ErrNotFound, common.MsgUserNotFound)
	}

	deleted[username] = struct{}{}
	if err := deleted.save(ctx, s.kv); err != nil {
		return s.failure("delete", err)
	}
	delete(users, username)
	if err := saveRecords(ctx, s.kv, users); err != nil {
		return s.failure("delete", err)
	}

	s.log.WithField("username", username).Info("Local account deleted")
	return nil
}

func (r record) account(deleted bool) *models.Account {
	return &models.Account{
		Username:     r.Username,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Nickname:     r.Nickname,
		PasswordHash: r.Hash,
		Salt:         r.Salt,
		CreatedAt:    r.CreatedAt,
		IsDeleted:    deleted,
	}
}
