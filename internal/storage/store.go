package storage

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"portal/internal/common"
	"portal/internal/hasher"
	"portal/internal/models"
)

// Options configures an SQLStore independently of the backing database.
type Options struct {
	// AdminPassword is the bootstrap credential for the reserved admin account.
	AdminPassword string
	Hasher        hasher.Hasher
	Logger        *logrus.Logger
}

// SQLStore is the authoritative AccountStore. It runs on PostgreSQL or SQLite
// through gorm; username uniqueness is enforced by the database index.
type SQLStore struct {
	db            *gorm.DB
	hasher        hasher.Hasher
	adminPassword string
	log           *logrus.Logger
}

func newSQLStore(db *gorm.DB, opts Options) *SQLStore {
	if opts.Hasher == nil {
		opts.Hasher = hasher.NewBcrypt(0)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &SQLStore{
		db:            db,
		hasher:        opts.Hasher,
		adminPassword: opts.AdminPassword,
		log:           opts.Logger,
	}
}

func (s *SQLStore) Name() string {
	return PrimaryName
}

// AutoMigrate creates or updates the users table.
func (s *SQLStore) AutoMigrate() error {
	s.log.Info("Running account store migrations...")
	return s.db.AutoMigrate(&models.Account{})
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func (s *SQLStore) Signup(ctx context.Context, req models.SignupRequest) (*models.Account, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	account := req.Account()
	if models.IsReserved(account.Username) {
		return nil, common.New(common.ErrReserved, common.MsgUsernameTaken)
	}

	hash, salt, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, common.Internal(err)
	}
	account.PasswordHash = hash
	account.Salt = salt

	// The unique index decides; a racing duplicate lands here as well.
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, s.conflict(ctx, account.Username)
		}
		return nil, s.classify("create account", err)
	}

	s.log.WithField("username", account.Username).Info("Account created")
	return account, nil
}

// conflict picks the message for a duplicate username.
func (s *SQLStore) conflict(ctx context.Context, username string) error {
	var existing models.Account
	err := s.db.WithContext(ctx).Select("is_deleted").Where("username = ?", username).First(&existing).Error
	if err == nil && existing.IsDeleted {
		return common.New(common.ErrConflict, common.MsgDeletedUsername)
	}
	return common.New(common.ErrConflict, common.MsgUsernameTaken)
}

func (s *SQLStore) Login(ctx context.Context, username, password string) (*models.Account, error) {
	if err := (models.LoginRequest{Username: username, Password: password}).Validate(); err != nil {
		return nil, err
	}
	username = models.NormalizeUsername(username)

	if models.IsReserved(username) && s.isBootstrapCredential(password) {
		return s.EnsureAdmin(ctx)
	}

	var account models.Account
	err := s.db.WithContext(ctx).Where("username = ? AND is_deleted = ?", username, false).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.New(common.ErrInvalidCredentials, common.MsgInvalidCredentials)
	}
	if err != nil {
		return nil, s.classify("find account", err)
	}

	if !s.hasher.Verify(password, account.PasswordHash, account.Salt) {
		return nil, common.New(common.ErrInvalidCredentials, common.MsgInvalidCredentials)
	}
	return &account, nil
}

func (s *SQLStore) isBootstrapCredential(password string) bool {
	if s.adminPassword == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) == 1
}

func (s *SQLStore) Lookup(ctx context.Context, username string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).
		Where("username = ? AND is_deleted = ?", models.NormalizeUsername(username), false).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.New(common.ErrNotFound, common.MsgUserNotFound)
	}
	if err != nil {
		return nil, s.classify("lookup account", err)
	}
	return &account, nil
}

// ListUsers returns every account, deleted ones included, newest first.
func (s *SQLStore) ListUsers(ctx context.Context) ([]models.AccountView, error) {
	var accounts []models.Account
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&accounts).Error; err != nil {
		return nil, s.classify("list accounts", err)
	}

	views := make([]models.AccountView, 0, len(accounts))
	for i := range accounts {
		views = append(views, accounts[i].View())
	}
	return views, nil
}

// SoftDelete marks an active account deleted. Missing and already deleted
// accounts are both reported as not found.
func (s *SQLStore) SoftDelete(ctx context.Context, username string) error {
	username = models.NormalizeUsername(username)
	if username == "" {
		return common.New(common.ErrValidation, common.MsgMissingUsername)
	}
	if models.IsReserved(username) {
		return common.New(common.ErrCannotDeleteAdmin, common.MsgCannotDeleteAdmin)
	}

	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("username = ? AND is_deleted = ?", username, false).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"deleted_at": time.Now(),
		})
	if res.Error != nil {
		return s.classify("delete account", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.New(common.ErrNotFound, common.MsgUserNotFound)
	}

	s.log.WithField("username", username).Info("Account deleted")
	return nil
}

// classify turns a database failure into StoreUnreachable or a generic
// internal error. The cause is logged, never shown.
func (s *SQLStore) classify(op string, err error) error {
	if isUnreachable(err) {
		s.log.WithError(err).WithField("op", op).Warn("Account store unreachable")
		return common.Unreachable(fmt.Errorf("%s: %w", op, err))
	}
	s.log.WithError(err).WithField("op", op).Error("Account store failure")
	return common.Internal(fmt.Errorf("%s: %w", op, err))
}
