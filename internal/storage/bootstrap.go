package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portal/internal/common"
	"portal/internal/models"
)

// EnsureAdmin makes the admin account exist, active, with the canonical
// profile and a hash of the bootstrap credential, overwriting whatever state
// the row was in. It runs at start and on every admin login that presents
// the bootstrap credential.
func (s *SQLStore) EnsureAdmin(ctx context.Context) (*models.Account, error) {
	if s.adminPassword == "" {
		return nil, common.Internal(errors.New("admin bootstrap credential is not configured"))
	}

	hash, salt, err := s.hasher.Hash(s.adminPassword)
	if err != nil {
		return nil, common.Internal(err)
	}

	admin := models.NewAdminAccount()
	admin.PasswordHash = hash
	admin.Salt = salt

	var stored models.Account
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "username"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"first_name":    models.AdminFirstName,
				"last_name":     models.AdminLastName,
				"nickname":      models.AdminNickname,
				"password_hash": hash,
				"salt":          salt,
				"is_deleted":    false,
				"deleted_at":    nil,
				"updated_at":    time.Now(),
			}),
		}).Create(admin)
		if upsert.Error != nil {
			return upsert.Error
		}
		return tx.Where("username = ?", models.AdminUsername).First(&stored).Error
	})
	if err != nil {
		return nil, s.classify("ensure admin", err)
	}
	return &stored, nil
}
