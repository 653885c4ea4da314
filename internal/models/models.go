package models

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"portal/internal/common"
)

// AdminUsername is reserved: signup refuses it and soft delete never touches it.
const AdminUsername = "admin"

// Canonical admin profile written by the bootstrap.
const (
	AdminFirstName = "Admin"
	AdminLastName  = ""
	AdminNickname  = "Admin"
)

// Flag is a bool rendered as 1/0 in JSON; the admin table compares against 1.
type Flag bool

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch string(bytes.Trim(b, `"`)) {
	case "1", "true":
		*f = true
	case "0", "false", "null", "":
		*f = false
	default:
		return fmt.Errorf("invalid flag value %s", b)
	}
	return nil
}

// Account is one row of the authoritative users table. Rows are never
// removed; IsDeleted/DeletedAt record the one-way soft delete.
type Account struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt    time.Time  `json:"-"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Nickname     string     `json:"nickname"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Salt         string     `json:"-"`
	IsDeleted    bool       `gorm:"not null;index" json:"isDeleted"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
}

func (Account) TableName() string {
	return "users"
}

// DisplayName is the nickname, else the first name, else the username.
func (a *Account) DisplayName() string {
	if n := strings.TrimSpace(a.Nickname); n != "" {
		return n
	}
	if n := strings.TrimSpace(a.FirstName); n != "" {
		return n
	}
	return a.Username
}

// View projects the account to the fields the admin list exposes.
func (a *Account) View() AccountView {
	return AccountView{
		Username:  a.Username,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Nickname:  a.Nickname,
		CreatedAt: a.CreatedAt,
		IsDeleted: Flag(a.IsDeleted),
		DeletedAt: a.DeletedAt,
	}
}

type AccountView struct {
	Username  string     `json:"username"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Nickname  string     `json:"nickname"`
	CreatedAt time.Time  `json:"createdAt"`
	IsDeleted Flag       `json:"isDeleted"`
	DeletedAt *time.Time `json:"deletedAt"`
}

// NewAdminAccount returns the canonical admin profile without credentials.
func NewAdminAccount() *Account {
	return &Account{
		Username:  AdminUsername,
		FirstName: AdminFirstName,
		LastName:  AdminLastName,
		Nickname:  AdminNickname,
	}
}

// NormalizeUsername trims and lowercases a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func IsReserved(username string) bool {
	return NormalizeUsername(username) == AdminUsername
}

type SignupRequest struct {
	Username        string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
	Nickname        string
}

// Validate checks required fields and the password confirmation.
func (r SignupRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.ConfirmPassword, validation.Required),
	)
	if err != nil {
		return common.Wrap(common.ErrValidation, common.MsgRequiredFields, err)
	}
	if r.Password != r.ConfirmPassword {
		return common.New(common.ErrValidation, common.MsgPasswordMismatch)
	}
	return nil
}

// Account builds an unsaved account from the request's profile fields.
func (r SignupRequest) Account() *Account {
	return &Account{
		Username:  NormalizeUsername(r.Username),
		FirstName: strings.TrimSpace(r.FirstName),
		LastName:  strings.TrimSpace(r.LastName),
		Nickname:  strings.TrimSpace(r.Nickname),
	}
}

type LoginRequest struct {
	Username string
	Password string
}

func (r LoginRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
	if err != nil {
		return common.Wrap(common.ErrValidation, common.MsgMissingCredentials, err)
	}
	return nil
}
