package user

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/amboseli-lewis/sms/core"
)

// Roles
const (
	// RoleAdmin may run every mutating operation (fees, students, payments, term rollover).
	RoleAdmin = "ADMIN"
	// RoleStaff has read-only access to the dashboard and reports.
	RoleStaff = "STAFF"
)

var AllRoles = []string{RoleAdmin, RoleStaff}

type User struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	Role         string    `json:"role" db:"role"`
	IsActive     bool      `json:"isActive" db:"is_active"`
	PasswordHash []byte    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"` // UTC
	LastLogin    null.Time `json:"lastLogin" db:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string `json:"name" validate:"required,notblank"`
	Email           string `json:"email" validate:"required,email"`
	Role            string `json:"role" validate:"required,userrole"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Role = core.CleanString(nu.Role)
	return validate.Struct(nu)
}

// PasswordReset sets a new password on an existing User.
type PasswordReset struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`

	// user attributes the password is compared against
	name string
}

func (pr *PasswordReset) Validate(validate *validator.Validate, usr User) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	pr.name = usr.Name
	return validate.Struct(pr)
}

type GetFilter struct {
	ID    string
	Email string
}
