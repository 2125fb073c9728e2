package sqlxrepos

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/user"
)

const userColumns = "id, name, email, role, is_active, password_hash, created_at, updated_at, last_login"

type userRepository struct {
	db core.DBExecutor
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db core.DBExecutor) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `INSERT INTO "user" (` + userColumns + `)
		VALUES (:id, :name, :email, :role, :is_active, :password_hash, :created_at, :updated_at, :last_login)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, usr); err != nil {
		if err = dbError(err, nil); core.IsConflict(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.ID != "" {
		args = append(args, filter.ID)
		conds = append(conds, "id = $1")
	}
	if filter.Email != "" {
		args = append(args, filter.Email)
		conds = append(conds, fmt.Sprintf("email = $%d", len(args)))
	}
	if len(conds) == 0 {
		return user.User{}, user.ErrNotFound
	}

	var usr user.User
	q := `SELECT ` + userColumns + ` FROM "user" WHERE ` + strings.Join(conds, " AND ")
	err := repo.db.GetContext(ctx, &usr, q, args...)
	return usr, dbError(err, user.ErrNotFound)
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `UPDATE "user" SET
			name = :name,
			email = :email,
			role = :role,
			is_active = :is_active,
			password_hash = :password_hash,
			updated_at = :updated_at,
			last_login = :last_login
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.db, q, usr)
	if err != nil {
		if err = dbError(err, user.ErrNotFound); core.IsConflict(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}
