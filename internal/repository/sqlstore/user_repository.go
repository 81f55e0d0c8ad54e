package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"authkit/internal/domain"
	"authkit/internal/repository"
)

const userColumns = `id, email, password, name, is_active`

type UserRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewUserRepository(db *sql.DB, dialect Dialect) repository.UserRepository {
	return &UserRepository{db: db, dialect: dialect}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (int64, error) {
	var id int64
	err := WithTx(ctx, r.db, nil, func(ctx context.Context, tx DBTX) error {
		row := tx.QueryRowContext(ctx, rebind(r.dialect, `
INSERT INTO "user" (email, password, name, is_active)
VALUES (?, ?, ?, ?)
RETURNING id`),
			user.Email,
			user.PasswordHash,
			user.Name,
			user.IsActive,
		)
		return row.Scan(&id)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", repository.ErrUserExists, user.Email)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}

	user.ID = id
	return id, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM "user" WHERE email = ?`, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM "user" WHERE id = ?`, id)
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	return WithTx(ctx, r.db, nil, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, rebind(r.dialect, `DELETE FROM "user" WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete user rows affected: %w", err)
		}
		if affected == 0 {
			return repository.ErrUserNotFound
		}
		return nil
	})
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user *domain.User
	err := WithTx(ctx, r.db, &sql.TxOptions{ReadOnly: r.dialect == DialectPostgres}, func(ctx context.Context, tx DBTX) error {
		var err error
		user, err = scanUser(tx.QueryRowContext(ctx, rebind(r.dialect, query), arg))
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.IsActive,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &user, nil
}
