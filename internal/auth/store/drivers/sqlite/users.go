package sqlite

import (
	"context"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/internal/auth/store"
)

const userColumns = `id, subject, email, given_name, family_name, is_admin, provider_admin, first_seen_at, last_login_at`

type usersRepo struct {
	db dbtx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u                  domain.User
		firstSeen, lastLog int64
	)
	err := row.Scan(&u.ID, &u.Subject, &u.Email, &u.GivenName, &u.FamilyName, &u.IsAdmin, &u.ProviderAdmin, &firstSeen, &lastLog)
	if err != nil {
		return domain.User{}, err
	}
	u.FirstSeenAt = fromMillis(firstSeen)
	u.LastLoginAt = fromMillis(lastLog)
	return u, nil
}

func (r *usersRepo) UpsertLogin(ctx context.Context, u domain.User) (domain.User, error) {
	// Empty profile fields from the provider keep what we already had. A login
	// never touches an existing approval; only SetAdmin does.
	row := r.db.QueryRowContext(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (subject) DO UPDATE SET
    email          = COALESCE(NULLIF(excluded.email, ''), users.email),
    given_name     = COALESCE(NULLIF(excluded.given_name, ''), users.given_name),
    family_name    = COALESCE(NULLIF(excluded.family_name, ''), users.family_name),
    provider_admin = excluded.provider_admin,
    last_login_at  = excluded.last_login_at
RETURNING `+userColumns,
		u.ID, u.Subject, u.Email, u.GivenName, u.FamilyName, u.IsAdmin, u.ProviderAdmin,
		toMillis(u.FirstSeenAt), toMillis(u.LastLoginAt),
	)
	return scanUser(row)
}

func (r *usersRepo) GetUserBySubject(ctx context.Context, subject string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE subject = ?`, subject)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY last_login_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *usersRepo) SetAdmin(ctx context.Context, subject string, admin bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_admin = ? WHERE subject = ?`, admin, subject)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *usersRepo) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_admin = 1 OR provider_admin = 1`).Scan(&n)
	return n, err
}
