package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/aussiebroadwan/watchlist/internal/auth/cache"
	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/internal/auth/store"
	"github.com/aussiebroadwan/watchlist/pkg/slogx"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrLastAdmin    = errors.New("cannot remove the last admin")
)

// UserService is the admin view of the user directory. Admin rights granted
// here are folded into principals on their next validation.
type UserService struct {
	Store store.Store
	Cache *cache.Cache
}

// ListUsers returns every user that has logged in, most recent first.
func (s *UserService) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.Store.Users().ListUsers(ctx)
}

// GetUser fetches one profile by provider subject.
func (s *UserService) GetUser(ctx context.Context, subject string) (domain.User, error) {
	u, err := s.Store.Users().GetUserBySubject(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	return u, err
}

// SetAdmin grants or revokes the explicit approval for subject on behalf of
// actor. The last stored admin cannot be demoted. A provider admin keeps the
// rights its provider grants whatever the approval says. Cached sessions of
// subject are dropped so the change applies to their next request.
func (s *UserService) SetAdmin(ctx context.Context, actor domain.Principal, subject string, admin bool) (domain.User, error) {
	subject = strings.TrimSpace(subject)

	var updated domain.User
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		u, err := tx.Users().GetUserBySubject(ctx, subject)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		// Demoting an approval only removes an admin when the provider does
		// not also grant it.
		if u.IsAdmin && !admin && !u.ProviderAdmin {
			n, err := tx.Users().CountAdmins(ctx)
			if err != nil {
				return err
			}
			if n <= 1 {
				return ErrLastAdmin
			}
		}

		if err := tx.Users().SetAdmin(ctx, subject, admin); err != nil {
			return err
		}
		u.IsAdmin = admin
		updated = u
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}

	dropped := s.Cache.DeleteSubject(subject)
	slogx.FromContext(ctx).Info("admin flag changed",
		slog.String("actor", actor.Subject),
		slog.String("subject", subject),
		slog.Bool("admin", admin),
		slog.Int("sessions_dropped", dropped),
	)
	return updated, nil
}
