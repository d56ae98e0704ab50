// Package access decides who may act on tickets and admin endpoints.
package access

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"eventtix/internal/auth"
	"eventtix/internal/logger"
	"eventtix/internal/models"

	"github.com/uptrace/bun"
)

var ErrUserNotFound = errors.New("user not found")

// Directory looks up users and their roles.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("id = ?", userID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SyncUser records the caller the first time they show up with a token.
// Existing rows keep their role; roles are granted in the directory.
func (d *DB) SyncUser(ctx context.Context, p auth.Principal) error {
	user := &models.User{
		ID:        p.UserID,
		Email:     p.Email,
		Name:      p.Name,
		Role:      models.RoleUser,
		CreatedAt: time.Now(),
	}
	if user.Email == "" {
		user.Email = p.UserID
	}
	if user.Name == "" {
		user.Name = user.Email
	}
	_, err := d.Bun.NewInsert().Model(user).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	return err
}

// Policy answers access questions from the directory, trusting an admin
// role carried in the caller's token as well.
type Policy struct {
	Directory Directory
}

func (p *Policy) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if principal, ok := auth.FromContext(ctx); ok && principal.UserID == userID && principal.HasRole(string(models.RoleAdmin)) {
		return true, nil
	}
	user, err := p.Directory.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Role == models.RoleAdmin, nil
}

// CanModifyTicket allows the ticket's owner and admins.
func (p *Policy) CanModifyTicket(ctx context.Context, userID string, ticket *models.Ticket) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if ticket.UserID == userID {
		return true, nil
	}
	return p.IsAdmin(ctx, userID)
}

// RequireAdmin lets only admins through.
func RequireAdmin(policy *Policy, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserID(r.Context())
			ok, err := policy.IsAdmin(r.Context(), userID)
			if err != nil {
				log.Error("ACCESS", fmt.Sprintf("Role lookup for %s failed: %v", userID, err))
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if !ok {
				log.LogSecurity("ADMIN_DENIED", fmt.Sprintf("%s %s by %q", r.Method, r.URL.Path, userID))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "Access denied"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SyncUsers records every authenticated caller in the directory.
func SyncUsers(db *DB, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, ok := auth.FromContext(r.Context()); ok {
				if err := db.SyncUser(r.Context(), p); err != nil {
					log.Warn("ACCESS", fmt.Sprintf("Failed to sync user %s: %v", p.UserID, err))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
