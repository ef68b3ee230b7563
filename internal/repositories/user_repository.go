package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kdsun75/comprj/internal/models"
)

// UserRepository exposes the profile records used to enrich inbox rows.
// Records are written by the chat handlers themselves, from token claims.
type UserRepository interface {
	BulkUsers(ctx context.Context, ids []string) ([]models.User, error)
	UpsertUser(ctx context.Context, user models.User) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// BulkUsers fetches profiles for the given ids. Missing ids are simply
// absent from the result.
func (r *UserRepo) BulkUsers(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT id, display_name, avatar_url FROM users WHERE id = ANY($1)`, pq.Array(ids))
	return users, err
}

// UpsertUser writes a profile record, updating name and avatar on conflict.
func (r *UserRepo) UpsertUser(ctx context.Context, user models.User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, display_name, avatar_url) VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url`,
		user.ID, user.DisplayName, user.AvatarURL)
	return err
}
