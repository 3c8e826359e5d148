package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gua-backend/internal/models"
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

// UpsertProfile writes the profile keyed by user id. Safe to repeat.
func (r *ProfileRepo) UpsertProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_profiles (id, email, name, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
			name = EXCLUDED.name,
			updated_at = EXCLUDED.updated_at
	`, profile.ID, profile.Email, profile.Name, profile.UpdatedAt)
	return err
}
