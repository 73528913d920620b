package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// UserRepository maintains the messaging identities mirrored from the auth
// service. Display names are resolved by SQL joins; this interface only
// covers keeping the mirror fresh and validating referenced ids.
type UserRepository interface {
	EnsureUser(ctx context.Context, userID int, name string) error
	UsersExist(ctx context.Context, userIDs []int) (bool, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// EnsureUser upserts the identity carried by a verified token, keeping the
// local display name in sync with the auth service.
func (r *UserRepo) EnsureUser(ctx context.Context, userID int, name string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, name) VALUES ($1, $2)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, userID, name)
	return err
}

// UsersExist reports whether every given id names a known user.
func (r *UserRepo) UsersExist(ctx context.Context, userIDs []int) (bool, error) {
	if len(userIDs) == 0 {
		return true, nil
	}
	unique := map[int]struct{}{}
	for _, id := range userIDs {
		unique[id] = struct{}{}
	}
	ids := make([]int, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return false, err
	}
	return count == len(ids), nil
}
