package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/workshop-mailer/internal/domain"
)

// UserRepo implements users.Repository against PostgreSQL.
type UserRepo struct{ db *sql.DB }

// NewUserRepo creates a Postgres-backed user directory.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) FindByAddress(ctx context.Context, address string) (*domain.User, error) {
	var (
		u         domain.User
		profile   []byte
		delivered pq.StringArray
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT u.address, u.is_confirmed, u.confirmation_key, u.name, u.profile, u.created_at,
		       COALESCE(array_agg(d.email_id ORDER BY d.seq) FILTER (WHERE d.email_id IS NOT NULL), '{}')
		FROM workshop_users u
		LEFT JOIN user_deliveries d ON d.address = u.address
		WHERE u.address = $1
		GROUP BY u.address
	`, address).Scan(
		&u.Address, &u.IsConfirmed, &u.ConfirmationKey, &u.Attributes.Name, &profile, &u.CreatedAt,
		&delivered,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := decodeProfile(profile, &u.Attributes); err != nil {
		return nil, err
	}
	u.DeliveredEmailIDs = []string(delivered)
	return &u, nil
}

// CreateUnconfirmed upserts in one statement. The WHERE clause on the
// conflict branch leaves a confirmed row untouched, which shows up as zero
// affected rows.
func (r *UserRepo) CreateUnconfirmed(ctx context.Context, address string, attrs domain.UserAttributes, key string) error {
	profile, err := encodeProfile(attrs)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO workshop_users (address, is_confirmed, confirmation_key, name, profile, created_at)
		VALUES ($1, FALSE, $2, $3, $4, NOW())
		ON CONFLICT (address) DO UPDATE
			SET confirmation_key = EXCLUDED.confirmation_key,
			    name = EXCLUDED.name,
			    profile = EXCLUDED.profile
			WHERE workshop_users.is_confirmed = FALSE
	`, address, key, attrs.Name, profile)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUserAlreadyConfirmed
	}
	return nil
}

func (r *UserRepo) Confirm(ctx context.Context, address, key string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE workshop_users SET is_confirmed = TRUE
		WHERE address = $1 AND confirmation_key = $2 AND is_confirmed = FALSE
	`, address, key)
	if err != nil {
		return false, fmt.Errorf("confirm user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm user: %w", err)
	}
	return n == 1, nil
}

func (r *UserRepo) RecordDelivery(ctx context.Context, address string, emailIDs []string) error {
	if len(emailIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_deliveries (address, email_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT (address, email_id) DO NOTHING
	`, address, pq.Array(emailIDs))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func encodeProfile(attrs domain.UserAttributes) ([]byte, error) {
	if attrs.Profile == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(attrs.Profile)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return b, nil
}

func decodeProfile(raw []byte, attrs *domain.UserAttributes) error {
	if len(raw) == 0 || string(raw) == "{}" {
		return nil
	}
	if err := json.Unmarshal(raw, &attrs.Profile); err != nil {
		return fmt.Errorf("decode profile: %w", err)
	}
	return nil
}
