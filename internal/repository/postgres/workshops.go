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

// WorkshopRepo implements workshops.Repository against PostgreSQL. Every
// mutation runs in a transaction holding the workshop row FOR UPDATE, so the
// returned snapshot reflects exactly the caller's write and nothing racing it.
type WorkshopRepo struct{ db *sql.DB }

// NewWorkshopRepo creates a Postgres-backed workshop registry.
func NewWorkshopRepo(db *sql.DB) *WorkshopRepo { return &WorkshopRepo{db: db} }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const selectWorkshop = `SELECT workshop_id, title, email_secret, created_at FROM workshops`

func (r *WorkshopRepo) Create(ctx context.Context, w *domain.Workshop) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO workshops (workshop_id, title, email_secret, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workshop_id) DO NOTHING
	`, w.WorkshopID, w.Title, w.EmailSecret, w.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		// email_secret collision
		return domain.ErrWorkshopExists
	}
	if err != nil {
		return fmt.Errorf("create workshop: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrWorkshopExists
	}
	return nil
}

func (r *WorkshopRepo) FindByID(ctx context.Context, workshopID string) (*domain.Workshop, error) {
	return r.find(ctx, selectWorkshop+` WHERE workshop_id = $1`, workshopID)
}

func (r *WorkshopRepo) FindBySecret(ctx context.Context, secret string) (*domain.Workshop, error) {
	return r.find(ctx, selectWorkshop+` WHERE email_secret = $1`, secret)
}

func (r *WorkshopRepo) find(ctx context.Context, query string, arg string) (*domain.Workshop, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	w, err := scanWorkshop(tx.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, tx, w); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return w, nil
}

func (r *WorkshopRepo) AppendEmail(ctx context.Context, workshopID string, email domain.Email) (*domain.Workshop, error) {
	attachments, err := json.Marshal(email.Attachments)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}
	if email.Attachments == nil {
		attachments = []byte("[]")
	}
	return r.mutate(ctx, workshopID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workshop_emails (workshop_id, email_id, subject, body, received_at, attachments)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, workshopID, email.EmailID, email.Subject, email.Body, email.ReceivedAt, attachments)
		if err != nil {
			return fmt.Errorf("append email: %w", err)
		}
		return nil
	})
}

func (r *WorkshopRepo) AddUser(ctx context.Context, workshopID, address string) (*domain.Workshop, error) {
	return r.mutate(ctx, workshopID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workshop_members (workshop_id, address) VALUES ($1, $2)
			ON CONFLICT (workshop_id, address) DO NOTHING
		`, workshopID, address)
		if err != nil {
			return fmt.Errorf("add member: %w", err)
		}
		return nil
	})
}

func (r *WorkshopRepo) RemoveUser(ctx context.Context, workshopID, address string) (bool, error) {
	var changed bool
	_, err := r.mutate(ctx, workshopID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM workshop_members WHERE workshop_id = $1 AND address = $2`,
			workshopID, address)
		if err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
		n, _ := res.RowsAffected()
		changed = n > 0
		return nil
	})
	if errors.Is(err, domain.ErrWorkshopNotFound) {
		return false, nil
	}
	return changed, err
}

// mutate locks the workshop row, applies fn and returns the post-update
// snapshot read inside the same transaction.
func (r *WorkshopRepo) mutate(ctx context.Context, workshopID string, fn func(tx *sql.Tx) error) (*domain.Workshop, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	w, err := scanWorkshop(tx.QueryRowContext(ctx, selectWorkshop+` WHERE workshop_id = $1 FOR UPDATE`, workshopID))
	if err != nil {
		return nil, err
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, tx, w); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return w, nil
}

func scanWorkshop(row *sql.Row) (*domain.Workshop, error) {
	w := &domain.Workshop{}
	err := row.Scan(&w.WorkshopID, &w.Title, &w.EmailSecret, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrWorkshopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workshop: %w", err)
	}
	return w, nil
}

func loadChildren(ctx context.Context, q queryer, w *domain.Workshop) error {
	rows, err := q.QueryContext(ctx,
		`SELECT address FROM workshop_members WHERE workshop_id = $1 ORDER BY seq`, w.WorkshopID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			rows.Close()
			return fmt.Errorf("scan member: %w", err)
		}
		w.RegisteredUsers = append(w.RegisteredUsers, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	rows, err = q.QueryContext(ctx, `
		SELECT email_id, subject, body, received_at, attachments
		FROM workshop_emails WHERE workshop_id = $1 ORDER BY seq
	`, w.WorkshopID)
	if err != nil {
		return fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e   domain.Email
			raw []byte
		)
		if err := rows.Scan(&e.EmailID, &e.Subject, &e.Body, &e.ReceivedAt, &raw); err != nil {
			return fmt.Errorf("scan email: %w", err)
		}
		if len(raw) > 0 && string(raw) != "[]" {
			if err := json.Unmarshal(raw, &e.Attachments); err != nil {
				return fmt.Errorf("decode attachments: %w", err)
			}
		}
		e.ReceivedAt = e.ReceivedAt.UTC()
		w.Emails = append(w.Emails, e)
	}
	return rows.Err()
}
