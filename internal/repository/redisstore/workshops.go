package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/workshop-mailer/internal/domain"
)

// WorkshopRepo implements workshops.Repository on Redis.
type WorkshopRepo struct{ store }

// NewWorkshopRepo creates a Redis-backed workshop registry.
func NewWorkshopRepo(client *redis.Client, prefix string, maxRetries int) *WorkshopRepo {
	return &WorkshopRepo{newStore(client, prefix, maxRetries)}
}

func (r *WorkshopRepo) wsKey(id string) string      { return r.key("ws", id) }
func (r *WorkshopRepo) membersKey(id string) string { return r.key("ws", id, "members") }
func (r *WorkshopRepo) emailsKey(id string) string  { return r.key("ws", id, "emails") }
func (r *WorkshopRepo) secretKey(s string) string   { return r.key("secret", s) }

func (r *WorkshopRepo) Create(ctx context.Context, w *domain.Workshop) error {
	wk, sk := r.wsKey(w.WorkshopID), r.secretKey(w.EmailSecret)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, wk, sk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrWorkshopExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, wk,
				"id", w.WorkshopID,
				"title", w.Title,
				"secret", w.EmailSecret,
				"created_at", w.CreatedAt.UTC().Format(time.RFC3339Nano),
			)
			pipe.Set(ctx, sk, w.WorkshopID, 0)
			return nil
		})
		return err
	}, wk, sk)
	return wrap("create workshop", err)
}

func (r *WorkshopRepo) FindByID(ctx context.Context, workshopID string) (*domain.Workshop, error) {
	var w *domain.Workshop
	err := r.watch(ctx, func(tx *redis.Tx) error {
		var err error
		w, err = r.snapshot(ctx, tx, workshopID, nil)
		return err
	}, r.wsKey(workshopID))
	if err != nil {
		return nil, wrap("get workshop", err)
	}
	return w, nil
}

func (r *WorkshopRepo) FindBySecret(ctx context.Context, secret string) (*domain.Workshop, error) {
	id, err := r.client.Get(ctx, r.secretKey(secret)).Result()
	if err == redis.Nil {
		return nil, domain.ErrWorkshopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve secret: %w", err)
	}
	return r.FindByID(ctx, id)
}

func (r *WorkshopRepo) AppendEmail(ctx context.Context, workshopID string, email domain.Email) (*domain.Workshop, error) {
	email.ReceivedAt = email.ReceivedAt.UTC()
	raw, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("encode email: %w", err)
	}
	var w *domain.Workshop
	err = r.watch(ctx, func(tx *redis.Tx) error {
		var err error
		w, err = r.snapshot(ctx, tx, workshopID, func(pipe redis.Pipeliner) {
			pipe.RPush(ctx, r.emailsKey(workshopID), raw)
		})
		return err
	}, r.wsKey(workshopID))
	if err != nil {
		return nil, wrap("append email", err)
	}
	return w, nil
}

func (r *WorkshopRepo) AddUser(ctx context.Context, workshopID, address string) (*domain.Workshop, error) {
	var w *domain.Workshop
	err := r.watch(ctx, func(tx *redis.Tx) error {
		var err error
		w, err = r.snapshot(ctx, tx, workshopID, func(pipe redis.Pipeliner) {
			pipe.ZAddNX(ctx, r.membersKey(workshopID), redis.Z{Score: r.score(), Member: address})
		})
		return err
	}, r.wsKey(workshopID))
	if err != nil {
		return nil, wrap("add member", err)
	}
	return w, nil
}

func (r *WorkshopRepo) RemoveUser(ctx context.Context, workshopID, address string) (bool, error) {
	n, err := r.client.ZRem(ctx, r.membersKey(workshopID), address).Result()
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	return n > 0, nil
}

// snapshot checks the workshop exists, then queues write (if any) and the
// reads of the full workshop in one MULTI so they see the same state.
func (r *WorkshopRepo) snapshot(ctx context.Context, tx *redis.Tx, workshopID string, write func(redis.Pipeliner)) (*domain.Workshop, error) {
	h, err := tx.HGetAll(ctx, r.wsKey(workshopID)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, domain.ErrWorkshopNotFound
	}

	var members, emails *redis.StringSliceCmd
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if write != nil {
			write(pipe)
		}
		members = pipe.ZRange(ctx, r.membersKey(workshopID), 0, -1)
		emails = pipe.LRange(ctx, r.emailsKey(workshopID), 0, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}

	w := &domain.Workshop{
		WorkshopID:      h["id"],
		Title:           h["title"],
		EmailSecret:     h["secret"],
		RegisteredUsers: members.Val(),
	}
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, h["created_at"])
	for _, raw := range emails.Val() {
		var e domain.Email
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode email: %w", err)
		}
		w.Emails = append(w.Emails, e)
	}
	return w, nil
}
