package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/workshop-mailer/internal/domain"
)

// UserRepo implements users.Repository on Redis.
type UserRepo struct{ store }

// NewUserRepo creates a Redis-backed user directory.
func NewUserRepo(client *redis.Client, prefix string, maxRetries int) *UserRepo {
	return &UserRepo{newStore(client, prefix, maxRetries)}
}

func (r *UserRepo) userKey(address string) string      { return r.key("user", address) }
func (r *UserRepo) deliveredKey(address string) string { return r.key("user", address, "delivered") }

func (r *UserRepo) FindByAddress(ctx context.Context, address string) (*domain.User, error) {
	var (
		fields    *redis.MapStringStringCmd
		delivered *redis.StringSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, r.userKey(address))
		delivered = pipe.ZRange(ctx, r.deliveredKey(address), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	h := fields.Val()
	if len(h) == 0 {
		return nil, domain.ErrUserNotFound
	}

	u := &domain.User{
		Address:           h["address"],
		IsConfirmed:       h["confirmed"] == "1",
		ConfirmationKey:   h["key"],
		Attributes:        domain.UserAttributes{Name: h["name"]},
		DeliveredEmailIDs: delivered.Val(),
	}
	if p := h["profile"]; p != "" {
		if err := json.Unmarshal([]byte(p), &u.Attributes.Profile); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
	}
	if ts := h["created_at"]; ts != "" {
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return u, nil
}

func (r *UserRepo) CreateUnconfirmed(ctx context.Context, address string, attrs domain.UserAttributes, key string) error {
	var profile []byte
	if len(attrs.Profile) > 0 {
		var err error
		if profile, err = json.Marshal(attrs.Profile); err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}
	}
	uk := r.userKey(address)

	err := r.watch(ctx, func(tx *redis.Tx) error {
		h, err := tx.HMGet(ctx, uk, "confirmed", "created_at").Result()
		if err != nil {
			return err
		}
		if h[0] == "1" {
			return domain.ErrUserAlreadyConfirmed
		}
		created, _ := h[1].(string)
		if created == "" {
			created = r.now().Format(time.RFC3339Nano)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, uk,
				"address", address,
				"confirmed", "0",
				"key", key,
				"name", attrs.Name,
				"profile", string(profile),
				"created_at", created,
			)
			return nil
		})
		return err
	}, uk)
	return wrap("create user", err)
}

func (r *UserRepo) Confirm(ctx context.Context, address, key string) (bool, error) {
	uk := r.userKey(address)
	var flipped bool

	err := r.watch(ctx, func(tx *redis.Tx) error {
		flipped = false
		h, err := tx.HMGet(ctx, uk, "confirmed", "key").Result()
		if err != nil {
			return err
		}
		confirmed, _ := h[0].(string)
		stored, _ := h[1].(string)
		if confirmed != "0" || stored != key {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, uk, "confirmed", "1")
			return nil
		})
		if err == nil {
			flipped = true
		}
		return err
	}, uk)
	if err != nil {
		return false, wrap("confirm user", err)
	}
	return flipped, nil
}

func (r *UserRepo) RecordDelivery(ctx context.Context, address string, emailIDs []string) error {
	if len(emailIDs) == 0 {
		return nil
	}
	uk := r.userKey(address)
	score := r.score()
	members := make([]redis.Z, len(emailIDs))
	for i, id := range emailIDs {
		members[i] = redis.Z{Score: score + float64(i), Member: id}
	}

	err := r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, uk).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrUserNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAddNX(ctx, r.deliveredKey(address), members...)
			return nil
		})
		return err
	}, uk)
	return wrap("record delivery", err)
}
