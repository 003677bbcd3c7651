package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/workshop-mailer/internal/domain"
)

type userRecord struct {
	user      domain.User
	delivered map[string]struct{}
	order     []string
}

// UserRepo is an in-memory user directory.
type UserRepo struct {
	mu    sync.RWMutex
	users map[string]*userRecord
	now   func() time.Time
}

// NewUserRepo creates an empty in-memory user directory.
func NewUserRepo() *UserRepo {
	return &UserRepo{
		users: make(map[string]*userRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *UserRepo) FindByAddress(_ context.Context, address string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.users[address]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return rec.snapshot(), nil
}

func (r *UserRepo) CreateUnconfirmed(_ context.Context, address string, attrs domain.UserAttributes, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[address]
	if ok && rec.user.IsConfirmed {
		return domain.ErrUserAlreadyConfirmed
	}
	if !ok {
		rec = &userRecord{delivered: make(map[string]struct{})}
		rec.user.CreatedAt = r.now()
		r.users[address] = rec
	}
	rec.user.Address = address
	rec.user.Attributes = copyAttrs(attrs)
	rec.user.ConfirmationKey = key
	return nil
}

func (r *UserRepo) Confirm(_ context.Context, address, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[address]
	if !ok || rec.user.IsConfirmed || rec.user.ConfirmationKey != key {
		return false, nil
	}
	rec.user.IsConfirmed = true
	return true, nil
}

func (r *UserRepo) RecordDelivery(_ context.Context, address string, emailIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[address]
	if !ok {
		return domain.ErrUserNotFound
	}
	for _, id := range emailIDs {
		if _, seen := rec.delivered[id]; seen {
			continue
		}
		rec.delivered[id] = struct{}{}
		rec.order = append(rec.order, id)
	}
	return nil
}

// Put stores a user as-is, replacing any previous record. Seeding helper for
// tests and local development.
func (r *UserRepo) Put(u domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &userRecord{user: u, delivered: make(map[string]struct{})}
	rec.user.Attributes = copyAttrs(u.Attributes)
	rec.user.DeliveredEmailIDs = nil
	for _, id := range u.DeliveredEmailIDs {
		if _, seen := rec.delivered[id]; !seen {
			rec.delivered[id] = struct{}{}
			rec.order = append(rec.order, id)
		}
	}
	r.users[u.Address] = rec
}

func (rec *userRecord) snapshot() *domain.User {
	u := rec.user
	u.Attributes = copyAttrs(rec.user.Attributes)
	u.DeliveredEmailIDs = append([]string(nil), rec.order...)
	return &u
}

func copyAttrs(a domain.UserAttributes) domain.UserAttributes {
	out := domain.UserAttributes{Name: a.Name}
	if a.Profile != nil {
		out.Profile = make(map[string]string, len(a.Profile))
		for k, v := range a.Profile {
			out.Profile[k] = v
		}
	}
	return out
}
