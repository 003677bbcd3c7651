package memory

import (
	"context"
	"sync"

	"github.com/ignite/workshop-mailer/internal/domain"
)

// WorkshopRepo is an in-memory workshop registry.
type WorkshopRepo struct {
	mu        sync.RWMutex
	workshops map[string]*domain.Workshop
	bySecret  map[string]string
}

// NewWorkshopRepo creates an empty in-memory workshop registry.
func NewWorkshopRepo() *WorkshopRepo {
	return &WorkshopRepo{
		workshops: make(map[string]*domain.Workshop),
		bySecret:  make(map[string]string),
	}
}

func (r *WorkshopRepo) Create(_ context.Context, w *domain.Workshop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workshops[w.WorkshopID]; ok {
		return domain.ErrWorkshopExists
	}
	if _, ok := r.bySecret[w.EmailSecret]; ok {
		return domain.ErrWorkshopExists
	}
	r.workshops[w.WorkshopID] = cloneWorkshop(w)
	r.bySecret[w.EmailSecret] = w.WorkshopID
	return nil
}

func (r *WorkshopRepo) FindByID(_ context.Context, workshopID string) (*domain.Workshop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workshops[workshopID]
	if !ok {
		return nil, domain.ErrWorkshopNotFound
	}
	return cloneWorkshop(w), nil
}

func (r *WorkshopRepo) FindBySecret(_ context.Context, secret string) (*domain.Workshop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySecret[secret]
	if !ok {
		return nil, domain.ErrWorkshopNotFound
	}
	return cloneWorkshop(r.workshops[id]), nil
}

func (r *WorkshopRepo) AppendEmail(_ context.Context, workshopID string, email domain.Email) (*domain.Workshop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workshops[workshopID]
	if !ok {
		return nil, domain.ErrWorkshopNotFound
	}
	w.Emails = append(w.Emails, cloneEmail(email))
	return cloneWorkshop(w), nil
}

func (r *WorkshopRepo) AddUser(_ context.Context, workshopID, address string) (*domain.Workshop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workshops[workshopID]
	if !ok {
		return nil, domain.ErrWorkshopNotFound
	}
	if !w.HasMember(address) {
		w.RegisteredUsers = append(w.RegisteredUsers, address)
	}
	return cloneWorkshop(w), nil
}

func (r *WorkshopRepo) RemoveUser(_ context.Context, workshopID, address string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workshops[workshopID]
	if !ok {
		return false, nil
	}
	for i, u := range w.RegisteredUsers {
		if u == address {
			w.RegisteredUsers = append(w.RegisteredUsers[:i], w.RegisteredUsers[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func cloneWorkshop(w *domain.Workshop) *domain.Workshop {
	out := *w
	out.RegisteredUsers = append([]string(nil), w.RegisteredUsers...)
	out.Emails = make([]domain.Email, len(w.Emails))
	for i, e := range w.Emails {
		out.Emails[i] = cloneEmail(e)
	}
	return &out
}

func cloneEmail(e domain.Email) domain.Email {
	e.Attachments = append([]domain.Attachment(nil), e.Attachments...)
	return e
}
