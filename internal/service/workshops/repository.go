package workshops

import (
	"context"

	"github.com/ignite/workshop-mailer/internal/domain"
)

// Repository defines the data access contract for workshops. Mutations that
// return a *domain.Workshop return the snapshot taken in the same atomic
// step as the write, so callers see the roster and emails exactly as they
// were right after their own change.
type Repository interface {
	// Create stores a new workshop or fails with domain.ErrWorkshopExists.
	Create(ctx context.Context, w *domain.Workshop) error

	// FindByID returns the workshop or domain.ErrWorkshopNotFound.
	FindByID(ctx context.Context, workshopID string) (*domain.Workshop, error)

	// FindBySecret returns the workshop owning the routing secret or
	// domain.ErrWorkshopNotFound.
	FindBySecret(ctx context.Context, secret string) (*domain.Workshop, error)

	// AppendEmail appends email to the workshop's email sequence.
	AppendEmail(ctx context.Context, workshopID string, email domain.Email) (*domain.Workshop, error)

	// AddUser adds address to the roster; adding a present member is a no-op.
	AddUser(ctx context.Context, workshopID, address string) (*domain.Workshop, error)

	// RemoveUser removes address from the roster and reports whether the
	// roster changed. A missing workshop reports false.
	RemoveUser(ctx context.Context, workshopID, address string) (bool, error)
}
