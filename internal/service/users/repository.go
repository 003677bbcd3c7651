package users

import (
	"context"

	"github.com/ignite/workshop-mailer/internal/domain"
)

// Repository defines the data access contract for users.
type Repository interface {
	// FindByAddress returns the user or domain.ErrUserNotFound.
	FindByAddress(ctx context.Context, address string) (*domain.User, error)

	// CreateUnconfirmed upserts an unconfirmed user carrying key. It fails with
	// domain.ErrUserAlreadyConfirmed when a confirmed user owns the address.
	// An existing unconfirmed record is overwritten; its delivered set is kept.
	CreateUnconfirmed(ctx context.Context, address string, attrs domain.UserAttributes, key string) error

	// Confirm flips IsConfirmed to true only if the record is unconfirmed and
	// key matches, in one compare-and-swap. It reports whether it flipped.
	Confirm(ctx context.Context, address, key string) (bool, error)

	// RecordDelivery unions emailIDs into the user's delivered set.
	RecordDelivery(ctx context.Context, address string, emailIDs []string) error
}

// Notifier tells a user about the outcome of signup and confirmation.
// Implementations must not fail the calling operation; they log instead.
type Notifier interface {
	SignupAccepted(ctx context.Context, address string, attrs domain.UserAttributes, key string)
	SignupDenied(ctx context.Context, address string)
	Confirmed(ctx context.Context, address string)
	ConfirmDenied(ctx context.Context, address string)
}

type nopNotifier struct{}

func (nopNotifier) SignupAccepted(context.Context, string, domain.UserAttributes, string) {}
func (nopNotifier) SignupDenied(context.Context, string)                                {}
func (nopNotifier) Confirmed(context.Context, string)                                   {}
func (nopNotifier) ConfirmDenied(context.Context, string)                               {}
