package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/pkg/logger"
	"github.com/ignite/workshop-mailer/internal/pkg/token"
)

// Service implements signup and confirmation. It is safe for concurrent use.
type Service struct {
	repo     Repository
	notifier Notifier
	newKey   token.Source
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier sets the notifier used for signup/confirmation mail.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithKeySource overrides confirmation key generation (tests).
func WithKeySource(src token.Source) Option {
	return func(s *Service) { s.newKey = src }
}

// NewService creates a user service backed by the given repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, notifier: nopNotifier{}, newKey: token.ConfirmationKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAddress normalizes address and rejects obviously unusable values.
func ValidateAddress(address string) (string, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return "", fmt.Errorf("email is required: %w", domain.ErrMalformedInput)
	}
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 || strings.ContainsAny(address, " \t\r\n") {
		return "", fmt.Errorf("%q is not an email address: %w", address, domain.ErrMalformedInput)
	}
	return address, nil
}

// Signup registers an unconfirmed user and returns the confirmation key that
// was mailed to them. A confirmed address yields domain.ErrUserAlreadyConfirmed.
func (s *Service) Signup(ctx context.Context, address string, attrs domain.UserAttributes) (string, error) {
	address, err := ValidateAddress(address)
	if err != nil {
		return "", err
	}

	key := s.newKey()
	if err := s.repo.CreateUnconfirmed(ctx, address, attrs, key); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyConfirmed) {
			logger.Info("signup denied, address already confirmed", "email", address)
			s.notifier.SignupDenied(ctx, address)
		}
		return "", fmt.Errorf("signup %s: %w", address, err)
	}

	logger.Info("user signed up", "email", address)
	s.notifier.SignupAccepted(ctx, address, attrs, key)
	return key, nil
}

// Confirm consumes a confirmation key. It returns (true, nil) when this call
// confirmed the user, (false, nil) when the key did not match or the user was
// already confirmed, and domain.ErrUserNotFound for unknown addresses.
func (s *Service) Confirm(ctx context.Context, address, key string) (bool, error) {
	address, err := ValidateAddress(address)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(key) == "" {
		return false, fmt.Errorf("key is required: %w", domain.ErrMalformedInput)
	}

	ok, err := s.repo.Confirm(ctx, address, key)
	if err != nil {
		return false, fmt.Errorf("confirm %s: %w", address, err)
	}
	if ok {
		logger.Info("user confirmed", "email", address)
		s.notifier.Confirmed(ctx, address)
		return true, nil
	}

	if _, err := s.repo.FindByAddress(ctx, address); err != nil {
		return false, fmt.Errorf("confirm %s: %w", address, err)
	}
	s.notifier.ConfirmDenied(ctx, address)
	return false, nil
}

// Get returns the user stored under address.
func (s *Service) Get(ctx context.Context, address string) (*domain.User, error) {
	address, err := ValidateAddress(address)
	if err != nil {
		return nil, err
	}
	return s.repo.FindByAddress(ctx, address)
}
