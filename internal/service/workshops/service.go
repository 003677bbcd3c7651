package workshops

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/pkg/logger"
	"github.com/ignite/workshop-mailer/internal/pkg/token"
	"github.com/ignite/workshop-mailer/internal/routing"
)

var workshopIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Service provisions and reads workshops.
type Service struct {
	repo      Repository
	resolver  *routing.Resolver
	newSecret token.Source
	now       func() time.Time
}

// NewService creates a workshop service. resolver builds routing addresses
// for newly provisioned workshops.
func NewService(repo Repository, resolver *routing.Resolver) *Service {
	if resolver == nil {
		resolver = routing.NewResolver("")
	}
	return &Service{
		repo:      repo,
		resolver:  resolver,
		newSecret: token.Secret,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Provisioned is the result of creating a workshop.
type Provisioned struct {
	Workshop       *domain.Workshop
	RoutingAddress string
}

// Create provisions a workshop with a fresh routing secret.
func (s *Service) Create(ctx context.Context, workshopID, title string) (*Provisioned, error) {
	workshopID = strings.TrimSpace(workshopID)
	if !workshopIDPattern.MatchString(workshopID) {
		return nil, fmt.Errorf("invalid workshopId %q: %w", workshopID, domain.ErrMalformedInput)
	}

	w := &domain.Workshop{
		WorkshopID:  workshopID,
		Title:       strings.TrimSpace(title),
		EmailSecret: s.newSecret(),
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create workshop %s: %w", workshopID, err)
	}

	logger.Info("workshop provisioned", "workshop", workshopID)
	return &Provisioned{Workshop: w, RoutingAddress: s.resolver.Address(w.EmailSecret)}, nil
}

// Get returns a workshop by id.
func (s *Service) Get(ctx context.Context, workshopID string) (*domain.Workshop, error) {
	return s.repo.FindByID(ctx, workshopID)
}
