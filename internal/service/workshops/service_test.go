package workshops

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/repository/memory"
	"github.com/ignite/workshop-mailer/internal/routing"
)

func TestCreate_ProvisionsSecretAndRoutingAddress(t *testing.T) {
	resolver := routing.NewResolver("system.warsjawa.pl")
	svc := NewService(memory.NewWorkshopRepo(), resolver)
	ctx := context.Background()

	p, err := svc.Create(ctx, "go-101", " Go for beginners ")
	require.NoError(t, err)
	assert.Equal(t, "Go for beginners", p.Workshop.Title)
	assert.Len(t, p.Workshop.EmailSecret, 32)

	secret, err := resolver.Secret(p.RoutingAddress)
	require.NoError(t, err)
	assert.Equal(t, p.Workshop.EmailSecret, secret)

	got, err := svc.Get(ctx, "go-101")
	require.NoError(t, err)
	assert.Equal(t, p.Workshop.EmailSecret, got.EmailSecret)
}

func TestCreate_Duplicate(t *testing.T) {
	svc := NewService(memory.NewWorkshopRepo(), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, "go-101", "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "go-101", "")
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestCreate_InvalidID(t *testing.T) {
	svc := NewService(memory.NewWorkshopRepo(), nil)
	for _, id := range []string{"", " ", "has space", "slash/id", "-leading"} {
		_, err := svc.Create(context.Background(), id, "")
		assert.True(t, errors.Is(err, domain.ErrMalformedInput), "id %q", id)
	}
}

func TestGet_Missing(t *testing.T) {
	svc := NewService(memory.NewWorkshopRepo(), nil)
	_, err := svc.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrWorkshopNotFound))
}
