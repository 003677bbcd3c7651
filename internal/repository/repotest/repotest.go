// Package repotest holds behavioral suites shared by every repository
// backend. A backend test calls RunUserSuite and RunWorkshopSuite with a
// constructor returning a fresh, empty store.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/service/users"
	"github.com/ignite/workshop-mailer/internal/service/workshops"
)

// Concurrency is the number of goroutines used by race tests.
const Concurrency = 16

// RunUserSuite exercises the users.Repository contract.
func RunUserSuite(t *testing.T, newRepo func(t *testing.T) users.Repository) {
	t.Run("FindMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindByAddress(context.Background(), "ghost@example.com")
		assert.True(t, errors.Is(err, domain.ErrUserNotFound), "got %v", err)
	})

	t.Run("CreateAndConfirm", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		attrs := domain.UserAttributes{Name: "Jan", Profile: map[string]string{"city": "Warsaw"}}

		require.NoError(t, repo.CreateUnconfirmed(ctx, "jan@example.com", attrs, "k1"))
		u, err := repo.FindByAddress(ctx, "jan@example.com")
		require.NoError(t, err)
		assert.False(t, u.IsConfirmed)
		assert.Equal(t, "Jan", u.Attributes.Name)
		assert.Equal(t, "Warsaw", u.Attributes.Profile["city"])

		ok, err := repo.Confirm(ctx, "jan@example.com", "wrong")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.Confirm(ctx, "jan@example.com", "k1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Confirm(ctx, "jan@example.com", "k1")
		require.NoError(t, err)
		assert.False(t, ok, "second confirmation must not report a transition")

		u, err = repo.FindByAddress(ctx, "jan@example.com")
		require.NoError(t, err)
		assert.True(t, u.IsConfirmed)
	})

	t.Run("ConfirmMissing", func(t *testing.T) {
		repo := newRepo(t)
		ok, err := repo.Confirm(context.Background(), "ghost@example.com", "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SignupOverwritesUnconfirmed", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.CreateUnconfirmed(ctx, "jan@example.com", domain.UserAttributes{}, "old"))
		require.NoError(t, repo.CreateUnconfirmed(ctx, "jan@example.com", domain.UserAttributes{Name: "New"}, "new"))

		ok, err := repo.Confirm(ctx, "jan@example.com", "old")
		require.NoError(t, err)
		assert.False(t, ok, "replaced key must be dead")

		ok, err = repo.Confirm(ctx, "jan@example.com", "new")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("SignupConfirmedConflicts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		ConfirmedUser(t, repo, "jan@example.com")

		err := repo.CreateUnconfirmed(ctx, "jan@example.com", domain.UserAttributes{}, "k2")
		assert.True(t, errors.Is(err, domain.ErrUserAlreadyConfirmed), "got %v", err)

		u, err := repo.FindByAddress(ctx, "jan@example.com")
		require.NoError(t, err)
		assert.True(t, u.IsConfirmed)
	})

	t.Run("RecordDeliveryUnions", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		ConfirmedUser(t, repo, "jan@example.com")

		require.NoError(t, repo.RecordDelivery(ctx, "jan@example.com", []string{"a", "b"}))
		require.NoError(t, repo.RecordDelivery(ctx, "jan@example.com", []string{"b", "c"}))

		u, err := repo.FindByAddress(ctx, "jan@example.com")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, u.DeliveredEmailIDs)
	})

	t.Run("ConcurrentConfirmSingleWinner", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.CreateUnconfirmed(ctx, "jan@example.com", domain.UserAttributes{}, "k"))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < Concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.Confirm(ctx, "jan@example.com", "k")
				if err == nil && ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("ConcurrentRecordDeliveryKeepsAll", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		ConfirmedUser(t, repo, "jan@example.com")

		var wg sync.WaitGroup
		want := make([]string, 0, Concurrency)
		for i := 0; i < Concurrency; i++ {
			id := fmt.Sprintf("email-%02d", i)
			want = append(want, id)
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, repo.RecordDelivery(ctx, "jan@example.com", []string{id}))
			}()
		}
		wg.Wait()

		u, err := repo.FindByAddress(ctx, "jan@example.com")
		require.NoError(t, err)
		got := append([]string(nil), u.DeliveredEmailIDs...)
		sort.Strings(got)
		assert.Equal(t, want, got)
	})
}

// ConfirmedUser signs up and confirms address.
func ConfirmedUser(t *testing.T, repo users.Repository, address string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.CreateUnconfirmed(ctx, address, domain.UserAttributes{}, "seed-key"))
	ok, err := repo.Confirm(ctx, address, "seed-key")
	require.NoError(t, err)
	require.True(t, ok)
}

// NewWorkshop builds a workshop fixture with a derived secret.
func NewWorkshop(id string) *domain.Workshop {
	return &domain.Workshop{
		WorkshopID:  id,
		Title:       "Workshop " + id,
		EmailSecret: "secret-" + id,
		CreatedAt:   time.Date(2014, 9, 1, 10, 0, 0, 0, time.UTC),
	}
}

// NewEmail builds an email fixture.
func NewEmail(id, subject string) domain.Email {
	return domain.Email{
		EmailID:    id,
		Subject:    subject,
		Body:       "body of " + subject,
		ReceivedAt: time.Date(2014, 9, 2, 10, 0, 0, 0, time.UTC),
	}
}

// RunWorkshopSuite exercises the workshops.Repository contract.
func RunWorkshopSuite(t *testing.T, newRepo func(t *testing.T) workshops.Repository) {
	t.Run("CreateAndFind", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewWorkshop("go-101")))

		w, err := repo.FindByID(ctx, "go-101")
		require.NoError(t, err)
		assert.Equal(t, "secret-go-101", w.EmailSecret)
		assert.Empty(t, w.RegisteredUsers)
		assert.Empty(t, w.Emails)

		w, err = repo.FindBySecret(ctx, "secret-go-101")
		require.NoError(t, err)
		assert.Equal(t, "go-101", w.WorkshopID)

		err = repo.Create(ctx, NewWorkshop("go-101"))
		assert.True(t, errors.Is(err, domain.ErrWorkshopExists), "got %v", err)
	})

	t.Run("FindMissing", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		_, err := repo.FindByID(ctx, "nope")
		assert.True(t, errors.Is(err, domain.ErrWorkshopNotFound))
		_, err = repo.FindBySecret(ctx, "nope")
		assert.True(t, errors.Is(err, domain.ErrWorkshopNotFound))
	})

	t.Run("AppendEmailReturnsSnapshot", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewWorkshop("go-101")))
		_, err := repo.AddUser(ctx, "go-101", "jan@example.com")
		require.NoError(t, err)

		w, err := repo.AppendEmail(ctx, "go-101", NewEmail("e1", "Intro"))
		require.NoError(t, err)
		require.Len(t, w.Emails, 1)
		assert.Equal(t, "Intro", w.Emails[0].Subject)
		assert.Equal(t, []string{"jan@example.com"}, w.RegisteredUsers)

		w, err = repo.AppendEmail(ctx, "go-101", NewEmail("e2", "Repo link"))
		require.NoError(t, err)
		require.Len(t, w.Emails, 2)
		assert.Equal(t, "e1", w.Emails[0].EmailID)
		assert.Equal(t, "e2", w.Emails[1].EmailID)
		assert.True(t, w.Emails[1].ReceivedAt.Equal(NewEmail("e2", "").ReceivedAt))

		_, err = repo.AppendEmail(ctx, "nope", NewEmail("e3", "x"))
		assert.True(t, errors.Is(err, domain.ErrWorkshopNotFound))
	})

	t.Run("AddUserIsIdempotent", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewWorkshop("go-101")))

		for i := 0; i < 3; i++ {
			w, err := repo.AddUser(ctx, "go-101", "jan@example.com")
			require.NoError(t, err)
			assert.Equal(t, []string{"jan@example.com"}, w.RegisteredUsers)
		}

		_, err := repo.AddUser(ctx, "nope", "jan@example.com")
		assert.True(t, errors.Is(err, domain.ErrWorkshopNotFound))
	})

	t.Run("RemoveUser", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewWorkshop("go-101")))
		_, err := repo.AddUser(ctx, "go-101", "jan@example.com")
		require.NoError(t, err)
		_, err = repo.AddUser(ctx, "go-101", "adam@example.com")
		require.NoError(t, err)

		changed, err := repo.RemoveUser(ctx, "go-101", "jan@example.com")
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = repo.RemoveUser(ctx, "go-101", "jan@example.com")
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = repo.RemoveUser(ctx, "nope", "jan@example.com")
		require.NoError(t, err)
		assert.False(t, changed)

		w, err := repo.FindByID(ctx, "go-101")
		require.NoError(t, err)
		assert.Equal(t, []string{"adam@example.com"}, w.RegisteredUsers)
	})

	t.Run("ConcurrentAppendsLoseNothing", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewWorkshop("go-101")))

		var wg sync.WaitGroup
		for i := 0; i < Concurrency; i++ {
			id := fmt.Sprintf("e%02d", i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.AppendEmail(ctx, "go-101", NewEmail(id, "subject "+id))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		w, err := repo.FindByID(ctx, "go-101")
		require.NoError(t, err)
		assert.Len(t, w.Emails, Concurrency)
	})

	t.Run("ConcurrentAddUserSingleMembership", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewWorkshop("go-101")))

		var wg sync.WaitGroup
		for i := 0; i < Concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.AddUser(ctx, "go-101", "jan@example.com")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		w, err := repo.FindByID(ctx, "go-101")
		require.NoError(t, err)
		assert.Equal(t, []string{"jan@example.com"}, w.RegisteredUsers)
	})
}
