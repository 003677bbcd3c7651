package users

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/workshop-mailer/internal/domain"
)

// mockRepo is an in-memory repository for testing.
type mockRepo struct {
	mu    sync.Mutex
	store map[string]*domain.User
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[string]*domain.User)}
}

func (m *mockRepo) FindByAddress(_ context.Context, address string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[address]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockRepo) CreateUnconfirmed(_ context.Context, address string, attrs domain.UserAttributes, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.store[address]; ok && u.IsConfirmed {
		return domain.ErrUserAlreadyConfirmed
	}
	m.store[address] = &domain.User{Address: address, Attributes: attrs, ConfirmationKey: key}
	return nil
}

func (m *mockRepo) Confirm(_ context.Context, address, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[address]
	if !ok || u.IsConfirmed || u.ConfirmationKey != key {
		return false, nil
	}
	u.IsConfirmed = true
	return true, nil
}

func (m *mockRepo) RecordDelivery(_ context.Context, address string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[address]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.DeliveredEmailIDs = append(u.DeliveredEmailIDs, ids...)
	return nil
}

// recordingNotifier remembers which notifications were sent.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingNotifier) SignupAccepted(_ context.Context, address string, _ domain.UserAttributes, key string) {
	r.add("accepted:" + address + ":" + key)
}
func (r *recordingNotifier) SignupDenied(_ context.Context, address string) { r.add("denied:" + address) }
func (r *recordingNotifier) Confirmed(_ context.Context, address string)    { r.add("confirmed:" + address) }
func (r *recordingNotifier) ConfirmDenied(_ context.Context, address string) {
	r.add("confirm-denied:" + address)
}

func fixedKey(k string) func() string { return func() string { return k } }

func TestSignup_CreatesUnconfirmedUser(t *testing.T) {
	repo := newMockRepo()
	n := &recordingNotifier{}
	svc := NewService(repo, WithNotifier(n), WithKeySource(fixedKey("k1")))
	ctx := context.Background()

	key, err := svc.Signup(ctx, " User@Example.com ", domain.UserAttributes{Name: "Jan"})
	require.NoError(t, err)
	assert.Equal(t, "k1", key)

	u, err := svc.Get(ctx, "user@example.com")
	require.NoError(t, err)
	assert.False(t, u.IsConfirmed)
	assert.Equal(t, "Jan", u.Attributes.Name)
	assert.Equal(t, []string{"accepted:user@example.com:k1"}, n.events)
}

func TestSignup_ConfirmedUserConflicts(t *testing.T) {
	repo := newMockRepo()
	n := &recordingNotifier{}
	svc := NewService(repo, WithNotifier(n), WithKeySource(fixedKey("k1")))
	ctx := context.Background()

	_, err := svc.Signup(ctx, "user@example.com", domain.UserAttributes{})
	require.NoError(t, err)
	ok, err := svc.Confirm(ctx, "user@example.com", "k1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Signup(ctx, "user@example.com", domain.UserAttributes{})
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Contains(t, n.events, "denied:user@example.com")
}

func TestSignup_RejectsBadAddress(t *testing.T) {
	svc := NewService(newMockRepo())
	for _, addr := range []string{"", "nobody", "@example.com", "user@", "us er@example.com"} {
		_, err := svc.Signup(context.Background(), addr, domain.UserAttributes{})
		assert.True(t, errors.Is(err, domain.ErrMalformedInput), "address %q", addr)
	}
}

func TestConfirm_WrongKeyDoesNotConfirm(t *testing.T) {
	repo := newMockRepo()
	n := &recordingNotifier{}
	svc := NewService(repo, WithNotifier(n), WithKeySource(fixedKey("right")))
	ctx := context.Background()

	_, err := svc.Signup(ctx, "user@example.com", domain.UserAttributes{})
	require.NoError(t, err)

	ok, err := svc.Confirm(ctx, "user@example.com", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, n.events, "confirm-denied:user@example.com")

	u, _ := svc.Get(ctx, "user@example.com")
	assert.False(t, u.IsConfirmed)
}

func TestConfirm_UnknownUser(t *testing.T) {
	svc := NewService(newMockRepo())

	ok, err := svc.Confirm(context.Background(), "ghost@example.com", "k")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, domain.ErrUserNotFound))
}

func TestConfirm_MissingKey(t *testing.T) {
	svc := NewService(newMockRepo())

	_, err := svc.Confirm(context.Background(), "user@example.com", " ")
	assert.True(t, errors.Is(err, domain.ErrMalformedInput))
}

func TestConfirm_ConcurrentOnlyOneSucceeds(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, WithKeySource(fixedKey("k")))
	ctx := context.Background()
	_, err := svc.Signup(ctx, "user@example.com", domain.UserAttributes{})
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.Confirm(ctx, "user@example.com", "k")
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}
