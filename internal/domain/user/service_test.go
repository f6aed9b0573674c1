package user

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRepository struct {
	mu    sync.Mutex
	users map[string]*User
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{users: make(map[string]*User)}
}

func (r *fakeRepository) Create(u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	r.users[u.Username] = &cp
	return nil
}

func (r *fakeRepository) FindByID(id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepository) FindByUsername(username string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func seedUser(t *testing.T, repo *fakeRepository, username, password string) *User {
	t.Helper()

	u := &User{Username: username, Active: true}
	if password != "" {
		hash, err := HashPassword(password)
		require.NoError(t, err)
		u.PasswordHash = hash
	}
	require.NoError(t, repo.Create(u))
	return u
}

func TestVerifyCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)
	seeded := seedUser(t, repo, "casey", "hunter2")

	u, err := svc.VerifyCredentials("casey", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, u.ID)

	_, err = svc.VerifyCredentials("casey", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Unknown user answers identically to a wrong password.
	_, err = svc.VerifyCredentials("nobody", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyCredentialsPasswordlessAccount(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)
	seedUser(t, repo, "linked-only", "")

	_, err := svc.VerifyCredentials("linked-only", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyCredentialsInactiveAccount(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)
	u := seedUser(t, repo, "casey", "hunter2")

	u.Active = false
	require.NoError(t, repo.Create(u))

	_, err := svc.VerifyCredentials("casey", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestProvisionCreatesPasswordlessAccount(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)

	u, err := svc.Provision("ember-idp:upstream-user-1")
	require.NoError(t, err)
	assert.True(t, u.Active)
	assert.Empty(t, u.PasswordHash)

	_, err = svc.Provision("ember-idp:upstream-user-1")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestFindByIDUnknown(t *testing.T) {
	svc := NewService(newFakeRepository())

	_, err := svc.FindByID(uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, VerifyPassword("hunter2", hash))
	assert.False(t, VerifyPassword("Hunter2", hash))
	assert.False(t, VerifyPassword("hunter2", "not-an-encoded-hash"))
}
