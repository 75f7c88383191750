package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"spesync/internal/core"
	"spesync/internal/service"
	"spesync/internal/service/memory"
	"spesync/internal/session"
)

// countingDirectory counts calls that reach the service.
type countingDirectory struct {
	service.Directory
	calls int

	// duringList runs once inside the next ListUsers, before the service answers.
	duringList func()
}

func (c *countingDirectory) ListUsers(ctx context.Context, token string) ([]core.User, error) {
	c.calls++
	if hook := c.duringList; hook != nil {
		c.duringList = nil
		hook()
	}
	return c.Directory.ListUsers(ctx, token)
}

func (c *countingDirectory) DeleteUser(ctx context.Context, token, id string) error {
	c.calls++
	return c.Directory.DeleteUser(ctx, token, id)
}

func setup(t *testing.T) (*memory.Store, *session.Store, *countingDirectory, *Roster) {
	t.Helper()
	svc, err := memory.New(memory.Config{PrimaryAdmin: "admin", PrimaryAdminPassword: "admin", BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	_, err = svc.Seed("alice", "pw", core.RoleUser)
	require.NoError(t, err)
	sess := session.New(svc, nil, session.Options{})
	dir := &countingDirectory{Directory: svc}
	r := New(dir, sess, Options{})
	t.Cleanup(r.Close)
	return svc, sess, dir, r
}

func TestNonAdminFailsLocally(t *testing.T) {
	_, sess, dir, r := setup(t)
	ctx := context.Background()

	_, err := r.List(ctx)
	assert.ErrorIs(t, err, core.ErrAuthentication)

	require.NoError(t, sess.Login(ctx, "alice", "pw"))
	_, err = r.List(ctx)
	assert.ErrorIs(t, err, core.ErrAuthorization)
	_, err = r.Delete(ctx, "anything")
	assert.ErrorIs(t, err, core.ErrAuthorization)
	assert.Zero(t, dir.calls)
}

func TestMutationsReloadRoster(t *testing.T) {
	_, sess, _, r := setup(t)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "admin", "admin"))

	users, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	users, err = r.Create(ctx, core.NewUser{Username: "carol", Password: "pw"})
	require.NoError(t, err)
	assert.Len(t, users, 3)
	assert.Len(t, r.Users(), 3)

	var carolID string
	for _, u := range users {
		if u.Username == "carol" {
			carolID = u.ID
		}
	}
	require.NotEmpty(t, carolID)

	users, err = r.Update(ctx, carolID, core.UserPatch{Role: core.Some(core.RoleAdmin)})
	require.NoError(t, err)
	for _, u := range users {
		if u.ID == carolID {
			assert.Equal(t, core.RoleAdmin, u.Role)
		}
	}

	users, err = r.Delete(ctx, carolID)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestRejectedDeleteStillReloadsAndReportsReason(t *testing.T) {
	_, sess, dir, r := setup(t)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "admin", "admin"))
	adminID := sess.Current().Identity.ID

	dir.calls = 0
	users, err := r.Delete(ctx, adminID)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Contains(t, err.Error(), "Cannot delete the main admin account")
	assert.Len(t, users, 2)
	assert.Equal(t, 2, dir.calls, "delete followed by a reload")
}

func TestLogoutClearsRoster(t *testing.T) {
	_, sess, _, r := setup(t)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "admin", "admin"))
	_, err := r.List(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, r.Users())

	sess.Logout(ctx)
	assert.Empty(t, r.Users())
}

func TestReloadAfterLogoutIsDiscarded(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		_, sess, dir, r := setup(t)
		ctx := context.Background()
		require.NoError(t, sess.Login(ctx, "admin", "admin"))
		dir.duringList = func() { sess.Logout(ctx) }

		users, err := r.List(ctx)
		assert.ErrorIs(t, err, ErrStale)
		assert.Nil(t, users)
		assert.Empty(t, r.Users())
	})

	t.Run("reload after a mutation", func(t *testing.T) {
		_, sess, dir, r := setup(t)
		ctx := context.Background()
		require.NoError(t, sess.Login(ctx, "admin", "admin"))
		dir.duringList = func() { sess.Logout(ctx) }

		users, err := r.Create(ctx, core.NewUser{Username: "carol", Password: "pw"})
		assert.ErrorIs(t, err, ErrStale)
		assert.Nil(t, users)
		assert.Empty(t, r.Users())

		// A fresh admin session starts from nothing and sees the created user.
		require.NoError(t, sess.Login(ctx, "admin", "admin"))
		users, err = r.List(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 3)
	})
}

func TestLocalValidation(t *testing.T) {
	_, sess, dir, r := setup(t)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "admin", "admin"))
	dir.calls = 0

	_, err := r.Create(ctx, core.NewUser{Username: "x"})
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = r.Update(ctx, "id", core.UserPatch{Password: core.Some("")})
	assert.ErrorIs(t, err, core.ErrEmptyPatch)
	assert.Zero(t, dir.calls)
}
