package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"spesync/internal/core"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{
		Secret:               "test-secret",
		PrimaryAdmin:         "admin",
		PrimaryAdminPassword: "admin123",
		Now:                  func() time.Time { return fixedNow },
		BcryptCost:           bcrypt.MinCost,
	})
	require.NoError(t, err)
	return s
}

func login(t *testing.T, s *Store, user, pass string) (string, core.Identity) {
	t.Helper()
	token, who, err := s.Login(context.Background(), user, pass)
	require.NoError(t, err)
	return token, who
}

func draft(desc string, amount int64) core.Draft {
	return core.Draft{Description: desc, Amount: core.MoneyFromInt(amount), Category: core.Food}
}

func TestLogin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token, who, err := s.Login(ctx, "admin", "admin123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, core.RoleAdmin, who.Role)

	me, err := s.CurrentUser(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, who, me)

	_, _, err = s.Login(ctx, "nobody", "x")
	assert.ErrorIs(t, err, core.ErrAuthentication)
	_, _, err = s.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, core.ErrAuthentication)
	assert.Equal(t, "Invalid password", err.Error())
}

func TestCurrentUser_RejectsExpiredAndForeignTokens(t *testing.T) {
	now := fixedNow
	s, err := New(Config{Secret: "a", TokenTTL: time.Hour, Now: func() time.Time { return now }, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	token, _ := login(t, s, "admin", "admin")

	now = now.Add(2 * time.Hour)
	_, err = s.CurrentUser(context.Background(), token)
	assert.ErrorIs(t, err, core.ErrAuthentication)

	other, err := New(Config{Secret: "b", BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	foreign, _ := login(t, other, "admin", "admin")
	_, err = s.CurrentUser(context.Background(), foreign)
	assert.ErrorIs(t, err, core.ErrAuthentication)
}

func TestCreateExpense_AppliesDefaults(t *testing.T) {
	s := newTestStore(t)
	token, who := login(t, s, "admin", "admin123")

	e, err := s.CreateExpense(context.Background(), token, draft("Lunch", 12))
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, core.Cash, e.PaymentMethod)
	assert.True(t, e.Date.Equal(fixedNow))
	assert.Equal(t, who.Username, e.Username)

	_, err = s.CreateExpense(context.Background(), token, core.Draft{Description: "x"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestListExpenses_OwnOnlyNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Seed("bob", "pw", core.RoleUser)
	require.NoError(t, err)
	admin, _ := login(t, s, "admin", "admin123")
	bob, _ := login(t, s, "bob", "pw")

	old := draft("old", 1)
	old.Date = fixedNow.AddDate(0, 0, -3)
	_, err = s.CreateExpense(ctx, bob, old)
	require.NoError(t, err)
	_, err = s.CreateExpense(ctx, bob, draft("new", 2))
	require.NoError(t, err)
	_, err = s.CreateExpense(ctx, admin, draft("admin's", 3))
	require.NoError(t, err)

	list, err := s.ListExpenses(ctx, bob)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].Description)
	assert.Equal(t, "old", list[1].Description)
}

func TestUpdateAndDelete_Ownership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Seed("bob", "pw", core.RoleUser)
	require.NoError(t, err)
	_, err = s.Seed("eve", "pw", core.RoleUser)
	require.NoError(t, err)
	admin, _ := login(t, s, "admin", "admin123")
	bob, _ := login(t, s, "bob", "pw")
	eve, _ := login(t, s, "eve", "pw")

	e, err := s.CreateExpense(ctx, bob, draft("Taxi", 20))
	require.NoError(t, err)

	_, err = s.UpdateExpense(ctx, eve, e.ID, core.ExpensePatch{Amount: core.Some(core.MoneyFromInt(1))})
	assert.ErrorIs(t, err, core.ErrNotFound)

	updated, err := s.UpdateExpense(ctx, admin, e.ID, core.ExpensePatch{Amount: core.Some(core.MoneyFromInt(25))})
	require.NoError(t, err)
	assert.Equal(t, "25", updated.Amount.String())
	assert.Equal(t, "Taxi", updated.Description)

	err = s.DeleteExpense(ctx, eve, e.ID)
	assert.ErrorIs(t, err, core.ErrAuthorization)
	err = s.DeleteExpense(ctx, bob, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, s.DeleteExpense(ctx, bob, e.ID))

	list, err := s.ListExpenses(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDirectory_AdminOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Seed("bob", "pw", core.RoleUser)
	require.NoError(t, err)
	bob, _ := login(t, s, "bob", "pw")

	_, err = s.ListUsers(ctx, bob)
	assert.ErrorIs(t, err, core.ErrAuthorization)
	_, err = s.ListUsers(ctx, "")
	assert.ErrorIs(t, err, core.ErrAuthentication)
}

func TestDirectory_Rules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	admin, adminID := login(t, s, "admin", "admin123")

	carol, err := s.CreateUser(ctx, admin, core.NewUser{Username: "carol", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, core.RoleUser, carol.Role)
	assert.Empty(t, carol.Password)

	_, err = s.CreateUser(ctx, admin, core.NewUser{Username: "Carol", Password: "pw"})
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, "User already exists", err.Error())

	err = s.DeleteUser(ctx, admin, adminID.ID)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, "Cannot delete the main admin account", err.Error())

	carolToken, _ := login(t, s, "carol", "pw")
	_, err = s.CreateExpense(ctx, carolToken, draft("Rent", 500))
	require.NoError(t, err)

	renamed, err := s.UpdateUser(ctx, admin, carol.ID, core.UserPatch{Username: core.Some("caroline"), Password: core.Some("")})
	require.NoError(t, err)
	assert.Equal(t, "caroline", renamed.Username)
	list, err := s.ListExpenses(ctx, carolToken)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "caroline", list[0].Username)
	login(t, s, "caroline", "pw")

	require.NoError(t, s.DeleteUser(ctx, admin, carol.ID))
	users, err := s.ListUsers(ctx, admin)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Len(t, s.expenses, 0, "expenses of a deleted user are removed")

	_, err = s.CurrentUser(ctx, carolToken)
	assert.ErrorIs(t, err, core.ErrAuthentication)
}

func TestDirectory_PrimaryAdminKeepsNameAndRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	admin, who := login(t, s, "admin", "admin123")

	_, err := s.UpdateUser(ctx, admin, who.ID, core.UserPatch{Username: core.Some("root")})
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, "Cannot rename or demote the main admin account", err.Error())

	_, err = s.UpdateUser(ctx, admin, who.ID, core.UserPatch{Role: core.Some(core.RoleUser)})
	assert.ErrorIs(t, err, core.ErrValidation)

	err = s.DeleteUser(ctx, admin, who.ID)
	assert.ErrorIs(t, err, core.ErrValidation, "delete guard still holds")

	same, err := s.UpdateUser(ctx, admin, who.ID, core.UserPatch{
		Username: core.Some("admin"),
		Role:     core.Some(core.RoleAdmin),
		Password: core.Some("newpass"),
	})
	require.NoError(t, err)
	assert.Equal(t, "admin", same.Username)
	assert.Equal(t, core.RoleAdmin, same.Role)
	login(t, s, "admin", "newpass")
}
