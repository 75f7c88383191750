package expenses

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"spesync/internal/core"
	"spesync/internal/service"
	"spesync/internal/service/memory"
	"spesync/internal/session"
)

type env struct {
	svc   *memory.Store
	sess  *session.Store
	cache *Cache
}

func newEnv(t *testing.T) *env {
	t.Helper()
	svc, err := memory.New(memory.Config{PrimaryAdmin: "admin", PrimaryAdminPassword: "admin", BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	for _, u := range []string{"alice", "bob"} {
		_, err := svc.Seed(u, "pw", core.RoleUser)
		require.NoError(t, err)
	}
	sess := session.New(svc, nil, session.Options{})
	cache := New(svc, sess, Options{})
	t.Cleanup(cache.Close)
	return &env{svc: svc, sess: sess, cache: cache}
}

func (e *env) login(t *testing.T, user string) {
	t.Helper()
	require.NoError(t, e.sess.Login(context.Background(), user, "pw"))
	require.NoError(t, e.cache.Load(context.Background()))
}

func coffee(amount int64) core.Draft {
	return core.Draft{Description: "Coffee", Amount: core.MoneyFromInt(amount), Category: core.Food}
}

func TestCreate_RoundTrip(t *testing.T) {
	e := newEnv(t)
	e.login(t, "alice")
	ctx := context.Background()

	_, ok := e.cache.Create(ctx, coffee(3))
	require.True(t, ok)
	before, total := e.cache.Len(), e.cache.Total()

	created, ok := e.cache.Create(ctx, coffee(5))
	require.True(t, ok)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, before+1, e.cache.Len())
	assert.True(t, e.cache.Total().Equal(total.Add(core.MoneyFromInt(5))))
	assert.Equal(t, created.ID, e.cache.Expenses()[0].ID)
	assert.NoError(t, e.cache.LastFailure())
}

func TestCreate_InvalidDraftNeverReachesService(t *testing.T) {
	e := newEnv(t)
	e.login(t, "alice")

	_, ok := e.cache.Create(context.Background(), core.Draft{Description: "", Amount: core.MoneyFromInt(1), Category: core.Food})
	assert.False(t, ok)
	assert.ErrorIs(t, e.cache.LastFailure(), core.ErrValidation)

	list, err := e.svc.ListExpenses(context.Background(), mustToken(t, e.sess))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUpdate_Reconciliation(t *testing.T) {
	e := newEnv(t)
	e.login(t, "alice")
	ctx := context.Background()
	first, ok := e.cache.Create(ctx, coffee(1))
	require.True(t, ok)
	_, ok = e.cache.Create(ctx, coffee(2))
	require.True(t, ok)
	n := e.cache.Len()

	got, err := e.cache.Update(ctx, first.ID, core.ExpensePatch{Amount: core.Some(core.MoneyFromInt(42))})
	require.NoError(t, err)
	assert.Equal(t, "42", got.Amount.String())

	cached, ok := e.cache.Get(first.ID)
	require.True(t, ok)
	assert.True(t, cached.Amount.Equal(core.MoneyFromInt(42)))
	assert.Equal(t, n, e.cache.Len())
}

func TestUpdate_FailureLeavesStateUntouched(t *testing.T) {
	e := newEnv(t)
	e.login(t, "alice")
	ctx := context.Background()
	_, ok := e.cache.Create(ctx, coffee(1))
	require.True(t, ok)
	before := e.cache.Expenses()

	_, err := e.cache.Update(ctx, "missing", core.ExpensePatch{Amount: core.Some(core.MoneyFromInt(9))})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Contains(t, err.Error(), "Expense not found")
	assert.Equal(t, before, e.cache.Expenses())

	_, err = e.cache.Update(ctx, before[0].ID, core.ExpensePatch{})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestDelete_NotOwnerLeavesCacheUnchanged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	bobToken, _, err := e.svc.Login(ctx, "bob", "pw")
	require.NoError(t, err)
	bobs, err := e.svc.CreateExpense(ctx, bobToken, coffee(7))
	require.NoError(t, err)

	e.login(t, "alice")
	_, ok := e.cache.Create(ctx, coffee(1))
	require.True(t, ok)
	before := e.cache.Expenses()

	assert.False(t, e.cache.Delete(ctx, bobs.ID))
	assert.Equal(t, before, e.cache.Expenses())
	assert.ErrorIs(t, e.cache.LastFailure(), core.ErrAuthorization)
	assert.True(t, e.sess.IsAuthenticated(), "authorization failures keep the session")

	assert.True(t, e.cache.Delete(ctx, before[0].ID))
	assert.Zero(t, e.cache.Len())
	assert.NoError(t, e.cache.LastFailure())
}

func TestIdentitySwitchIsolation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.login(t, "alice")
	_, ok := e.cache.Create(ctx, coffee(1))
	require.True(t, ok)

	e.sess.Logout(ctx)
	assert.Zero(t, e.cache.Len(), "logout clears synchronously")
	assert.Empty(t, e.cache.Owner())

	e.login(t, "bob")
	_, ok = e.cache.Create(ctx, coffee(2))
	require.True(t, ok)
	assert.Equal(t, "bob", e.cache.Owner())
	for _, x := range e.cache.Expenses() {
		assert.Equal(t, "bob", x.Username)
	}
}

func TestAuthenticationFailureEndsSession(t *testing.T) {
	e := newEnv(t)
	e.login(t, "alice")

	st := e.sess.Current()
	admin, _, err := e.svc.Login(context.Background(), "admin", "admin")
	require.NoError(t, err)
	require.NoError(t, e.svc.DeleteUser(context.Background(), admin, st.Identity.ID))

	err = e.cache.Load(context.Background())
	assert.ErrorIs(t, err, core.ErrAuthentication)
	assert.False(t, e.sess.IsAuthenticated())
}

func TestLoggedOutCallsFailLocally(t *testing.T) {
	e := newEnv(t)
	assert.ErrorIs(t, e.cache.Load(context.Background()), core.ErrAuthentication)
	_, ok := e.cache.Create(context.Background(), coffee(1))
	assert.False(t, ok)
	assert.ErrorIs(t, e.cache.LastFailure(), core.ErrAuthentication)
}

// gatedStore blocks the method named by gate until release is closed.
// Every other call passes straight through.
type gatedStore struct {
	service.ExpenseStore
	gate    string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore(inner service.ExpenseStore, gate string) *gatedStore {
	return &gatedStore{ExpenseStore: inner, gate: gate, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) wait(method string) {
	if method != g.gate {
		return
	}
	g.once.Do(func() { close(g.entered) })
	<-g.release
}

func (g *gatedStore) ListExpenses(ctx context.Context, token string) ([]core.Expense, error) {
	g.wait("list")
	return g.ExpenseStore.ListExpenses(ctx, token)
}

func (g *gatedStore) CreateExpense(ctx context.Context, token string, d core.Draft) (core.Expense, error) {
	g.wait("create")
	return g.ExpenseStore.CreateExpense(ctx, token, d)
}

func (g *gatedStore) UpdateExpense(ctx context.Context, token, id string, p core.ExpensePatch) (core.Expense, error) {
	g.wait("update")
	return g.ExpenseStore.UpdateExpense(ctx, token, id, p)
}

func (g *gatedStore) DeleteExpense(ctx context.Context, token, id string) error {
	g.wait("delete")
	return g.ExpenseStore.DeleteExpense(ctx, token, id)
}

// staleFixture logs alice in with one stored expense and a cache reading
// through a store gated on method.
func staleFixture(t *testing.T, method string) (*session.Store, *gatedStore, *Cache, core.Expense) {
	t.Helper()
	svc, err := memory.New(memory.Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	_, err = svc.Seed("alice", "pw", core.RoleUser)
	require.NoError(t, err)
	sess := session.New(svc, nil, session.Options{})
	require.NoError(t, sess.Login(context.Background(), "alice", "pw"))
	token, _ := sess.Token()
	existing, err := svc.CreateExpense(context.Background(), token, coffee(5))
	require.NoError(t, err)

	gated := newGatedStore(svc, method)
	cache := New(gated, sess, Options{})
	t.Cleanup(cache.Close)
	if method != "list" {
		require.NoError(t, cache.Load(context.Background()))
		require.Equal(t, 1, cache.Len())
	}
	return sess, gated, cache, existing
}

// logoutWhileInFlight waits for the gated call, logs out and lets the
// service answer.
func logoutWhileInFlight(t *testing.T, sess *session.Store, gated *gatedStore) {
	t.Helper()
	select {
	case <-gated.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the service")
	}
	sess.Logout(context.Background())
	close(gated.release)
}

func TestLoad_DiscardsResponseFromPreviousEpoch(t *testing.T) {
	sess, gated, cache, _ := staleFixture(t, "list")

	done := make(chan error, 1)
	go func() { done <- cache.Load(context.Background()) }()
	logoutWhileInFlight(t, sess, gated)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Zero(t, cache.Len())
}

func TestCreate_DiscardsResponseFromPreviousEpoch(t *testing.T) {
	sess, gated, cache, _ := staleFixture(t, "create")

	done := make(chan bool, 1)
	go func() {
		_, ok := cache.Create(context.Background(), coffee(9))
		done <- ok
	}()
	logoutWhileInFlight(t, sess, gated)

	assert.False(t, <-done)
	assert.Zero(t, cache.Len())
	assert.Empty(t, cache.Owner())
	assert.NoError(t, cache.LastFailure())
}

func TestUpdate_DiscardsResponseFromPreviousEpoch(t *testing.T) {
	sess, gated, cache, existing := staleFixture(t, "update")

	done := make(chan error, 1)
	go func() {
		_, err := cache.Update(context.Background(), existing.ID, core.ExpensePatch{Description: core.Some("Tea")})
		done <- err
	}()
	logoutWhileInFlight(t, sess, gated)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Zero(t, cache.Len())
	_, ok := cache.Get(existing.ID)
	assert.False(t, ok)
}

func TestDelete_DiscardsResponseFromPreviousEpoch(t *testing.T) {
	sess, gated, cache, existing := staleFixture(t, "delete")
	revision := cache.Revision()

	done := make(chan bool, 1)
	go func() { done <- cache.Delete(context.Background(), existing.ID) }()
	logoutWhileInFlight(t, sess, gated)

	assert.False(t, <-done)
	assert.Zero(t, cache.Len())
	assert.Equal(t, revision+1, cache.Revision(), "only the logout reset counted")
}

// failingStore answers every mutation with a server error.
type failingStore struct {
	service.ExpenseStore
}

func serverError() error {
	return &core.Error{Kind: core.KindTransport, Status: 500}
}

func (failingStore) CreateExpense(context.Context, string, core.Draft) (core.Expense, error) {
	return core.Expense{}, serverError()
}

func (failingStore) UpdateExpense(context.Context, string, string, core.ExpensePatch) (core.Expense, error) {
	return core.Expense{}, serverError()
}

func (failingStore) DeleteExpense(context.Context, string, string) error {
	return serverError()
}

func TestTransportFailures(t *testing.T) {
	e := newEnv(t)
	e.login(t, "alice")
	ctx := context.Background()
	existing, ok := e.cache.Create(ctx, coffee(4))
	require.True(t, ok)
	before := e.cache.Expenses()

	e.cache.store = failingStore{ExpenseStore: e.svc}

	t.Run("create is swallowed", func(t *testing.T) {
		_, ok := e.cache.Create(ctx, coffee(1))
		assert.False(t, ok)
		assert.Equal(t, before, e.cache.Expenses())
		assert.ErrorIs(t, e.cache.LastFailure(), core.ErrTransport)
	})

	t.Run("delete is swallowed", func(t *testing.T) {
		assert.False(t, e.cache.Delete(ctx, existing.ID))
		assert.Equal(t, before, e.cache.Expenses())
		assert.ErrorIs(t, e.cache.LastFailure(), core.ErrTransport)
	})

	t.Run("update surfaces the status", func(t *testing.T) {
		_, err := e.cache.Update(ctx, existing.ID, core.ExpensePatch{Description: core.Some("Tea")})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrTransport)
		assert.Contains(t, err.Error(), "request failed with status 500")
		assert.Equal(t, before, e.cache.Expenses())
	})

	assert.True(t, e.sess.IsAuthenticated(), "transport failures keep the session")
}

type recordingNotifier struct {
	ops []string
}

func (r *recordingNotifier) ExpenseChanged(_ context.Context, username, id, op string) error {
	r.ops = append(r.ops, username+":"+op)
	return nil
}

func TestNotifierSeesSuccessfulMutations(t *testing.T) {
	e := newEnv(t)
	n := &recordingNotifier{}
	e.cache.notifier = n
	e.login(t, "alice")
	ctx := context.Background()

	created, ok := e.cache.Create(ctx, coffee(1))
	require.True(t, ok)
	_, err := e.cache.Update(ctx, created.ID, core.ExpensePatch{Description: core.Some("Tea")})
	require.NoError(t, err)
	require.True(t, e.cache.Delete(ctx, created.ID))
	assert.False(t, e.cache.Delete(ctx, created.ID))

	assert.Equal(t, []string{"alice:create", "alice:update", "alice:delete"}, n.ops)
}

func TestSortNewestFirst(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC) }
	list := []core.Expense{{ID: "a", Date: d(1)}, {ID: "b", Date: d(3)}, {ID: "c", Date: d(3)}, {ID: "d", Date: d(2)}}
	sortNewestFirst(list)
	ids := make([]string, len(list))
	for i, x := range list {
		ids[i] = x.ID
	}
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids)
}

func mustToken(t *testing.T, s *session.Store) string {
	t.Helper()
	token, _ := s.Token()
	require.NotEmpty(t, token)
	return token
}
