// Package expenses keeps the authenticated identity's expenses in memory
// and reconciles them with the service after every mutation.
//
// Create and Delete apply the service's answer locally; Update replaces
// the record and then reloads the full list. Responses to requests issued
// under an older session epoch are discarded.
package expenses

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"spesync/internal/core"
	"spesync/internal/log"
	"spesync/internal/observability"
	"spesync/internal/service"
	"spesync/internal/session"
)

// ErrStale reports a response that arrived after the session changed.
var ErrStale = errors.New("response discarded: session changed while in flight")

// Session is the part of session.Store the cache depends on.
type Session interface {
	Token() (string, uint64)
	Current() session.State
	Subscribe(session.Listener) func()
	InvalidateIfRejected(ctx context.Context, err error) bool
}

// Notifier is told about successful mutations so other clients of the same
// identity can reload.
type Notifier interface {
	ExpenseChanged(ctx context.Context, username, expenseID, op string) error
}

type Options struct {
	Logger   *log.Logger
	Metrics  *observability.Metrics
	Notifier Notifier
}

// Snapshot is a consistent view of the cache.
type Snapshot struct {
	Epoch    uint64
	Revision uint64
	Owner    string
	Expenses []core.Expense
}

type Cache struct {
	store    service.ExpenseStore
	sess     Session
	notifier Notifier
	logger   *log.Logger
	metrics  *observability.Metrics

	mu          sync.RWMutex
	items       []core.Expense
	epoch       uint64
	owner       string
	revision    uint64
	lastFailure error

	unsubscribe func()
}

// New creates a cache bound to sess. It starts empty; call Load after
// the session becomes authenticated.
func New(store service.ExpenseStore, sess Session, opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	c := &Cache{
		store:    store,
		sess:     sess,
		notifier: opts.Notifier,
		logger:   opts.Logger.WithComponent(log.ComponentExpense),
		metrics:  opts.Metrics,
	}
	c.reset(sess.Current())
	c.unsubscribe = sess.Subscribe(c.reset)
	return c
}

// Close detaches the cache from the session.
func (c *Cache) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// reset drops everything on a session transition.
func (c *Cache) reset(st session.State) {
	c.mu.Lock()
	c.items = nil
	c.epoch = st.Epoch
	c.owner = ""
	if st.Authenticated {
		c.owner = st.Identity.Username
	}
	c.revision++
	c.lastFailure = nil
	c.mu.Unlock()
	c.metrics.SetCached(0)
}

// Load replaces the local state with the service's list.
func (c *Cache) Load(ctx context.Context) error {
	token, epoch := c.sess.Token()
	if token == "" {
		return core.Authentication("not logged in")
	}

	list, err := c.store.ListExpenses(ctx, token)
	c.metrics.Resync(log.ComponentExpense, err)
	if err != nil {
		c.failed(ctx, log.OpLoad, "", epoch, err)
		return fmt.Errorf("load expenses: %w", err)
	}
	sortNewestFirst(list)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.discard(ctx, log.OpLoad, epoch)
		return ErrStale
	}
	c.items = list
	c.revision++
	n := len(c.items)
	c.mu.Unlock()

	c.metrics.SetCached(n)
	c.logger.DebugContext(ctx, "Expenses loaded", log.FieldCount, n, log.FieldEpoch, epoch)
	return nil
}

// Create validates d locally, sends it and prepends the stored record.
// Failures are logged and kept in LastFailure; the cache is unchanged.
func (c *Cache) Create(ctx context.Context, d core.Draft) (core.Expense, bool) {
	if err := d.Validate(); err != nil {
		c.rejected(ctx, log.OpCreate, "", err)
		return core.Expense{}, false
	}
	token, epoch := c.sess.Token()
	if token == "" {
		c.rejected(ctx, log.OpCreate, "", core.Authentication("not logged in"))
		return core.Expense{}, false
	}

	e, err := c.store.CreateExpense(ctx, token, d)
	if err != nil {
		c.failed(ctx, log.OpCreate, "", epoch, err)
		return core.Expense{}, false
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.discard(ctx, log.OpCreate, epoch)
		return core.Expense{}, false
	}
	c.items = append([]core.Expense{e}, c.items...)
	c.revision++
	c.lastFailure = nil
	n := len(c.items)
	c.mu.Unlock()

	c.succeeded(ctx, log.OpCreate, e, n)
	return e, true
}

// Update sends p, replaces the local record with the service's answer and
// then reloads the whole list. The reload is best effort: its failure is
// logged, the replaced record stays.
func (c *Cache) Update(ctx context.Context, id string, p core.ExpensePatch) (core.Expense, error) {
	if err := p.Validate(); err != nil {
		c.rejected(ctx, log.OpUpdate, id, err)
		return core.Expense{}, err
	}
	token, epoch := c.sess.Token()
	if token == "" {
		err := core.Authentication("not logged in")
		c.rejected(ctx, log.OpUpdate, id, err)
		return core.Expense{}, err
	}

	e, err := c.store.UpdateExpense(ctx, token, id, p)
	if err != nil {
		c.failed(ctx, log.OpUpdate, id, epoch, err)
		return core.Expense{}, fmt.Errorf("update expense %s: %w", id, err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.discard(ctx, log.OpUpdate, epoch)
		return core.Expense{}, ErrStale
	}
	if i := c.indexLocked(id); i >= 0 {
		c.items[i] = e
	}
	c.revision++
	c.lastFailure = nil
	n := len(c.items)
	c.mu.Unlock()

	c.succeeded(ctx, log.OpUpdate, e, n)

	if err := c.Load(ctx); err != nil {
		c.logger.WarnContext(ctx, "Reload after update failed", log.NewFields().
			WithOperation(log.OpResync).
			WithError(err).ToSlice()...)
	}
	return e, nil
}

// Delete removes id at the service and then locally. Failures, including
// deleting someone else's record, are logged and kept in LastFailure.
func (c *Cache) Delete(ctx context.Context, id string) bool {
	token, epoch := c.sess.Token()
	if token == "" {
		c.rejected(ctx, log.OpDelete, id, core.Authentication("not logged in"))
		return false
	}

	if err := c.store.DeleteExpense(ctx, token, id); err != nil {
		c.failed(ctx, log.OpDelete, id, epoch, err)
		return false
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.discard(ctx, log.OpDelete, epoch)
		return false
	}
	var removed core.Expense
	if i := c.indexLocked(id); i >= 0 {
		removed = c.items[i]
		c.items = slices.Delete(slices.Clone(c.items), i, i+1)
	} else {
		removed.ID = id
	}
	c.revision++
	c.lastFailure = nil
	n := len(c.items)
	c.mu.Unlock()

	c.succeeded(ctx, log.OpDelete, removed, n)
	return true
}

// Total is recomputed from the held records on every call.
func (c *Cache) Total() core.Money {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.Sum(c.items)
}

// Expenses returns a copy, newest first.
func (c *Cache) Expenses() []core.Expense {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) Get(id string) (core.Expense, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.items[i], true
	}
	return core.Expense{}, false
}

// Revision changes whenever the held records may have changed.
func (c *Cache) Revision() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revision
}

// Owner is the username the records belong to, "" when logged out.
func (c *Cache) Owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// LastFailure is the most recent error swallowed by Create or Delete.
func (c *Cache) LastFailure() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFailure
}

func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Epoch:    c.epoch,
		Revision: c.revision,
		Owner:    c.owner,
		Expenses: slices.Clone(c.items),
	}
}

func (c *Cache) indexLocked(id string) int {
	return slices.IndexFunc(c.items, func(e core.Expense) bool { return e.ID == id })
}

// rejected records a failure detected before any request was sent.
func (c *Cache) rejected(ctx context.Context, op, id string, err error) {
	c.mu.Lock()
	c.lastFailure = err
	c.mu.Unlock()
	c.metrics.Mutation(log.ComponentExpense, op, "rejected")
	c.logger.WarnContext(ctx, "Expense "+op+" rejected locally", c.fields(op, id, err)...)
}

// failed records a service or transport failure. An authentication
// failure for the current epoch ends the session.
func (c *Cache) failed(ctx context.Context, op, id string, epoch uint64, err error) {
	c.mu.Lock()
	current := c.epoch == epoch
	if current {
		c.lastFailure = err
	}
	c.mu.Unlock()
	if op != log.OpLoad {
		c.metrics.Mutation(log.ComponentExpense, op, "failed")
	}
	c.logger.ErrorContext(ctx, "Expense "+op+" failed", c.fields(op, id, err)...)
	if current {
		c.sess.InvalidateIfRejected(ctx, err)
	}
}

func (c *Cache) discard(ctx context.Context, op string, epoch uint64) {
	c.metrics.Stale(log.ComponentExpense)
	c.logger.InfoContext(ctx, "Discarding response from previous session",
		log.FieldOperation, op,
		log.FieldEpoch, epoch)
}

func (c *Cache) succeeded(ctx context.Context, op string, e core.Expense, n int) {
	c.metrics.Mutation(log.ComponentExpense, op, "ok")
	c.metrics.SetCached(n)
	c.logger.InfoContext(ctx, "Expense "+op+" applied", log.NewFields().
		WithOperation(op).
		WithExpense(e.ID, e.Description, e.Amount.String(), string(e.Category)).
		ToSlice()...)

	if c.notifier == nil {
		return
	}
	owner := c.Owner()
	if err := c.notifier.ExpenseChanged(ctx, owner, e.ID, op); err != nil {
		c.logger.WarnContext(ctx, "Publishing change notice failed", log.FieldError, err.Error())
	}
}

func (c *Cache) fields(op, id string, err error) []any {
	f := log.NewFields().WithOperation(op).WithError(err)
	if id != "" {
		f[log.FieldExpenseID] = id
	}
	return f.ToSlice()
}

// sortNewestFirst keeps the service's order when it is already by date
// descending and sorts stably otherwise.
func sortNewestFirst(list []core.Expense) {
	newestFirst := func(i, j int) bool { return list[i].Date.After(list[j].Date) }
	if sort.SliceIsSorted(list, newestFirst) {
		return
	}
	sort.SliceStable(list, newestFirst)
}
