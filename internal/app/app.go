// Package app holds the explicit application context: one session, the
// caches bound to it and the derived views, wired over a single backend.
package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"spesync/internal/core"
	"spesync/internal/dashboard"
	"spesync/internal/directory"
	"spesync/internal/expenses"
	"spesync/internal/log"
	"spesync/internal/observability"
	"spesync/internal/service"
	"spesync/internal/session"
)

type Options struct {
	Logger   *log.Logger
	Metrics  *observability.Metrics
	Tokens   session.TokenStore
	Notifier expenses.Notifier
	// ViewCacheSize and ViewTTL size the memo of derived views.
	ViewCacheSize int
	ViewTTL       time.Duration
}

type App struct {
	Session  *session.Store
	Expenses *expenses.Cache
	Users    *directory.Roster
	Views    *dashboard.Views

	logger *log.Logger
}

func New(backend service.Backend, opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	sess := session.New(backend, opts.Tokens, session.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	cache := expenses.New(backend, sess, expenses.Options{
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Notifier: opts.Notifier,
	})
	return &App{
		Session:  sess,
		Expenses: cache,
		Users:    directory.New(backend, sess, directory.Options{Logger: opts.Logger, Metrics: opts.Metrics}),
		Views:    dashboard.New(cache, opts.ViewCacheSize, opts.ViewTTL),
		logger:   opts.Logger.WithComponent(log.ComponentApp),
	}
}

// Activate restores a persisted session if there is no live one, then
// loads the expenses and, for admins, the roster. It returns the restore
// error; load failures are logged and left to the caches.
func (a *App) Activate(ctx context.Context) error {
	if !a.Session.IsAuthenticated() {
		if err := a.Session.Restore(ctx); err != nil {
			return err
		}
	}
	if !a.Session.IsAuthenticated() {
		return nil
	}
	_ = a.Resync(ctx)
	return nil
}

// Login authenticates and loads the new identity's data.
func (a *App) Login(ctx context.Context, username, password string) error {
	if err := a.Session.Login(ctx, username, password); err != nil {
		return err
	}
	_ = a.Resync(ctx)
	return nil
}

func (a *App) Logout(ctx context.Context) {
	a.Session.Logout(ctx)
}

// Resync reloads every cache bound to the session concurrently and
// returns the first error.
func (a *App) Resync(ctx context.Context) error {
	st := a.Session.Current()
	if !st.Authenticated {
		return core.Authentication("not logged in")
	}

	var g errgroup.Group
	g.Go(func() error {
		return a.Expenses.Load(ctx)
	})
	if st.Identity.IsAdmin() {
		g.Go(func() error {
			_, err := a.Users.List(ctx)
			return err
		})
	}
	err := g.Wait()
	if err != nil && !errors.Is(err, expenses.ErrStale) && !errors.Is(err, directory.ErrStale) {
		a.logger.WarnContext(ctx, "Resync failed", log.NewFields().WithOperation(log.OpResync).WithEpoch(st.Epoch).WithError(err).ToSlice()...)
	}
	return err
}

// Summary returns the current aggregates for f around ref.
func (a *App) Summary(f core.Filter, ref time.Time) core.Aggregates {
	return a.Views.View(f, ref)
}

// Close detaches the caches from the session.
func (a *App) Close() {
	a.Users.Close()
	a.Expenses.Close()
}
