// Package directory is the admin-only user roster. Every mutation is
// followed by a full reload; the roster is never patched locally.
package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"spesync/internal/core"
	"spesync/internal/log"
	"spesync/internal/observability"
	"spesync/internal/service"
	"spesync/internal/session"
)

// ErrStale reports a response that arrived after the session changed.
var ErrStale = errors.New("response discarded: session changed while in flight")

type Session interface {
	Token() (string, uint64)
	Current() session.State
	Subscribe(session.Listener) func()
	InvalidateIfRejected(ctx context.Context, err error) bool
}

type Options struct {
	Logger  *log.Logger
	Metrics *observability.Metrics
}

type Roster struct {
	svc     service.Directory
	sess    Session
	logger  *log.Logger
	metrics *observability.Metrics

	mu    sync.RWMutex
	users []core.User
	epoch uint64
	admin bool

	unsubscribe func()
}

func New(svc service.Directory, sess Session, opts Options) *Roster {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	r := &Roster{
		svc:     svc,
		sess:    sess,
		logger:  opts.Logger.WithComponent(log.ComponentDirectory),
		metrics: opts.Metrics,
	}
	r.reset(sess.Current())
	r.unsubscribe = sess.Subscribe(r.reset)
	return r
}

func (r *Roster) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *Roster) reset(st session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = nil
	r.epoch = st.Epoch
	r.admin = st.Authenticated && st.Identity.IsAdmin()
}

// Users returns the last loaded roster.
func (r *Roster) Users() []core.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.users)
}

// List reloads the roster from the service.
func (r *Roster) List(ctx context.Context) ([]core.User, error) {
	token, epoch, err := r.authorize()
	if err != nil {
		return nil, err
	}
	return r.reload(ctx, token, epoch)
}

func (r *Roster) Create(ctx context.Context, u core.NewUser) ([]core.User, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return r.mutate(ctx, log.OpCreate, "", func(token string) error {
		_, err := r.svc.CreateUser(ctx, token, u)
		return err
	})
}

func (r *Roster) Update(ctx context.Context, id string, p core.UserPatch) ([]core.User, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return r.mutate(ctx, log.OpUpdate, id, func(token string) error {
		_, err := r.svc.UpdateUser(ctx, token, id, p)
		return err
	})
}

func (r *Roster) Delete(ctx context.Context, id string) ([]core.User, error) {
	return r.mutate(ctx, log.OpDelete, id, func(token string) error {
		return r.svc.DeleteUser(ctx, token, id)
	})
}

// mutate runs call and reloads the roster whether or not it succeeded.
// The call's error wins over the reload's.
func (r *Roster) mutate(ctx context.Context, op, id string, call func(token string) error) ([]core.User, error) {
	token, epoch, err := r.authorize()
	if err != nil {
		return nil, err
	}

	callErr := call(token)
	if callErr != nil {
		r.metrics.Mutation(log.ComponentDirectory, op, "failed")
		r.logger.WarnContext(ctx, "Directory "+op+" failed", r.fields(op, id, callErr)...)
		if r.current(epoch) && r.sess.InvalidateIfRejected(ctx, callErr) {
			return nil, callErr
		}
	} else {
		r.metrics.Mutation(log.ComponentDirectory, op, "ok")
		r.logger.InfoContext(ctx, "Directory "+op+" applied", r.fields(op, id, nil)...)
	}

	users, err := r.reload(ctx, token, epoch)
	if callErr != nil {
		return users, fmt.Errorf("%s user: %w", op, callErr)
	}
	return users, err
}

func (r *Roster) reload(ctx context.Context, token string, epoch uint64) ([]core.User, error) {
	users, err := r.svc.ListUsers(ctx, token)
	r.metrics.Resync(log.ComponentDirectory, err)
	if err != nil {
		r.logger.WarnContext(ctx, "Listing users failed", r.fields(log.OpList, "", err)...)
		if r.current(epoch) {
			r.sess.InvalidateIfRejected(ctx, err)
		}
		return nil, fmt.Errorf("list users: %w", err)
	}

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		r.metrics.Stale(log.ComponentDirectory)
		r.logger.InfoContext(ctx, "Discarding roster from previous session", log.FieldEpoch, epoch)
		return nil, ErrStale
	}
	r.users = users
	r.mu.Unlock()
	return slices.Clone(users), nil
}

// authorize fails locally when nobody is logged in or the identity is not
// an admin.
func (r *Roster) authorize() (string, uint64, error) {
	token, epoch := r.sess.Token()
	if token == "" {
		return "", 0, core.Authentication("not logged in")
	}
	r.mu.RLock()
	admin := r.admin && r.epoch == epoch
	r.mu.RUnlock()
	if !admin {
		return "", 0, core.Authorization("admin role required")
	}
	return token, epoch, nil
}

func (r *Roster) current(epoch uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch == epoch
}

func (r *Roster) fields(op, id string, err error) []any {
	f := log.NewFields().WithOperation(op).WithError(err)
	if id != "" {
		f[log.FieldUserID] = id
	}
	return f.ToSlice()
}
