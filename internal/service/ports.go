package service

import (
	"context"

	"spesync/internal/core"
)

// Ports for the remote expense service. Every call carries the bearer
// token explicitly; adapters keep no session state of their own.
type (
	Authenticator interface {
		// Login exchanges credentials for a bearer token and the identity it represents.
		Login(ctx context.Context, username, password string) (token string, who core.Identity, err error)
		// CurrentUser resolves the identity behind token, failing with an
		// authentication error when the token is invalid or expired.
		CurrentUser(ctx context.Context, token string) (core.Identity, error)
	}

	ExpenseStore interface {
		// ListExpenses returns the caller's expenses, newest first.
		ListExpenses(ctx context.Context, token string) ([]core.Expense, error)
		CreateExpense(ctx context.Context, token string, d core.Draft) (core.Expense, error)
		UpdateExpense(ctx context.Context, token, id string, p core.ExpensePatch) (core.Expense, error)
		DeleteExpense(ctx context.Context, token, id string) error
	}

	// Directory is the admin-only user roster.
	Directory interface {
		ListUsers(ctx context.Context, token string) ([]core.User, error)
		CreateUser(ctx context.Context, token string, u core.NewUser) (core.User, error)
		UpdateUser(ctx context.Context, token, id string, p core.UserPatch) (core.User, error)
		DeleteUser(ctx context.Context, token, id string) error
	}

	// Backend bundles every port a client needs.
	Backend interface {
		Authenticator
		ExpenseStore
		Directory
	}
)
