package rest

import (
	"context"
	"net/http"
	"net/url"

	"spesync/internal/core"
)

const (
	routeExpenses = "/api/expenses"
	routeExpense  = "/api/expenses/:id"
)

// Deleting someone else's expense is answered with 401 "Not authorized".
// Any other 401 on delete is a rejected token.
var deleteExpenseOverrides = map[int]override{
	http.StatusUnauthorized: {kind: core.KindAuthorization, message: notOwnerMessage},
}

const notOwnerMessage = "Not authorized"

func (c *Client) ListExpenses(ctx context.Context, token string) ([]core.Expense, error) {
	var resp []expenseDTO
	err := c.do(ctx, call{
		method: http.MethodGet,
		route:  routeExpenses,
		path:   routeExpenses,
		token:  token,
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]core.Expense, 0, len(resp))
	for _, e := range resp {
		out = append(out, e.expense())
	}
	return out, nil
}

func (c *Client) CreateExpense(ctx context.Context, token string, d core.Draft) (core.Expense, error) {
	var resp expenseDTO
	err := c.do(ctx, call{
		method: http.MethodPost,
		route:  routeExpenses,
		path:   routeExpenses,
		token:  token,
		body:   draftBody(d),
	}, &resp)
	if err != nil {
		return core.Expense{}, err
	}
	return resp.expense(), nil
}

func (c *Client) UpdateExpense(ctx context.Context, token, id string, p core.ExpensePatch) (core.Expense, error) {
	var resp expenseDTO
	err := c.do(ctx, call{
		method: http.MethodPut,
		route:  routeExpense,
		path:   routeExpenses + "/" + url.PathEscape(id),
		token:  token,
		body:   p,
	}, &resp)
	if err != nil {
		return core.Expense{}, err
	}
	return resp.expense(), nil
}

func (c *Client) DeleteExpense(ctx context.Context, token, id string) error {
	return c.do(ctx, call{
		method:    http.MethodDelete,
		route:     routeExpense,
		path:      routeExpenses + "/" + url.PathEscape(id),
		token:     token,
		overrides: deleteExpenseOverrides,
	}, nil)
}
