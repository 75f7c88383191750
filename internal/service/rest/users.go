package rest

import (
	"context"
	"net/http"
	"net/url"

	"spesync/internal/core"
)

const (
	routeUsers = "/api/users"
	routeUser  = "/api/users/:id"
)

func (c *Client) ListUsers(ctx context.Context, token string) ([]core.User, error) {
	var resp []userDTO
	if err := c.do(ctx, call{method: http.MethodGet, route: routeUsers, path: routeUsers, token: token}, &resp); err != nil {
		return nil, err
	}
	out := make([]core.User, 0, len(resp))
	for _, u := range resp {
		out = append(out, u.user())
	}
	return out, nil
}

func (c *Client) CreateUser(ctx context.Context, token string, nu core.NewUser) (core.User, error) {
	var resp userDTO
	err := c.do(ctx, call{
		method: http.MethodPost,
		route:  routeUsers,
		path:   routeUsers,
		token:  token,
		body:   newUserDTO{Username: nu.Username, Password: nu.Password, Role: nu.Role},
	}, &resp)
	if err != nil {
		return core.User{}, err
	}
	return resp.user(), nil
}

func (c *Client) UpdateUser(ctx context.Context, token, id string, p core.UserPatch) (core.User, error) {
	var resp userDTO
	err := c.do(ctx, call{
		method: http.MethodPut,
		route:  routeUser,
		path:   routeUsers + "/" + url.PathEscape(id),
		token:  token,
		body:   p,
	}, &resp)
	if err != nil {
		return core.User{}, err
	}
	return resp.user(), nil
}

func (c *Client) DeleteUser(ctx context.Context, token, id string) error {
	return c.do(ctx, call{
		method: http.MethodDelete,
		route:  routeUser,
		path:   routeUsers + "/" + url.PathEscape(id),
		token:  token,
	}, nil)
}
