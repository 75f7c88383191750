package rest

import (
	"context"
	"net/http"

	"spesync/internal/core"
)

const (
	routeLogin       = "/api/auth/login"
	routeCurrentUser = "/api/auth/user"
)

// The service answers bad credentials with 400.
var loginOverrides = map[int]override{
	http.StatusBadRequest: {kind: core.KindAuthentication},
}

func (c *Client) Login(ctx context.Context, username, password string) (string, core.Identity, error) {
	var resp loginResponse
	err := c.do(ctx, call{
		method:    http.MethodPost,
		route:     routeLogin,
		path:      routeLogin,
		body:      loginRequest{Username: username, Password: password},
		overrides: loginOverrides,
	}, &resp)
	if err != nil {
		return "", core.Identity{}, err
	}
	if resp.Token == "" {
		return "", core.Identity{}, &core.Error{Kind: core.KindTransport, Status: http.StatusOK, Message: "login response carries no token"}
	}
	return resp.Token, resp.User.identity(), nil
}

func (c *Client) CurrentUser(ctx context.Context, token string) (core.Identity, error) {
	var resp userDTO
	err := c.do(ctx, call{
		method: http.MethodGet,
		route:  routeCurrentUser,
		path:   routeCurrentUser,
		token:  token,
	}, &resp)
	if err != nil {
		return core.Identity{}, err
	}
	if resp.id() == "" {
		return core.Identity{}, core.Authentication("Token is not valid")
	}
	return resp.identity(), nil
}
