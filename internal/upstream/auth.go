package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pribylovaa/lpg-gateway/internal/models"
)

// AuthAPI — обёртка над Call для сессионных вызовов "кто я" и logout.
// Источник токена фиксируется при создании: им владеет сессия клиента.
type AuthAPI struct {
	client *Client
	tokens TokenSource
}

func NewAuthAPI(c *Client, tokens TokenSource) *AuthAPI {
	return &AuthAPI{client: c, tokens: tokens}
}

// WhoAmI запрашивает у апстрима снимок текущего пользователя.
// Ошибки клиента (Error/TransportError) отдаются без изменений —
// их классификацией занимается менеджер сессии.
func (a *AuthAPI) WhoAmI(ctx context.Context) (*models.AuthenticatedUser, error) {
	const op = "upstream/AuthAPI.WhoAmI"

	res, err := a.client.Call(ctx, "/auth/me", CallOptions{
		Auth:   true,
		Tokens: a.tokens,
	})
	if err != nil {
		return nil, err
	}

	var user models.AuthenticatedUser
	if err := json.Unmarshal(res.JSON, &user); err != nil {
		return nil, &TransportError{Cause: fmt.Errorf("%s: decode user: %w", op, err)}
	}

	return &user, nil
}

// Logout сообщает апстриму о завершении сессии.
func (a *AuthAPI) Logout(ctx context.Context) error {
	_, err := a.client.Call(ctx, "/auth/logout", CallOptions{
		Method: http.MethodPost,
		Auth:   true,
		Tokens: a.tokens,
	})

	return err
}
