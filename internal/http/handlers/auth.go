package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pribylovaa/lpg-gateway/internal/models"
	"github.com/pribylovaa/lpg-gateway/internal/session"
	"github.com/pribylovaa/lpg-gateway/internal/upstream"
	logctx "github.com/pribylovaa/lpg-gateway/pkg/log"
	"github.com/pribylovaa/lpg-gateway/pkg/redact"
)

// Потолок на тело login/register: креды — это сотни байт, не мегабайты.
const maxAuthBody = 1 << 20

func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, "/auth/register")
}

func (h *Handlers) LoginUser(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, "/auth/login")
}

// authenticate — общий поток login/register: тело уходит в апстрим
// как есть, из ответа изымается токен в cookie, клиенту возвращается
// только user. Токен в теле ответа шлюза не появляется никогда.
func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request, path string) {
	sess := session.New(w, r, h.Cookies)

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAuthBody))
	if err != nil || !json.Valid(raw) {
		WriteMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	// В лог попытка входа уходит только с замаскированными кредами.
	var cred struct {
		Email string `json:"email"`
	}
	_ = json.Unmarshal(raw, &cred)
	logctx.From(r.Context()).LogAttrs(r.Context(), slog.LevelInfo, "auth_attempt",
		slog.String("path", path),
		slog.String("email", redact.Email(cred.Email)),
		slog.String("password", redact.Password()),
	)

	res, err := h.Upstream.Call(r.Context(), path, upstream.CallOptions{
		Method: http.MethodPost,
		Body:   json.RawMessage(raw),
		Header: forwardHeaders(r),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	var out models.AuthResult
	if err := json.Unmarshal(res.JSON, &out); err != nil || out.Token == "" {
		// Апстрим нарушил контракт: без токена сессию не создать.
		WriteError(w, r, errors.New("auth response without token"))
		return
	}

	sess.SetToken(out.Token)

	logctx.From(r.Context()).LogAttrs(r.Context(), slog.LevelInfo, "session_established",
		slog.String("token", redact.Token()))

	writeJSON(w, http.StatusOK, models.UserEnvelope{User: out.User})
}

// LogoutUser завершает сессию браузера. Cookie чистится до похода
// в апстрим: выход обязан сработать локально даже при сбое сети,
// поэтому ошибка серверного logout поглощается.
func (h *Handlers) LogoutUser(w http.ResponseWriter, r *http.Request) {
	sess := session.New(w, r, h.Cookies)
	sess.Clear()

	if _, err := h.Upstream.Call(r.Context(), "/auth/logout", upstream.CallOptions{
		Method: http.MethodPost,
		Auth:   true,
		Tokens: sess,
		Header: forwardHeaders(r),
	}); err != nil {
		logctx.From(r.Context()).LogAttrs(r.Context(), slog.LevelWarn,
			"upstream_logout_failed", slog.String("err", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}
