package models

import "encoding/json"

// AuthenticatedUser — денормализованный снимок "текущего пользователя"
// из апстрима. Заменяется целиком при каждом успешном refresh;
// частично никогда не мутируется.
type AuthenticatedUser struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url"`
}

// AuthResult — ответ апстрима на login/register.
// Токен изымается шлюзом в cookie и клиенту не возвращается;
// user отдаётся как есть, без пересборки.
type AuthResult struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// UserEnvelope — тело ответа шлюза на login/register: только user.
type UserEnvelope struct {
	User json.RawMessage `json:"user"`
}
