// session — жизненный цикл сессионного токена и состояние
// аутентификации.
//
// Session — явное значение на один запрос, его передают параметром,
// а не прячут в глобальном контексте: хранилище токена остаётся
// тестируемым и без скрытого состояния.
package session

import "net/http"

// Config — атрибуты сессионной cookie.
type Config struct {
	// Name — имя cookie с токеном.
	Name string
	// Secure выставляется всюду, кроме локальной разработки.
	Secure bool
}

// Session — доступ к токену в рамках одного запроса.
// Чтение идёт из входящего запроса, запись — в заголовки ответа.
type Session struct {
	w   http.ResponseWriter
	r   *http.Request
	cfg Config
}

// New связывает сессию с парой запрос/ответ.
func New(w http.ResponseWriter, r *http.Request, cfg Config) *Session {
	return &Session{w: w, r: r, cfg: cfg}
}

// Token возвращает токен из cookie запроса. Токен не валидируется:
// хранилище — чистый примитив жизненного цикла.
func (s *Session) Token() (string, bool) {
	c, err := s.r.Cookie(s.cfg.Name)
	if err != nil || c.Value == "" {
		return "", false
	}

	return c.Value, true
}

// SetToken записывает токен в cookie ответа, перетирая прежнее значение.
// HttpOnly всегда; SameSite=Lax; Path=/ — вся поверхность приложения.
func (s *Session) SetToken(token string) {
	http.SetCookie(s.w, &http.Cookie{
		Name:     s.cfg.Name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear удаляет cookie: пустое значение с немедленным истечением.
func (s *Session) Clear() {
	http.SetCookie(s.w, &http.Cookie{
		Name:     s.cfg.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
