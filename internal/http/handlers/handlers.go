// handlers — HTTP-поверхность шлюза.
//
// Каждый эндпойнт следует одному контракту: извлечь входные данные,
// вызвать клиент апстрима, отобразить результат или ошибку в ответ.
// Общая часть контракта вынесена в Proxy; вручную написаны только
// сессионные потоки (login/register/logout), где шлюз перекладывает
// токен из ответа апстрима в cookie.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pribylovaa/lpg-gateway/internal/session"
	"github.com/pribylovaa/lpg-gateway/internal/upstream"
)

// Handlers агрегирует зависимости эндпойнтов.
type Handlers struct {
	Upstream *upstream.Client
	Cookies  session.Config
	// MaxUpload — потолок размера одного файла в multipart-форме.
	MaxUpload int64
}

func New(up *upstream.Client, cookies session.Config, maxUpload int64) *Handlers {
	return &Handlers{
		Upstream:  up,
		Cookies:   cookies,
		MaxUpload: maxUpload,
	}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// forwardHeaders — заголовки, которые шлюз прокидывает в апстрим.
// Только трассировка; Authorization выставляет сам клиент апстрима.
func forwardHeaders(r *http.Request) http.Header {
	h := http.Header{}
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		h.Set("X-Request-Id", rid)
	}

	return h
}
