package handlers

import (
	"errors"
	"net/http"

	"github.com/pribylovaa/lpg-gateway/internal/upstream"
)

// ErrorResponse — единый конверт ошибки для фронта.
// Message — человекочитаемое описание; Errors — пополевые ошибки
// валидации из апстрима (null, если их нет).
type ErrorResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

// WriteError конвертирует ошибку вызова в HTTP-ответ.
//
// Поведение:
//   - *upstream.Error — статус и message/errors апстрима без изменений;
//   - *upstream.TransportError — 500 с generic message: текст сетевого
//     исключения на клиент не утекает;
//   - всё остальное (программные ошибки) — 500/generic по той же причине.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := toHTTP(err)
	writeJSON(w, status, resp)
}

// WriteMessage — ответ-конверт без пополевых ошибок (локальные отказы
// шлюза: 400 на битый JSON, 429 от лимитера и т.п.).
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Message: msg})
}

func toHTTP(err error) (int, ErrorResponse) {
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return ue.Status, ErrorResponse{Message: ue.Message, Errors: ue.Errors}
	}

	var te *upstream.TransportError
	if errors.As(err, &te) {
		return http.StatusInternalServerError, ErrorResponse{Message: "internal error"}
	}

	return http.StatusInternalServerError, ErrorResponse{Message: "internal error"}
}
