package middleware

import (
	"log/slog"
	"net/http"

	"github.com/pribylovaa/lpg-gateway/internal/http/handlers"
	logctx "github.com/pribylovaa/lpg-gateway/pkg/log"
)

// Recover перехватывает panic, конвертирует в 500/generic и пишет
// унифицированный конверт. Детали паники не утекают на клиент.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					// Безопасно логируем факт паники; детали наружу не отдаем.
					logctx.From(r.Context()).
						LogAttrs(r.Context(), slog.LevelError, "panic",
							slog.String("path", r.URL.Path),
							slog.Any("reason", rec),
						)
					handlers.WriteMessage(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
