package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout задаёт общий дедлайн обработки запроса шлюзом. Клиент
// апстрима не переопределяет уже существующий дедлайн контекста,
// поэтому выставленный здесь срок ограничивает и исходящий вызов.
// Значение <=0 делает мидлвар no-op.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Более короткий дедлайн вызывающей стороны уважается.
			if _, ok := r.Context().Deadline(); ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
