package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pribylovaa/lpg-gateway/internal/http/handlers"
)

// Выселяем лимитеры клиентов, молчавших дольше этого срока.
const visitorTTL = 10 * time.Minute

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimit — пер-клиентский лимитер (по remote IP) для мутирующих
// эндпойнтов. Burst <= 0 выключает лимитер целиком.
func RateLimit(rps float64, burst int) Middleware {
	if burst <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)

	allow := func(ip string) bool {
		now := time.Now()

		mu.Lock()
		defer mu.Unlock()

		v, ok := visitors[ip]
		if !ok {
			// Попутная уборка: карта не растёт бесконечно.
			for key, old := range visitors {
				if now.Sub(old.seen) > visitorTTL {
					delete(visitors, key)
				}
			}

			v = &visitor{lim: rate.NewLimiter(rate.Limit(rps), burst)}
			visitors[ip] = v
		}
		v.seen = now

		return v.lim.Allow()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !allow(ip) {
				handlers.WriteMessage(w, http.StatusTooManyRequests, "too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
