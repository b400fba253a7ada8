package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/lpg-gateway/internal/http/handlers"
	"github.com/pribylovaa/lpg-gateway/internal/http/middleware"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api"; если пустой — роуты регистрируются на корне.

	// Лимитер мутирующих запросов; RateBurst <= 0 выключает его.
	RateRPS   float64
	RateBurst int
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(h *handlers.Handlers, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
		middleware.Metrics(),            // счётчики Prometheus по шаблону роута
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
	}

	rl := middleware.RateLimit(opts.RateRPS, opts.RateBurst)

	// Регистрация маршрутов.
	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, rl)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, rl)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
// Ресурсные эндпойнты структурно одинаковы и идут через общий
// проксирующий хелпер; руками написаны только сессионные потоки.
func registerRoutes(r chi.Router, h *handlers.Handlers, rl middleware.Middleware) {
	mut := r.With(rl)

	// auth
	r.Post("/auth/register", h.RegisterUser)
	r.Post("/auth/login", h.LoginUser)
	r.Post("/auth/logout", h.LogoutUser)
	r.Get("/auth/me", h.Proxy(handlers.Route{Path: "/auth/me", Auth: true}))

	// ресурсы апстрима: чтение публичное, мутации — только с токеном.
	// POST на элемент — конвенция _method для multipart-форм.
	for _, res := range []string{"stations", "owners", "notices", "albums"} {
		base := "/" + res
		item := base + "/{id}"

		r.Get(base, h.Proxy(handlers.Route{Path: base}))
		r.Get(item, h.Proxy(handlers.Route{Path: item}))

		mut.Post(base, h.Proxy(handlers.Route{Path: base, Auth: true, BodyRequired: true}))
		mut.Put(item, h.Proxy(handlers.Route{Path: item, Auth: true, BodyRequired: true}))
		mut.Patch(item, h.Proxy(handlers.Route{Path: item, Auth: true, BodyRequired: true}))
		mut.Post(item, h.Proxy(handlers.Route{Path: item, Auth: true, BodyRequired: true}))
		mut.Delete(item, h.Proxy(handlers.Route{Path: item, Auth: true}))
	}

	// profile
	mut.Put("/profile", h.Proxy(handlers.Route{Path: "/profile", Auth: true, BodyRequired: true}))
	mut.Post("/profile", h.Proxy(handlers.Route{Path: "/profile", Auth: true, BodyRequired: true}))

	// аватар — multipart с потолком на размер файла; PUT нативно
	// или POST + _method=PUT из формы.
	avatar := handlers.Route{Path: "/profile/avatar", Auth: true, MaxUpload: h.MaxUpload}
	mut.Put("/profile/avatar", h.Proxy(avatar))
	mut.Post("/profile/avatar", h.Proxy(avatar))
}
