/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP from X-Forwarded-For / X-Real-IP
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dashboard
  6. RateLimit:  Per-IP token bucket on /api
  7. Auth:       Bearer token on /api and /ws

ROUTE GROUPS:
  /healthz              Liveness
  /ws/rooms/{id}        Chat websocket
  /api/chat/*           Operator chat (operator or admin)
  /api/withdrawals/*    Withdrawal review (admin)
  /api/balances/*       Balance reads (admin)
  /api/withdraw-settings/*
  /api/levelups/*       Role-upgrade review (admin)
  /api/notifications/*  Notification reads (admin)
  /api/scenarios/*      Demo scenarios (admin)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/slot-admin/auth"
	"github.com/warp/slot-admin/generic"
	"golang.org/x/time/rate"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	RateLimit      rate.Limit
	RateBurst      int
}

// DefaultAllowedOrigins are the local dashboard dev servers.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// Websocket authenticates itself (token may come as a query parameter)
	r.Get("/ws/rooms/{id}", h.Realtime.ServeRoom)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(NewRateLimiter(opts.RateLimit, opts.RateBurst).Middleware)
		r.Use(h.Verifier.Middleware)

		// Chat routes
		r.Route("/chat", func(r chi.Router) {
			r.Use(auth.Require(auth.CanAccessOperatorChat))
			r.Get("/rooms", h.ListRooms)
			r.Get("/rooms/{id}/messages", h.ListMessages)
			r.Post("/rooms/{id}/messages", h.SendMessage)
			r.Post("/rooms/{id}/status", h.SetRoomStatus)
			r.Post("/rooms/{id}/join", h.JoinRoom)
			r.Post("/rooms/{id}/read", h.MarkRead)
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(generic.RoleAdmin))

			// Withdrawal routes
			r.Route("/withdrawals", func(r chi.Router) {
				r.Get("/", h.ListWithdrawals)
				r.Get("/export", h.ExportWithdrawals)
				r.Post("/{id}/approve", h.ApproveWithdrawal)
				r.Post("/{id}/reject", h.RejectWithdrawal)
			})

			// Balance routes
			r.Route("/balances", func(r chi.Router) {
				r.Get("/inconsistent", h.ListInconsistentBalances)
				r.Get("/{userID}", h.GetBalance)
				r.Get("/{userID}/history", h.GetHistory)
			})

			// Withdraw setting routes
			r.Route("/withdraw-settings", func(r chi.Router) {
				r.Put("/global", h.SaveGlobalWithdrawSetting)
				r.Get("/{userID}", h.GetWithdrawSetting)
				r.Put("/users/{userID}", h.SaveUserWithdrawSetting)
				r.Delete("/users/{userID}", h.DeleteUserWithdrawSetting)
			})

			// Levelup routes
			r.Route("/levelups", func(r chi.Router) {
				r.Get("/", h.ListLevelups)
				r.Post("/{id}/approve", h.ApproveLevelup)
				r.Post("/{id}/reject", h.RejectLevelup)
			})

			r.Get("/notifications/{userID}", h.ListNotifications)

			// Scenario routes
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", nil)
	})

	return r
}
