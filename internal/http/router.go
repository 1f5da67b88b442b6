package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fitlane/chatroom/internal/config"
	"github.com/fitlane/chatroom/internal/http/features/admin"
	"github.com/fitlane/chatroom/internal/http/features/room"
	"github.com/fitlane/chatroom/internal/http/features/webhook"
	"github.com/fitlane/chatroom/internal/http/middleware"
	"github.com/fitlane/chatroom/internal/httputil"
	"github.com/fitlane/chatroom/pkg/reconcile"
	"github.com/fitlane/chatroom/pkg/rooms"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger        *slog.Logger
	RoomService   *rooms.Service
	AccessService *rooms.AccessService
	Notifier      rooms.NotificationSender
	Auditor       *reconcile.Auditor
	JWTSecret     []byte
	JWTIssuer     string
	WebhookSecret []byte
	RateLimit     config.RateLimitConfig
	Validation    config.ValidationConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Create rate limiters for different endpoint types
	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimit, cfg.Logger)

	// Provider webhooks, guarded by the shared-secret signature
	webhookHandler := webhook.NewHandler(cfg.Logger, cfg.AccessService, cfg.Notifier)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["webhook"])
		r.Use(middleware.WebhookSignature(cfg.WebhookSecret, cfg.Logger))
		r.Post("/v1/webhooks/access", webhookHandler.Access)
		r.Post("/v1/webhooks/message", webhookHandler.Message)
	})

	// Internal room API, service JWT auth
	roomHandler := room.NewHandler(cfg.Logger, cfg.RoomService)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, cfg.JWTIssuer))
		r.Use(rateLimiters["resolve"])
		r.Post("/v1/rooms/resolve", roomHandler.Resolve)
		r.Get("/v1/rooms", roomHandler.List)
		r.Delete("/v1/rooms/{roomID}", roomHandler.Close)
	})

	// Admin reconciliation API (if the auditor is configured)
	if cfg.Auditor != nil {
		adminHandler := admin.NewHandler(cfg.Logger, cfg.Auditor)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret, cfg.JWTIssuer))
			r.Use(middleware.RequireScope("admin"))
			r.Use(rateLimiters["admin"])
			r.Post("/v1/admin/audit", adminHandler.Audit)
			r.Post("/v1/admin/repair", adminHandler.Repair)
		})
	}

	return r
}
