// Package chatroom resolves multi-tenant gym conversations to chat rooms
// and keeps them consistent with an external chat provider.
//
// Setup:
//
//  1. Run migrations from migrations/ folder using your preferred tool
//  2. Create an Engine and mount its router
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//
//	engine, err := chatroom.New(chatroom.Config{
//	    DB:            db,
//	    JWTSecret:     "your-secret-key-at-least-32-chars",
//	    WebhookSecret: "secret-shared-with-the-provider",
//	    Provider: chatroom.ProviderConfig{
//	        BaseURL:   "https://chat.example.com",
//	        APIKey:    "key",
//	        APISecret: "secret",
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err) // Will fail if migrations haven't been run
//	}
//
//	http.ListenAndServe(":8080", engine.Router())
package chatroom

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fitlane/chatroom/internal/config"
	chathttp "github.com/fitlane/chatroom/internal/http"
	"github.com/fitlane/chatroom/pkg/gate"
	"github.com/fitlane/chatroom/pkg/provider"
	"github.com/fitlane/chatroom/pkg/reconcile"
	"github.com/fitlane/chatroom/pkg/repository"
	"github.com/fitlane/chatroom/pkg/rooms"
)

// ProviderConfig holds the chat provider connection settings.
type ProviderConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	MaxRetries int
}

// Config holds the configuration for the chatroom engine.
type Config struct {
	// DB is the database connection (required).
	DB *sql.DB

	// JWTSecret signs service-to-service tokens (required, min 32 chars).
	JWTSecret string

	// JWTIssuer is the issuer claim in service tokens (default: "chatroom").
	JWTIssuer string

	// WebhookSecret verifies provider webhook signatures (required).
	WebhookSecret string

	// Provider configures the external chat provider (required).
	Provider ProviderConfig

	// Redis backs the distributed lock and the room cache (optional).
	// Without it the engine uses in-process equivalents, which are only
	// correct for a single replica.
	Redis *redis.Client

	// Events answers event registration lookups (optional). Without it,
	// access to event rooms is decided by membership alone.
	Events rooms.EventRegistry

	// Notifier delivers message pushes (optional).
	Notifier rooms.NotificationSender

	// LockTTL is the resolution lease duration (default: 10 seconds).
	LockTTL time.Duration

	// LockWait bounds how long a resolve call waits for a contended lease
	// (default: 5 seconds).
	LockWait time.Duration

	// RoomCacheTTL is the canonical-key cache TTL (default: 5 minutes).
	RoomCacheTTL time.Duration

	// RateLimit controls per-endpoint-group request limits.
	RateLimit config.RateLimitConfig

	// MaxRequestBodySize caps request bodies (default: 1 MiB).
	MaxRequestBodySize int64

	// Logger is the structured logger (default: slog JSON to stdout).
	Logger *slog.Logger
}

// Engine is the room resolution engine.
type Engine struct {
	config          Config
	db              *sql.DB
	roomsRepo       *repository.RoomsRepository
	membershipsRepo *repository.MembershipsRepository
	tenantsRepo     *repository.TenantsRepository
	providerClient  *provider.Client
	service         *rooms.Service
	access          *rooms.AccessService
	auditor         *reconcile.Auditor
}

// New creates a new engine with the given configuration.
// Returns an error if required database tables don't exist.
// Run migrations first - see migrations/ folder for SQL files.
func New(cfg Config) (*Engine, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	// Validate schema exists
	if err := validateSchema(cfg.DB); err != nil {
		return nil, err
	}

	// Initialize repositories
	roomsRepo := repository.NewRoomsRepository(cfg.DB)
	membershipsRepo := repository.NewMembershipsRepository(cfg.DB)
	tenantsRepo := repository.NewTenantsRepository(cfg.DB)

	providerClient := provider.NewClient(provider.Config{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		APISecret:  cfg.Provider.APISecret,
		Timeout:    cfg.Provider.Timeout,
		MaxRetries: cfg.Provider.MaxRetries,
	}, cfg.Logger)

	var g gate.Gate
	var cache rooms.Cache
	if cfg.Redis != nil {
		g = gate.NewRedisGate(cfg.Redis, cfg.LockTTL, cfg.LockWait)
		cache = rooms.NewRedisCache(cfg.Redis, cfg.RoomCacheTTL, cfg.Logger)
	} else {
		g = gate.NewLocalGate()
	}

	service := rooms.NewService(cfg.Logger, roomsRepo, membershipsRepo, providerClient, g, cache)
	access := rooms.NewAccessService(cfg.Logger, roomsRepo, cfg.Events)
	auditor := reconcile.NewAuditor(cfg.Logger, roomsRepo, providerClient, membershipsRepo, tenantsRepo)

	return &Engine{
		config:          cfg,
		db:              cfg.DB,
		roomsRepo:       roomsRepo,
		membershipsRepo: membershipsRepo,
		tenantsRepo:     tenantsRepo,
		providerClient:  providerClient,
		service:         service,
		access:          access,
		auditor:         auditor,
	}, nil
}

// Router returns an http.Handler with all engine routes registered.
//
// Routes:
//
//	POST   /v1/webhooks/access  - provider access-decision callback
//	POST   /v1/webhooks/message - provider message callback (notifications)
//	POST   /v1/rooms/resolve    - resolve or create a room (protected)
//	GET    /v1/rooms            - list rooms for a user (protected)
//	DELETE /v1/rooms/{roomID}   - close a room (protected)
//	POST   /v1/admin/audit      - reconciliation audit (admin scope)
//	POST   /v1/admin/repair     - run a repair action (admin scope)
//	GET    /health              - health check
func (e *Engine) Router() http.Handler {
	return chathttp.NewRouter(chathttp.RouterConfig{
		Logger:        e.config.Logger,
		RoomService:   e.service,
		AccessService: e.access,
		Notifier:      e.config.Notifier,
		Auditor:       e.auditor,
		JWTSecret:     []byte(e.config.JWTSecret),
		JWTIssuer:     e.config.JWTIssuer,
		WebhookSecret: []byte(e.config.WebhookSecret),
		RateLimit:     e.config.RateLimit,
		Validation: config.ValidationConfig{
			MaxRequestBodySize: e.config.MaxRequestBodySize,
		},
	})
}

// Service returns the room resolution service for direct use.
func (e *Engine) Service() *rooms.Service {
	return e.service
}

// AccessService returns the access decision service for direct use.
func (e *Engine) AccessService() *rooms.AccessService {
	return e.access
}

// Auditor returns the reconciliation auditor for direct use, e.g. from a
// scheduled job.
func (e *Engine) Auditor() *reconcile.Auditor {
	return e.auditor
}

func validateConfig(cfg *Config) error {
	if cfg.DB == nil {
		return errors.New("chatroom: DB is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("chatroom: JWTSecret is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("chatroom: JWTSecret must be at least 32 characters")
	}
	if cfg.WebhookSecret == "" {
		return errors.New("chatroom: WebhookSecret is required")
	}
	if cfg.Provider.BaseURL == "" {
		return errors.New("chatroom: Provider.BaseURL is required")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "chatroom"
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockWait == 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.RoomCacheTTL == 0 {
		cfg.RoomCacheTTL = 5 * time.Minute
	}
	if cfg.MaxRequestBodySize == 0 {
		cfg.MaxRequestBodySize = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
}

// validateSchema checks that required database tables exist.
func validateSchema(db *sql.DB) error {
	requiredTables := []string{"rooms", "room_memberships", "external_handles", "tenants", "memberships"}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := db.QueryRow(query, table).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("chatroom: missing table '%s' - run migrations first (see migrations/ folder)", table)
		}
		if err != nil {
			return fmt.Errorf("chatroom: failed to check schema: %w", err)
		}
	}

	return nil
}
