package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/famevents/internal/auth"
	"github.com/dukerupert/famevents/internal/event"
	"github.com/dukerupert/famevents/internal/handler"
	"github.com/dukerupert/famevents/internal/health"
	"github.com/dukerupert/famevents/internal/metrics"
	"github.com/dukerupert/famevents/internal/middleware"
	"github.com/dukerupert/famevents/internal/notify"
	"github.com/dukerupert/famevents/internal/store"
	ws "github.com/dukerupert/famevents/internal/websocket"
)

type Config struct {
	Policy event.Policy
	Tokens *auth.Tokens
	// WriteRateLimit is the number of writes per user per minute.
	WriteRateLimit int
	// Publishers receive every notification in addition to the
	// websocket hub.
	Publishers []notify.Publisher
}

type Server struct {
	hub         *ws.Hub
	events      *event.Service
	families    *store.FamilyStore
	eventH      *handler.EventHandler
	familyH     *handler.FamilyHandler
	checker     *health.Checker
	tokens      *auth.Tokens
	writeLimit  int
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	eventStore := store.NewEventStore(db)
	familyStore := store.NewFamilyStore(db)

	pub := append(notify.Multi{hub}, cfg.Publishers...)
	svc := event.NewService(eventStore, familyStore, pub, cfg.Policy, logger, event.WithRecorder(metrics.Recorder{}))

	writeLimit := cfg.WriteRateLimit
	if writeLimit <= 0 {
		writeLimit = 60
	}

	return &Server{
		hub:         hub,
		events:      svc,
		families:    familyStore,
		eventH:      handler.NewEventHandler(svc, logger),
		familyH:     handler.NewFamilyHandler(familyStore, logger),
		checker:     health.NewChecker(eventStore, 5*time.Second),
		tokens:      cfg.Tokens,
		writeLimit:  writeLimit,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// Events returns the lifecycle service, used by the sync job.
func (s *Server) Events() *event.Service {
	return s.events
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("GET /health", handler.Health(s.checker))
	mux.Handle("GET /metrics", metrics.Handler())

	// Event API
	mux.Handle("POST /api/events", s.write(s.eventH.Create))
	mux.Handle("GET /api/events/{id}", s.read(s.eventH.Get))
	mux.Handle("PUT /api/events/{id}", s.write(s.eventH.Update))
	mux.Handle("PATCH /api/events/{id}", s.write(s.eventH.Update))
	mux.Handle("DELETE /api/events/{id}", s.write(s.eventH.Delete))
	mux.Handle("GET /api/events/family/{familyId}", s.read(s.eventH.ListByFamily))
	mux.Handle("GET /api/families/{familyId}/events", s.read(s.eventH.ListByFamily))
	mux.Handle("GET /api/families/{familyId}/events.ics", s.read(s.eventH.ExportICS))

	// Family and helper routes
	mux.Handle("GET /api/families/{familyId}", s.read(s.familyH.Get))
	mux.Handle("GET /api/recurrence/parse", s.read(handler.ParseRecurrence))

	// Live notifications
	wsHandler := ws.HandleWebSocket(s.hub, s.canWatch, s.logger.With("component", "websocket"))
	mux.Handle("GET /ws", middleware.TokenFromQuery("access_token")(s.read(wsHandler)))

	// The logger clones the request, so metrics sit inside it to see the
	// pattern the mux sets.
	return middleware.RequestLogger(s.logger.With("component", "http"))(metrics.HTTPMiddleware(mux))
}

func (s *Server) read(h http.HandlerFunc) http.Handler {
	return middleware.RequireAuth(s.tokens)(h)
}

// write is read plus a per-user rate limit.
func (s *Server) write(h http.HandlerFunc) http.Handler {
	rl := middleware.RateLimit(s.rateLimiter, middleware.ByUser, s.writeLimit, time.Minute)
	return middleware.RequireAuth(s.tokens)(rl(h))
}

func (s *Server) canWatch(ctx context.Context, familyID string) (bool, error) {
	userID := auth.UserID(ctx)
	if userID == "" {
		return false, nil
	}
	m, err := s.families.ActiveMember(ctx, familyID, userID)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}
