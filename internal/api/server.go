// Package api provides the operational HTTP surface: health, engine status,
// recent event history and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alert-engine/internal/circuitbreaker"
	"github.com/alert-engine/internal/config"
	"github.com/alert-engine/internal/logging"
	"github.com/alert-engine/internal/models"
	"github.com/alert-engine/internal/scheduler"
)

// StatsSource exposes the scheduler's last-tick snapshot.
type StatsSource interface {
	Stats() scheduler.Stats
}

// BreakerSource exposes per-feed circuit breaker snapshots.
type BreakerSource interface {
	BreakerStats() []*circuitbreaker.Stats
}

// EventSource reads recent rows from the notification event history.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]*models.NotificationEvent, error)
}

// Pinger checks a backing store's reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QuotaGuard exposes the tier-ceiling-checked creation paths and quota usage.
type QuotaGuard interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	AddWallet(ctx context.Context, wallet *models.Wallet) error
	AddTrackedWallet(ctx context.Context, tracked *models.TrackedWallet) error
	CallsUsed(ctx context.Context, userID int64) (int, error)
	LimitsFor(tier models.UserTier) config.TierLimits
}

// UserStore exposes user account persistence.
type UserStore interface {
	Upsert(ctx context.Context, user *models.User) error
	Get(ctx context.Context, userID int64) (*models.User, error)
	SetTier(ctx context.Context, userID int64, tier models.UserTier, expiryAt *time.Time) error
}

// AlertAdmin exposes alert reads and lifecycle operations. Creation goes
// through QuotaGuard so tier ceilings apply.
type AlertAdmin interface {
	Get(ctx context.Context, alertID string) (*models.Alert, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Alert, error)
	SetActive(ctx context.Context, alertID string, active bool) error
	Delete(ctx context.Context, alertID string) error
}

// WalletAdmin exposes wallet reads and lifecycle operations.
type WalletAdmin interface {
	Get(ctx context.Context, walletID string) (*models.Wallet, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Wallet, error)
	Delete(ctx context.Context, walletID string) error
	GetTracked(ctx context.Context, trackedID string) (*models.TrackedWallet, error)
	SetTrackedAlertsEnabled(ctx context.Context, trackedID string, enabled bool) error
	DeleteTracked(ctx context.Context, trackedID string) error
}

// PortfolioAdmin exposes portfolio and link persistence.
type PortfolioAdmin interface {
	Create(ctx context.Context, p *models.Portfolio) error
	Get(ctx context.Context, portfolioID string) (*models.Portfolio, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Portfolio, error)
	Delete(ctx context.Context, portfolioID string) error
	AddWallet(ctx context.Context, link *models.PortfolioWallet) error
	RemoveWallet(ctx context.Context, portfolioID, walletID, chain string) error
}

// SnapshotReader reads portfolio valuation history.
type SnapshotReader interface {
	History(ctx context.Context, portfolioID string, since time.Time) ([]*models.PortfolioSnapshot, error)
}

// Management bundles the collaborators behind the entity-management routes.
// The conversational front end calls these routes; a nil Management disables
// them, leaving only the operational surface.
type Management struct {
	Quotas     QuotaGuard
	Users      UserStore
	Alerts     AlertAdmin
	Wallets    WalletAdmin
	Portfolios PortfolioAdmin
	Snapshots  SnapshotReader
}

// Server is the operational and management HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	stats      StatsSource
	breakers   BreakerSource
	events     EventSource
	postgres   Pinger
	redis      Pinger
	mgmt       *Management
}

// NewServer creates the HTTP server.
func NewServer(cfg config.OpsConfig, stats StatsSource, breakers BreakerSource, events EventSource, postgres, redis Pinger, mgmt *Management) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		stats:    stats,
		breakers: breakers,
		events:   events,
		postgres: postgres,
		redis:    redis,
		mgmt:     mgmt,
	}
	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	s.router.Use(loggingMiddleware)
	s.router.Use(recoveryMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/events/recent", s.handleRecentEvents).Methods(http.MethodGet)

	if s.mgmt != nil {
		s.setupManagementRoutes(v1)
	}
}

func (s *Server) setupManagementRoutes(v1 *mux.Router) {
	v1.HandleFunc("/users", s.handleUpsertUser).Methods(http.MethodPost)
	v1.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/tier", s.handleSetTier).Methods(http.MethodPut)
	v1.HandleFunc("/users/{id}/wallets", s.handleListWallets).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/portfolios", s.handleListPortfolios).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/alerts", s.handleListAlerts).Methods(http.MethodGet)

	v1.HandleFunc("/wallets", s.handleCreateWallet).Methods(http.MethodPost)
	v1.HandleFunc("/wallets/{id}", s.handleDeleteWallet).Methods(http.MethodDelete)
	v1.HandleFunc("/tracked-wallets", s.handleCreateTrackedWallet).Methods(http.MethodPost)
	v1.HandleFunc("/tracked-wallets/{id}/alerts", s.handleSetTrackedAlerts).Methods(http.MethodPut)
	v1.HandleFunc("/tracked-wallets/{id}", s.handleDeleteTrackedWallet).Methods(http.MethodDelete)

	v1.HandleFunc("/portfolios", s.handleCreatePortfolio).Methods(http.MethodPost)
	v1.HandleFunc("/portfolios/{id}", s.handleDeletePortfolio).Methods(http.MethodDelete)
	v1.HandleFunc("/portfolios/{id}/wallets", s.handleAddPortfolioWallet).Methods(http.MethodPost)
	v1.HandleFunc("/portfolios/{id}/wallets/{walletId}", s.handleRemovePortfolioWallet).Methods(http.MethodDelete)
	v1.HandleFunc("/portfolios/{id}/history", s.handlePortfolioHistory).Methods(http.MethodGet)

	v1.HandleFunc("/alerts", s.handleCreateAlert).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}/active", s.handleSetAlertActive).Methods(http.MethodPut)
	v1.HandleFunc("/alerts/{id}", s.handleDeleteAlert).Methods(http.MethodDelete)
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("ops server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
