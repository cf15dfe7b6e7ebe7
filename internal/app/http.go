package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordersync/internal/health"
	"github.com/vladislavdragonenkov/ordersync/internal/service/syncer"
)

type runJSON struct {
	ID               int64      `json:"id"`
	Mode             string     `json:"mode"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	OrdersFetched    int        `json:"orders_fetched"`
	OrdersProcessed  int        `json:"orders_processed"`
	OrdersSkipped    int        `json:"orders_skipped"`
	CreditsProcessed int        `json:"credits_processed"`
	LastOrderDate    *time.Time `json:"last_order_date,omitempty"`
	APIVersion       string     `json:"api_version,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

type orderJSON struct {
	ExternalID    string    `json:"external_id"`
	OrderNumber   string    `json:"order_number"`
	Status        string    `json:"status"`
	Total         string    `json:"total"`
	Currency      string    `json:"currency,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type statusJSON struct {
	LastRun            *runJSON    `json:"last_run"`
	TotalOrders        int         `json:"total_orders"`
	RecentOrders       []orderJSON `json:"recent_orders"`
	PendingDeadLetters int         `json:"pending_dead_letters"`
}

func newStatusJSON(report domain.StatusReport) statusJSON {
	out := statusJSON{
		TotalOrders:        report.TotalOrders,
		RecentOrders:       make([]orderJSON, 0, len(report.RecentOrders)),
		PendingDeadLetters: report.PendingLetter,
	}
	if run := report.LastRun; run != nil {
		out.LastRun = &runJSON{
			ID:               run.ID,
			Mode:             string(run.Mode),
			Status:           string(run.Status),
			StartedAt:        run.StartedAt,
			FinishedAt:       run.FinishedAt,
			OrdersFetched:    run.OrdersFetched,
			OrdersProcessed:  run.OrdersProcessed,
			OrdersSkipped:    run.OrdersSkipped,
			CreditsProcessed: run.CreditsProcessed,
			LastOrderDate:    run.LastOrderDate,
			APIVersion:       run.APIVersion,
			ErrorMessage:     run.ErrorMessage,
		}
	}
	for _, order := range report.RecentOrders {
		out.RecentOrders = append(out.RecentOrders, orderJSON{
			ExternalID:    order.ExternalID,
			OrderNumber:   order.OrderNumber,
			Status:        order.Status,
			Total:         order.Total.StringFixed(2),
			Currency:      order.Currency,
			LastUpdatedAt: order.LastUpdatedAt,
		})
	}
	return out
}

// newOpsRouter собирает служебные endpoint'ы демона.
func newOpsRouter(healthHandler *healthcheck.Handler, storage *Storage, gatherer prometheus.Gatherer, logger *log.Entry) chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)

	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	r.Method(http.MethodGet, "/metrics", metricsHandler)
	r.Method(http.MethodGet, "/healthz", healthHandler)
	r.Get("/livez", healthcheck.LivenessHandler)
	r.Get("/readyz", healthHandler.ReadinessHandler)
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		report, err := syncer.BuildStatus(req.Context(), storage.History, storage.Orders, storage.DeadLetters, syncer.DefaultRecentOrders)
		if err != nil {
			logger.WithError(err).Warn("failed to build sync status")
			http.Error(w, "status unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(newStatusJSON(report))
	})
	return r
}

// startOpsServer запускает HTTP-сервер служебных endpoint'ов.
func startOpsServer(ctx context.Context, addr string, handler http.Handler, logger *log.Entry) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("ops endpoints: %s/metrics, /healthz, /livez, /readyz, /status", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("ops server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("ops server shutdown with error")
	}
}
