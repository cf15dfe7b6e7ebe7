package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordersync/internal/health"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/memory"
)

func newTestOpsServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	storage, err := openStorage(context.Background(), DatabaseConfig{Driver: StorageDriverMemory}, store, log.WithField("test", t.Name()))
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "ordersync_test_total", Help: "test"}))

	healthHandler := healthcheck.NewHandler("test")
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", storage.Ping))
	healthHandler.RegisterChecker("sync", healthcheck.NewSyncChecker(storage.History, 0))

	server := httptest.NewServer(newOpsRouter(healthHandler, storage, registry, log.WithField("test", t.Name())))
	t.Cleanup(server.Close)
	return server, store
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestOpsRouter_Probes(t *testing.T) {
	server, _ := newTestOpsServer(t)

	code, body := get(t, server.URL+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, server.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body)

	code, body = get(t, server.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	var health healthcheck.Response
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, healthcheck.StatusDegraded, health.Status)

	code, body = get(t, server.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ordersync_test_total")
}

func TestOpsRouter_Status(t *testing.T) {
	server, store := newTestOpsServer(t)
	ctx := context.Background()

	code, body := get(t, server.URL+"/status")
	require.Equal(t, http.StatusOK, code)
	var empty statusJSON
	require.NoError(t, json.Unmarshal([]byte(body), &empty))
	assert.Nil(t, empty.LastRun)
	assert.Empty(t, empty.RecentOrders)

	startedAt := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC)
	run, err := store.History.StartRun(ctx, domain.SyncModeInitial, startedAt)
	require.NoError(t, err)
	_, err = store.Orders.Upsert(ctx, domain.Order{
		ExternalID:    "1",
		OrderNumber:   "100001",
		CreatedAt:     startedAt,
		LastUpdatedAt: startedAt,
	}, run.ID)
	require.NoError(t, err)
	watermark := startedAt
	require.NoError(t, store.History.EndRun(ctx, run.ID, domain.RunResult{
		Status:          domain.SyncStatusSuccess,
		FinishedAt:      startedAt.Add(time.Minute),
		OrdersFetched:   1,
		OrdersProcessed: 1,
		LastOrderDate:   &watermark,
	}))

	code, body = get(t, server.URL+"/status")
	require.Equal(t, http.StatusOK, code)
	var status statusJSON
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "success", status.LastRun.Status)
	assert.Equal(t, 1, status.TotalOrders)
	require.Len(t, status.RecentOrders, 1)
	assert.Equal(t, "0.00", status.RecentOrders[0].Total)
}
