package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/memory"
)

func TestSyncHistoryRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSyncHistoryRepository()

	_, err := repo.LastRun(ctx)
	require.ErrorIs(t, err, domain.ErrNoSyncHistory)

	started := time.Date(2025, 7, 10, 8, 0, 0, 0, time.UTC)
	run, err := repo.StartRun(ctx, domain.SyncModeInitial, started)
	require.NoError(t, err)
	require.Equal(t, int64(1), run.ID)

	_, err = repo.StartRun(ctx, domain.SyncModeIncremental, started)
	require.ErrorIs(t, err, domain.ErrSyncAlreadyRunning)

	watermark := started.Add(-time.Hour)
	require.NoError(t, repo.EndRun(ctx, run.ID, domain.RunResult{
		Status:        domain.SyncStatusSuccess,
		FinishedAt:    started.Add(time.Minute),
		LastOrderDate: &watermark,
	}))
	require.ErrorIs(t, repo.EndRun(ctx, run.ID, domain.RunResult{Status: domain.SyncStatusFailed}), domain.ErrRunNotRunning)
	require.ErrorIs(t, repo.EndRun(ctx, 99, domain.RunResult{Status: domain.SyncStatusFailed}), domain.ErrRunNotFound)

	got, ok, err := repo.LastWatermark(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(watermark))

	_, ok, err = repo.LastWatermark(ctx, domain.SyncModeIncremental)
	require.NoError(t, err)
	require.False(t, ok)

	// failed запуск с датой не двигает watermark
	run, err = repo.StartRun(ctx, domain.SyncModeIncremental, started.Add(time.Hour))
	require.NoError(t, err)
	later := started.Add(48 * time.Hour)
	require.NoError(t, repo.EndRun(ctx, run.ID, domain.RunResult{Status: domain.SyncStatusFailed, LastOrderDate: &later}))

	got, _, err = repo.LastWatermark(ctx)
	require.NoError(t, err)
	require.True(t, got.Equal(watermark))
}

func TestSyncHistoryRepository_SingleRunningUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSyncHistoryRepository()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		started   int
		conflicts int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.StartRun(ctx, domain.SyncModeIncremental, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case errors.Is(err, domain.ErrSyncAlreadyRunning):
				conflicts++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, started)
	require.Equal(t, 15, conflicts)
}

func TestSyncHistoryRepository_FailStale(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSyncHistoryRepository()

	started := time.Now().UTC().Add(-8 * time.Hour)
	_, err := repo.StartRun(ctx, domain.SyncModeInitial, started)
	require.NoError(t, err)

	n, err := repo.FailStale(ctx, started, "not yet")
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = repo.FailStale(ctx, time.Now().UTC().Add(-6*time.Hour), "process crashed")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	last, err := repo.LastRun(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.SyncStatusFailed, last.Status)
	require.Equal(t, "process crashed", last.ErrorMessage)

	_, err = repo.StartRun(ctx, domain.SyncModeIncremental, time.Now())
	require.NoError(t, err)
}
