package postgres

import (
	"context"
	"testing"
	"time"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// сначала сбрасываем состояние схемы
	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("migrate down reset: %v", err)
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status after reset: %v", err)
	}
	if len(state.Pending) != 2 {
		t.Fatalf("expected both migrations pending after reset, got %v", state.Pending)
	}
	if state.Version != 0 || state.Applied != 0 {
		t.Fatalf("unexpected status after reset: version=%d count=%d pending=%v", state.Version, state.Applied, state.Pending)
	}

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up all: %v", err)
	}
	state, err = store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status after up all: %v", err)
	}
	if state.Version != 2 || state.Applied != 2 {
		t.Fatalf("unexpected status after up all: version=%d count=%d pending=%v", state.Version, state.Applied, state.Pending)
	}

	// повторный up ничего не меняет
	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("idempotent migrate up: %v", err)
	}
	state, err = store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status after idempotent up: %v", err)
	}
	if state.Version != 2 || state.Applied != 2 {
		t.Fatalf("unexpected status after idempotent up: version=%d count=%d pending=%v", state.Version, state.Applied, state.Pending)
	}

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down 1: %v", err)
	}
	state, err = store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status after down 1: %v", err)
	}
	if state.Version != 1 || state.Applied != 1 {
		t.Fatalf("unexpected status after down 1: version=%d count=%d pending=%v", state.Version, state.Applied, state.Pending)
	}

	if err := store.MigrateDown(ctx, 0); err != nil {
		t.Fatalf("migrate down default step: %v", err)
	}
	state, err = store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status after down default: %v", err)
	}
	if state.Version != 0 || state.Applied != 0 {
		t.Fatalf("unexpected status after down default: version=%d count=%d pending=%v", state.Version, state.Applied, state.Pending)
	}

	// down на пустой схеме ничего не делает
	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down on empty should be no-op: %v", err)
	}
}

func TestMigrator_GuardsAndUnsupportedDirection(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := nilStore.MigrateUp(ctx, 0); err == nil {
		t.Fatal("expected error for nil store MigrateUp")
	}
	if err := nilStore.MigrateDown(ctx, 1); err == nil {
		t.Fatal("expected error for nil store MigrateDown")
	}
	if _, err := nilStore.MigrationStatus(ctx); err == nil {
		t.Fatal("expected error for nil store MigrationStatus")
	}

	store := openRawPostgresStoreForIntegrationTest(t)
	if _, err := store.migrate(ctx, migrationDirection("invalid"), 0); err == nil {
		t.Fatal("expected unsupported direction error")
	}
}
