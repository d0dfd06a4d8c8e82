package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/presencer/internal/history"
	"github.com/loykin/presencer/internal/presence"
)

// setupClickHouseContainer starts a ClickHouse container for testing.
// It skips the test if Docker is unavailable.
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := tcch.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcch.WithUsername("default"),
		tcch.WithPassword(""),
		tcch.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
		return nil, ""
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get container host: %v", err)
		return nil, ""
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get mapped port: %v", err)
		return nil, ""
	}

	return container, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	}()

	sink, err := New(Options{Addr: addr, Table: "presence_history_test"})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	rec := presence.Record{
		ID:          "userA",
		Namespace:   "test",
		Name:        "userA",
		Active:      true,
		LastUpdated: time.Now().UTC(),
	}
	e := history.Event{
		Type:       history.EventTransition,
		OccurredAt: time.Now().UTC(),
		Observer:   "userB",
		Record:     rec,
	}
	if err := sink.Send(ctx, e); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}

	rows, err := sink.conn.Query(ctx, "SELECT type, observer, record_id, active FROM presence_history_test")
	if err != nil {
		t.Fatalf("Failed to query events: %v", err)
	}
	defer rows.Close()

	var count int
	for rows.Next() {
		var typ, observer, recordID string
		var active uint8
		if err := rows.Scan(&typ, &observer, &recordID, &active); err != nil {
			t.Fatalf("Failed to scan row: %v", err)
		}
		if typ != string(history.EventTransition) || observer != "userB" || recordID != "userA" || active != 1 {
			t.Fatalf("unexpected row: %s %s %s %d", typ, observer, recordID, active)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}
}
