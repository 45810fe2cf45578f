package db

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a throwaway postgres with a GTFS routes table. The test
// is skipped when no container runtime is available.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container skipped in -short mode")
	}
	ctx := context.Background()

	dsnFor := func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://postgres:postgres@%s:%s/gtfs?sslmode=disable", host, port.Port())
	}
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "gtfs",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", dsnFor).WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return dsnFor(host, port)
}

func seedRoutes(t *testing.T, conn *sql.DB) {
	t.Helper()
	_, err := conn.Exec(`
CREATE TABLE routes (
  route_id text PRIMARY KEY,
  agency_id text,
  route_short_name text
);
INSERT INTO routes VALUES
  ('TASRUD_42', 'TASRUD', '42A'),
  ('TASRUD_5',  'TASRUD', '5'),
  ('TASRUD_N1', 'TASRUD', 'N1'),
  ('TASRUD_5b', 'TASRUD', '5'),
  ('OTHER_7',   'OTHER',  '7');
`)
	require.NoError(t, err)
}

func TestFetchLineRefsFromPostgres(t *testing.T) {
	dsn := startPostgres(t)
	conn, err := Open(dsn)
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	require.NoError(t, Ping(ctx, conn))
	seedRoutes(t, conn)

	refs, err := FetchLineRefs(ctx, conn, "")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 7, 42}, refs)

	refs, err = FetchLineRefs(ctx, conn, "TASRUD")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 42}, refs)

	_, err = FetchLineRefs(ctx, conn, "NOBODY")
	assert.ErrorIs(t, err, ErrNoLines)

	refs, err = LoadLineCatalog(ctx, dsn, "", "OTHER", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, refs)
}
