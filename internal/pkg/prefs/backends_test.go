// Integration tests for the Postgres and Redis backends.
// They use testcontainers-go and are skipped when Docker is unavailable.
package prefs

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

func setupPostgres(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	return pool, func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}
}

func setupRedis(t *testing.T) (*redis.Client, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, rdb.Ping(ctx).Err())

	return rdb, func() {
		_ = rdb.Close()
		_ = c.Terminate(ctx)
	}
}

func TestPostgres_Contract(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()

	s := NewPostgres(pool, "contract")
	require.NoError(t, s.EnsureSchema(context.Background()))
	// Idempotent.
	require.NoError(t, s.EnsureSchema(context.Background()))

	runStoreContract(t, s)
}

func TestPostgres_NamespacesAreIsolated(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	a := NewPostgres(pool, "a")
	b := NewPostgres(pool, "b")
	require.NoError(t, a.EnsureSchema(ctx))

	require.NoError(t, Edit(a).Put("k", "from-a").Commit(ctx))
	require.NoError(t, Edit(b).Put("k", "from-b").Clear().Commit(ctx))

	v, ok, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-a", v)
}

func TestRedis_Contract(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	runStoreContract(t, NewRedis(rdb, "contract"))
}

func TestRedis_NamespacesAreIsolated(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	a := NewRedis(rdb, "a")
	b := NewRedis(rdb, "b")

	require.NoError(t, Edit(a).Put("k", "from-a").Commit(ctx))
	require.NoError(t, Edit(b).Put("k", "from-b").Clear().Commit(ctx))

	v, ok, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-a", v)
}
