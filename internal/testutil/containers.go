// Package testutil starts the throwaway Postgres (pgvector) and S3
// containers used by integration and end-to-end tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cloo-solutions/ragquery/internal/database"
)

const (
	pgCredential = "ragq"

	S3AccessKey = "rustfsadmin"
	S3SecretKey = "rustfsadmin"
)

// running is a started container and the host address of its single
// exposed port.
type running struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

func (c *running) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(c.Container)
}

func start(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest) running {
	t.Helper()
	exposed := req.ExposedPorts[0]
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("%s host: %v", req.Image, err)
	}
	port, err := container.MappedPort(ctx, nat.Port(exposed))
	if err != nil {
		t.Fatalf("%s port %s: %v", req.Image, exposed, err)
	}
	return running{Container: container, Host: host, Port: port.Port()}
}

type PostgresContainer struct{ running }

func NewPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	t.Helper()
	return &PostgresContainer{start(ctx, t, testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:0.8.1-pg18",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgCredential,
			"POSTGRES_PASSWORD": pgCredential,
			"POSTGRES_DB":       pgCredential,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(time.Minute),
	})}
}

func (c *PostgresContainer) ConnectionString() string {
	return fmt.Sprintf("postgres://%[1]s:%[1]s@%s:%s/%[1]s?sslmode=disable", pgCredential, c.Host, c.Port)
}

// RustFSContainer is an S3-compatible object store.
type RustFSContainer struct{ running }

func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	t.Helper()
	return &RustFSContainer{start(ctx, t, testcontainers.ContainerRequest{
		Image:        "rustfs/rustfs:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": S3AccessKey,
			"RUSTFS_SECRET_KEY": S3SecretKey,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	})}
}

func (c *RustFSContainer) Endpoint() string {
	return "http://" + c.Host + ":" + c.Port
}

// NewTestPool applies the migrations in migrationsDir and opens a pool with
// the vector types registered. Postgres can still refuse connections for a
// moment after the readiness log line, so migration is retried.
func NewTestPool(ctx context.Context, t *testing.T, pc *PostgresContainer, migrationsDir string) *pgxpool.Pool {
	t.Helper()
	url := pc.ConnectionString()

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 5)
	err := backoff.Retry(func() error {
		_, err := database.MigrateUp(url, migrationsDir)
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := database.NewPool(ctx, url, database.PoolConfig{MaxConns: 8})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	return pool
}
