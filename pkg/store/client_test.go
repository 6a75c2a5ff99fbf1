package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore runs the real embedded migrations against a disposable
// Postgres container, so repository tests exercise the same schema
// production does rather than a hand-maintained fixture.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pml_test"),
		postgres.WithUsername("pml_test"),
		postgres.WithPassword("pml_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	st, err := NewStore(ctx, Config{
		Host:     host,
		Port:     port.Int(),
		User:     "pml_test",
		Password: "pml_test",
		Database: "pml_test",
		SSLMode:  "disable",
	})
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestNewStoreRunsMigrationsAndPings(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Pool().Ping(context.Background()))
	require.NotNil(t, st.Tools)
	require.NotNil(t, st.Capabilities)
	require.NotNil(t, st.DAGs)
	require.NotNil(t, st.Traces)
	require.NotNil(t, st.Checkpoints)
}
