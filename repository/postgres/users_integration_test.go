//go:build integration
// +build integration

package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goMembership/repository"
)

func newIntegrationUsers(t *testing.T) *Users {
	t.Helper()

	url := os.Getenv("PG_CONN_URL")
	if url == "" {
		t.Skip("PG_CONN_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := Config{
		ConnectionString: url,
		MaxOpenConns:     4,
		MaxIdleConns:     1,
		RetryAttempts:    1,
		RetryInterval:    time.Second,
		MigrationsTable:  "membership_schema_migrations",
	}
	pool, err := Connect(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pool, cfg, slog.Default()))

	_, err = pool.Exec(ctx, "TRUNCATE "+usersTable)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewUsers(pool)
}

func newRecord(app, name, email string) *repository.UserRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &repository.UserRecord{
		ApplicationName:  app,
		Username:         name,
		Email:            email,
		PasswordHash:     "hash",
		PasswordSalt:     "salt",
		IsApproved:       true,
		CreationDate:     now,
		LastActivityDate: now,
	}
}

func TestUsersCreateFindAndDuplicate(t *testing.T) {
	users := newIntegrationUsers(t)
	ctx := context.Background()

	rec := newRecord("shop", "Alice", "alice@example.com")
	require.NoError(t, users.Create(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	got, err := users.FindOne(ctx, repository.UserFilter{ApplicationName: "shop", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, got.CreationDate.Equal(rec.CreationDate))
	assert.Nil(t, got.LastLoginDate)

	assert.ErrorIs(t, users.Create(ctx, newRecord("shop", "ALICE", "x@example.com")), repository.ErrDuplicate)
	require.NoError(t, users.Create(ctx, newRecord("blog", "alice", "alice@example.com")))

	_, err = users.FindOne(ctx, repository.UserFilter{ApplicationName: "shop", Username: "ghost"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUsersOptimisticUpdate(t *testing.T) {
	users := newIntegrationUsers(t)
	ctx := context.Background()

	rec := newRecord("shop", "alice", "alice@example.com")
	require.NoError(t, users.Create(ctx, rec))

	stale := rec.Clone()
	login := time.Now().UTC().Truncate(time.Microsecond)
	rec.LastLoginDate = &login
	require.NoError(t, users.Update(ctx, rec, repository.WithOptimisticConcurrency()))
	assert.Equal(t, int64(2), rec.Version)

	stale.Comment = "lost"
	assert.ErrorIs(t, users.Update(ctx, stale, repository.WithOptimisticConcurrency()), repository.ErrConflict)

	got, err := users.FindOne(ctx, repository.UserFilter{ApplicationName: "shop", ID: rec.ID})
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginDate)
	assert.True(t, got.LastLoginDate.Equal(login))
	assert.Empty(t, got.Comment)

	require.NoError(t, users.Delete(ctx, rec, repository.WithOptimisticConcurrency()))
	assert.ErrorIs(t, users.Delete(ctx, rec), repository.ErrNotFound)
}

func TestUsersSearch(t *testing.T) {
	users := newIntegrationUsers(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		name := fmt.Sprintf("member%02d", i)
		require.NoError(t, users.Create(ctx, newRecord("shop", name, name+"@example.com")))
	}
	require.NoError(t, users.Create(ctx, newRecord("shop", "jane.doe", "jane@corp.example")))

	res, err := users.Search(ctx, repository.SearchQuery{
		ApplicationName: "shop",
		Field:           repository.FieldUsername,
		Term:            "member*",
		Skip:            1,
		Take:            2,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "member02", res.Records[0].Username)

	res, err = users.Search(ctx, repository.SearchQuery{
		ApplicationName: "shop",
		Field:           repository.FieldUsername,
		Term:            "jane doe",
		Take:            10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	n, err := users.Count(ctx, repository.UserFilter{ApplicationName: "shop"})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, users.Ping(ctx))
}
