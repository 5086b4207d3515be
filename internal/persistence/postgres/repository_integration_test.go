//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/daytrack/internal/domain"
)

func TestRepositoryEnforcesDayCapacity(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	owner := uuid.NewString()
	first := newActivity(owner, "2024-03-15", "Morning run", "exercise", 500)
	require.NoError(t, repo.Insert(ctx, first))

	second := newActivity(owner, "2024-03-15", "Deep work", "work", 1000)
	err := repo.Insert(ctx, second)

	var capErr *domain.CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, "2024-03-15", capErr.Day)
	require.Equal(t, 500, capErr.CurrentTotal)
	require.Equal(t, 940, capErr.Remaining)

	stored, listErr := repo.ListByDay(ctx, owner, "2024-03-15")
	require.NoError(t, listErr)
	require.Len(t, stored, 1, "rejected insert must not persist")
}

func TestRepositorySerializesConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	owner := uuid.NewString()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Insert(ctx, newActivity(owner, "2024-03-16", "Block", "work", 800))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var capErr *domain.CapacityError
		require.ErrorAs(t, err, &capErr)
	}
	require.Equal(t, 1, successes, "exactly one of two 800-minute inserts may win")

	stored, err := repo.ListByDay(ctx, owner, "2024-03-16")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, 800, stored[0].Minutes)
}

func TestRepositoryUpdateExcludesOwnMinutes(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	owner := uuid.NewString()
	target := newActivity(owner, "2024-03-17", "Reading", "learning", 700)
	require.NoError(t, repo.Insert(ctx, target))
	require.NoError(t, repo.Insert(ctx, newActivity(owner, "2024-03-17", "Writing", "work", 700)))

	minutes := 750
	_, err := repo.Update(ctx, owner, target.ID, domain.Patch{Minutes: &minutes}, time.Now().UTC())

	var capErr *domain.CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, 700, capErr.CurrentTotal, "total must exclude the record being updated")
	require.Equal(t, 740, capErr.Remaining)

	minutes = 740
	updated, err := repo.Update(ctx, owner, target.ID, domain.Patch{Minutes: &minutes}, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 740, updated.Minutes)
}

func TestRepositoryHidesForeignActivities(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	owner := uuid.NewString()
	activity := newActivity(owner, "2024-03-18", "Yoga", "exercise", 60)
	require.NoError(t, repo.Insert(ctx, activity))

	stranger := uuid.NewString()

	stored, err := repo.ListByDay(ctx, stranger, "2024-03-18")
	require.NoError(t, err)
	require.Empty(t, stored, "row-level security must hide foreign rows")

	name := "Hijacked"
	_, err = repo.Update(ctx, stranger, activity.ID, domain.Patch{Name: &name}, time.Now().UTC())
	require.ErrorIs(t, err, domain.ErrActivityNotFound)

	require.ErrorIs(t, repo.Delete(ctx, stranger, activity.ID), domain.ErrActivityNotFound)

	// The owner still sees the untouched record.
	stored, err = repo.ListByDay(ctx, owner, "2024-03-18")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "Yoga", stored[0].Name)
}

func TestRepositoryListAllExactMultipleEndsWithoutCursor(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	owner := uuid.NewString()
	days := []string{"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-04"}
	for _, day := range days {
		require.NoError(t, repo.Insert(ctx, newActivity(owner, day, "Block", "work", 60)))
	}

	first, next, err := repo.ListAll(ctx, owner, nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotNil(t, next)
	require.Equal(t, "2024-03-04", first[0].Day)

	second, next, err := repo.ListAll(ctx, owner, next, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.Nil(t, next, "a history ending exactly on the page boundary has no next page")
}

func TestRepositoryWritesOutboxRows(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	owner := uuid.NewString()
	activity := newActivity(owner, "2024-03-19", "Cooking", "chores", 45)
	require.NoError(t, repo.Insert(ctx, activity))

	minutes := 90
	_, err := repo.Update(ctx, owner, activity.ID, domain.Patch{Minutes: &minutes}, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, owner, activity.ID))

	counts := map[string]int{}
	rows, err := pool.Query(ctx, `SELECT event_type, COUNT(*) FROM outbox WHERE owner_id=$1 GROUP BY event_type`, owner)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var eventType string
		var count int
		require.NoError(t, rows.Scan(&eventType, &count))
		counts[eventType] = count
	}
	require.NoError(t, rows.Err())

	require.Equal(t, 1, counts["activity.logged"])
	require.Equal(t, 1, counts["activity.updated"])
	require.Equal(t, 1, counts["activity.deleted"])
	require.Equal(t, 3, counts["day.total_changed"], "each mutation emits a fresh day total")
}

func newActivity(owner, day, name, category string, minutes int) domain.Activity {
	now := time.Now().UTC()
	return domain.Activity{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Day:       day,
		Name:      name,
		Category:  category,
		Minutes:   minutes,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("daytrack"),
		postgrescontainer.WithUsername("daytrack"),
		postgrescontainer.WithPassword("daytrack"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
