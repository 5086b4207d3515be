// Package postgres provides pgx-backed persistence for activities and outbox events.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/daytrack/internal/domain"
	"example.com/daytrack/internal/events"
	"example.com/daytrack/internal/observability"
)

const activityColumns = `activity_id, owner_id, day, name, category, minutes, created_at, updated_at`

// Repository enforces the daily capacity invariant inside Postgres
// transactions. Mutations that touch a day's total take a per-(owner, day)
// advisory lock, so concurrent creates and minute updates are serialized
// across every service instance sharing the database.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// beginOwnerTx opens a transaction with the owner bound for row-level
// security. Callers must invoke done() on every path; it rolls back unless
// the transaction was committed.
func (r *Repository) beginOwnerTx(ctx context.Context, ownerID string) (pgx.Tx, func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, nil, err
	}

	if _, err := tx.Exec(ctx, "SELECT set_config('app.owner_id', $1, true)", ownerID); err != nil {
		_ = tx.Rollback(ctx)
		conn.Release()
		return nil, nil, err
	}

	done := func() {
		_ = tx.Rollback(ctx)
		conn.Release()
	}
	return tx, done, nil
}

// lockDay serializes capacity-checked mutations for one owner-day. The lock
// is transaction-scoped and released on commit or rollback.
func lockDay(ctx context.Context, tx pgx.Tx, ownerID, day string) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", ownerID+"|"+day)
	return err
}

func sumMinutes(ctx context.Context, tx pgx.Tx, ownerID, day, excludeID string) (int, error) {
	query := `SELECT COALESCE(SUM(minutes), 0) FROM activities WHERE owner_id=$1 AND day=$2`
	args := []interface{}{ownerID, day}
	if excludeID != "" {
		query += ` AND activity_id <> $3`
		args = append(args, excludeID)
	}

	var total int
	if err := tx.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Insert persists the activity if the day budget allows it, recording outbox
// events in the same transaction. A capacity rejection writes nothing.
func (r *Repository) Insert(ctx context.Context, activity domain.Activity) error {
	tx, done, err := r.beginOwnerTx(ctx, activity.OwnerID)
	if err != nil {
		return err
	}
	defer done()

	if err := lockDay(ctx, tx, activity.OwnerID, activity.Day); err != nil {
		return err
	}

	total, err := sumMinutes(ctx, tx, activity.OwnerID, activity.Day, "")
	if err != nil {
		return err
	}
	if total+activity.Minutes > domain.DayCapacityMinutes {
		return &domain.CapacityError{
			Day:          activity.Day,
			CurrentTotal: total,
			Remaining:    domain.DayCapacityMinutes - total,
		}
	}

	const insertActivity = `INSERT INTO activities (activity_id, owner_id, day, name, category, minutes, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	if _, err := tx.Exec(ctx, insertActivity,
		activity.ID,
		activity.OwnerID,
		activity.Day,
		activity.Name,
		activity.Category,
		activity.Minutes,
		activity.CreatedAt,
		activity.UpdatedAt,
	); err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, activity.OwnerID, activity.ID, "activity.logged", events.ActivityLogged{
		ActivityID: activity.ID,
		OwnerID:    activity.OwnerID,
		Day:        activity.Day,
		Name:       activity.Name,
		Category:   activity.Category,
		Minutes:    activity.Minutes,
		OccurredAt: activity.CreatedAt,
	}); err != nil {
		return err
	}

	if err := insertDayTotal(ctx, tx, activity.OwnerID, activity.Day, total+activity.Minutes, activity.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordActivityPersisted(activity.CreatedAt)
	return nil
}

// Update applies a partial patch to an owned activity. Day and owner are
// immutable; when the patch changes minutes the capacity check reruns against
// the day total excluding this record, under the same per-day lock as Insert.
func (r *Repository) Update(ctx context.Context, ownerID, activityID string, patch domain.Patch, updatedAt time.Time) (*domain.Activity, error) {
	tx, done, err := r.beginOwnerTx(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer done()

	query := `SELECT ` + activityColumns + ` FROM activities WHERE owner_id=$1 AND activity_id=$2`
	existing, err := scanActivity(tx.QueryRow(ctx, query, ownerID, activityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrActivityNotFound
		}
		return nil, err
	}

	updated := *existing
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Category != nil {
		updated.Category = *patch.Category
	}

	var newTotal int
	totalChanged := false
	if patch.Minutes != nil && *patch.Minutes != existing.Minutes {
		if err := lockDay(ctx, tx, ownerID, existing.Day); err != nil {
			return nil, err
		}
		othersTotal, err := sumMinutes(ctx, tx, ownerID, existing.Day, activityID)
		if err != nil {
			return nil, err
		}
		if othersTotal+*patch.Minutes > domain.DayCapacityMinutes {
			return nil, &domain.CapacityError{
				Day:          existing.Day,
				CurrentTotal: othersTotal,
				Remaining:    domain.DayCapacityMinutes - othersTotal,
			}
		}
		updated.Minutes = *patch.Minutes
		newTotal = othersTotal + *patch.Minutes
		totalChanged = true
	} else if patch.Minutes != nil {
		updated.Minutes = *patch.Minutes
	}
	updated.UpdatedAt = updatedAt

	const stmt = `UPDATE activities SET name=$1, category=$2, minutes=$3, updated_at=$4
        WHERE owner_id=$5 AND activity_id=$6`
	if _, err := tx.Exec(ctx, stmt, updated.Name, updated.Category, updated.Minutes, updated.UpdatedAt, ownerID, activityID); err != nil {
		return nil, err
	}

	if err := insertOutbox(ctx, tx, ownerID, activityID, "activity.updated", events.ActivityUpdated{
		ActivityID: updated.ID,
		OwnerID:    updated.OwnerID,
		Day:        updated.Day,
		Name:       updated.Name,
		Category:   updated.Category,
		Minutes:    updated.Minutes,
		OccurredAt: updatedAt,
	}); err != nil {
		return nil, err
	}

	if totalChanged {
		if err := insertDayTotal(ctx, tx, ownerID, updated.Day, newTotal, updatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	observability.RecordActivityPersisted(updatedAt)
	return &updated, nil
}

// Delete removes an owned activity, emitting the new day total.
func (r *Repository) Delete(ctx context.Context, ownerID, activityID string) error {
	tx, done, err := r.beginOwnerTx(ctx, ownerID)
	if err != nil {
		return err
	}
	defer done()

	var day string
	err = tx.QueryRow(ctx,
		`DELETE FROM activities WHERE owner_id=$1 AND activity_id=$2 RETURNING day`,
		ownerID, activityID,
	).Scan(&day)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrActivityNotFound
		}
		return err
	}

	now := time.Now().UTC()
	total, err := sumMinutes(ctx, tx, ownerID, day, "")
	if err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, ownerID, activityID, "activity.deleted", events.ActivityDeleted{
		ActivityID: activityID,
		OwnerID:    ownerID,
		Day:        day,
		OccurredAt: now,
	}); err != nil {
		return err
	}

	if err := insertDayTotal(ctx, tx, ownerID, day, total, now); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListByDay returns the owner's activities for one day, newest created first.
func (r *Repository) ListByDay(ctx context.Context, ownerID, day string) ([]domain.Activity, error) {
	tx, done, err := r.beginOwnerTx(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer done()

	query := `SELECT ` + activityColumns + ` FROM activities
        WHERE owner_id=$1 AND day=$2
        ORDER BY created_at DESC, activity_id DESC`

	rows, err := tx.Query(ctx, query, ownerID, day)
	if err != nil {
		return nil, err
	}
	results, err := collectActivities(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// ListAll returns the owner's history ordered by day then creation time,
// both descending, with keyset pagination.
func (r *Repository) ListAll(ctx context.Context, ownerID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	tx, done, err := r.beginOwnerTx(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	defer done()

	// Fetch one row past the page so a history that ends exactly on the
	// limit does not hand out a cursor to an empty page.
	args := []interface{}{ownerID, limit + 1}
	query := `SELECT ` + activityColumns + ` FROM activities WHERE owner_id=$1`
	if cursor != nil {
		query += ` AND (day, created_at, activity_id) < ($3, $4, $5)`
		args = append(args, cursor.Day, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY day DESC, created_at DESC, activity_id DESC LIMIT $2`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	results, err := collectActivities(rows)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) > limit {
		results = results[:limit]
		last := results[len(results)-1]
		next = &domain.Cursor{Day: last.Day, CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// SummarizeByDay aggregates minutes and counts per day, most recent first.
func (r *Repository) SummarizeByDay(ctx context.Context, ownerID string, limit int) ([]domain.DaySummary, error) {
	tx, done, err := r.beginOwnerTx(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer done()

	const query = `SELECT day, SUM(minutes), COUNT(*) FROM activities
        WHERE owner_id=$1
        GROUP BY day
        ORDER BY day DESC
        LIMIT $2`

	rows, err := tx.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]domain.DaySummary, 0, limit)
	for rows.Next() {
		var s domain.DaySummary
		if err := rows.Scan(&s.Day, &s.TotalMinutes, &s.ActivityCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return summaries, nil
}

// SummarizeByCategory aggregates minutes per day and category, most recent
// day first.
func (r *Repository) SummarizeByCategory(ctx context.Context, ownerID string, limit int) ([]domain.CategorySummary, error) {
	tx, done, err := r.beginOwnerTx(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer done()

	const query = `SELECT day, category, SUM(minutes) FROM activities
        WHERE owner_id=$1
        GROUP BY day, category
        ORDER BY day DESC, category ASC
        LIMIT $2`

	rows, err := tx.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]domain.CategorySummary, 0, limit)
	for rows.Next() {
		var s domain.CategorySummary
		if err := rows.Scan(&s.Day, &s.Category, &s.TotalMinutes); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return summaries, nil
}

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var a domain.Activity
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Day, &a.Name, &a.Category, &a.Minutes, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func collectActivities(rows pgx.Rows) ([]domain.Activity, error) {
	defer rows.Close()

	results := make([]domain.Activity, 0)
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Day, &a.Name, &a.Category, &a.Minutes, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

func insertDayTotal(ctx context.Context, tx pgx.Tx, ownerID, day string, total int, occurredAt time.Time) error {
	return insertOutbox(ctx, tx, ownerID, ownerID+"|"+day, "day.total_changed", events.DayTotalChanged{
		OwnerID:      ownerID,
		Day:          day,
		TotalMinutes: total,
		Remaining:    domain.DayCapacityMinutes - total,
		OccurredAt:   occurredAt,
	})
}

func insertOutbox(ctx context.Context, tx pgx.Tx, ownerID, aggregateID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (owner_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	dedupeKey := fmt.Sprintf("%s:%s:%d", aggregateID, eventType, time.Now().UTC().UnixNano())
	_, err = tx.Exec(ctx, stmt,
		ownerID,
		"activity",
		aggregateID,
		eventType,
		meta.Topic,
		meta.PartitionKeyFn(ownerID, aggregateID),
		body,
		dedupeKey,
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	PartitionKeyFn func(ownerID, aggregateID string) string
}

var eventCatalog = map[string]EventMetadata{
	"activity.logged": {
		Topic:          "activity_timeline",
		PartitionKeyFn: func(ownerID, _ string) string { return ownerID },
	},
	"activity.updated": {
		Topic:          "activity_timeline",
		PartitionKeyFn: func(ownerID, _ string) string { return ownerID },
	},
	"activity.deleted": {
		Topic:          "activity_timeline",
		PartitionKeyFn: func(ownerID, _ string) string { return ownerID },
	},
	"day.total_changed": {
		Topic:          "day_totals",
		PartitionKeyFn: func(_, aggregateID string) string { return aggregateID },
	},
}
