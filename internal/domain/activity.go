package domain

import (
	"context"
	"time"
)

// DayCapacityMinutes is the hard per-day budget: 24 hours of logged time.
const DayCapacityMinutes = 1440

// Activity is the canonical logged-time record stored in Postgres.
type Activity struct {
	ID        string
	OwnerID   string
	Day       string
	Name      string
	Category  string
	Minutes   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Patch carries a partial update. Nil fields are left unchanged; the service
// rejects patches that provide no fields at all.
type Patch struct {
	Name     *string
	Category *string
	Minutes  *int
}

// IsEmpty reports whether the patch provides no fields.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Category == nil && p.Minutes == nil
}

// Cursor models the pagination token for the full-history listing.
type Cursor struct {
	Day       string
	CreatedAt time.Time
	ID        string
}

// DaySummary aggregates one owner-day. Never persisted, recomputed on read.
type DaySummary struct {
	Day           string
	TotalMinutes  int
	ActivityCount int
}

// CategorySummary aggregates one owner-day-category triple.
type CategorySummary struct {
	Day          string
	Category     string
	TotalMinutes int
}

// ActivityRepository captures persistence operations. Insert and Update
// enforce the daily capacity invariant atomically: the read-total, decide,
// write sequence is serialized per (owner, day) by the implementation.
type ActivityRepository interface {
	Insert(ctx context.Context, activity Activity) error
	Update(ctx context.Context, ownerID, activityID string, patch Patch, updatedAt time.Time) (*Activity, error)
	Delete(ctx context.Context, ownerID, activityID string) error
	ListByDay(ctx context.Context, ownerID, day string) ([]Activity, error)
	ListAll(ctx context.Context, ownerID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
	SummarizeByDay(ctx context.Context, ownerID string, limit int) ([]DaySummary, error)
	SummarizeByCategory(ctx context.Context, ownerID string, limit int) ([]CategorySummary, error)
}

// SuggestedCategories is the set offered by clients. Storage accepts any
// non-empty category; this list is advisory only.
var SuggestedCategories = []string{
	"Work",
	"Exercise",
	"Learning",
	"Sleep",
	"Meals",
	"Commute",
	"Entertainment",
	"Social",
	"Chores",
	"Other",
}
