// Package memory provides an in-process ActivityRepository used by tests and
// single-instance deployments. A single mutex serializes every mutation, which
// is what makes the read-total/decide/write sequence safe without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/daytrack/internal/domain"
)

// Repository stores activities keyed by ID.
type Repository struct {
	mu         sync.Mutex
	activities map[string]domain.Activity
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{activities: make(map[string]domain.Activity)}
}

// Insert adds the activity if the day budget allows it.
func (r *Repository) Insert(ctx context.Context, activity domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.dayTotalLocked(activity.OwnerID, activity.Day, "")
	if total+activity.Minutes > domain.DayCapacityMinutes {
		return &domain.CapacityError{
			Day:          activity.Day,
			CurrentTotal: total,
			Remaining:    domain.DayCapacityMinutes - total,
		}
	}

	r.activities[activity.ID] = activity
	return nil
}

// Update applies a partial patch to an owned activity.
func (r *Repository) Update(ctx context.Context, ownerID, activityID string, patch domain.Patch, updatedAt time.Time) (*domain.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.activities[activityID]
	if !ok || existing.OwnerID != ownerID {
		return nil, domain.ErrActivityNotFound
	}

	updated := existing
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Category != nil {
		updated.Category = *patch.Category
	}
	if patch.Minutes != nil {
		othersTotal := r.dayTotalLocked(ownerID, existing.Day, activityID)
		if othersTotal+*patch.Minutes > domain.DayCapacityMinutes {
			return nil, &domain.CapacityError{
				Day:          existing.Day,
				CurrentTotal: othersTotal,
				Remaining:    domain.DayCapacityMinutes - othersTotal,
			}
		}
		updated.Minutes = *patch.Minutes
	}
	updated.UpdatedAt = updatedAt

	r.activities[activityID] = updated
	return &updated, nil
}

// Delete removes an owned activity.
func (r *Repository) Delete(ctx context.Context, ownerID, activityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.activities[activityID]
	if !ok || existing.OwnerID != ownerID {
		return domain.ErrActivityNotFound
	}
	delete(r.activities, activityID)
	return nil
}

// ListByDay returns the owner's activities for one day, newest created first.
func (r *Repository) ListByDay(ctx context.Context, ownerID, day string) ([]domain.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]domain.Activity, 0)
	for _, a := range r.activities {
		if a.OwnerID == ownerID && a.Day == day {
			results = append(results, a)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].ID > results[j].ID
	})
	return results, nil
}

// ListAll returns the owner's history, day descending then creation time
// descending, with keyset pagination.
func (r *Repository) ListAll(ctx context.Context, ownerID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]domain.Activity, 0)
	for _, a := range r.activities {
		if a.OwnerID == ownerID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Day != all[j].Day {
			return all[i].Day > all[j].Day
		}
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	start := 0
	if cursor != nil {
		for i, a := range all {
			if beforeCursor(a, cursor) {
				start = i
				break
			}
			start = len(all)
		}
	}

	end := start + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	results := append([]domain.Activity(nil), all[start:end]...)

	var next *domain.Cursor
	if limit > 0 && len(results) == limit && end < len(all) {
		last := results[len(results)-1]
		next = &domain.Cursor{Day: last.Day, CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// SummarizeByDay aggregates minutes and counts per day, most recent first.
func (r *Repository) SummarizeByDay(ctx context.Context, ownerID string, limit int) ([]domain.DaySummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byDay := make(map[string]*domain.DaySummary)
	for _, a := range r.activities {
		if a.OwnerID != ownerID {
			continue
		}
		s, ok := byDay[a.Day]
		if !ok {
			s = &domain.DaySummary{Day: a.Day}
			byDay[a.Day] = s
		}
		s.TotalMinutes += a.Minutes
		s.ActivityCount++
	}

	summaries := make([]domain.DaySummary, 0, len(byDay))
	for _, s := range byDay {
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Day > summaries[j].Day })
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// SummarizeByCategory aggregates minutes per day and category, most recent
// day first.
func (r *Repository) SummarizeByCategory(ctx context.Context, ownerID string, limit int) ([]domain.CategorySummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type key struct{ day, category string }
	byKey := make(map[key]int)
	for _, a := range r.activities {
		if a.OwnerID != ownerID {
			continue
		}
		byKey[key{a.Day, a.Category}] += a.Minutes
	}

	summaries := make([]domain.CategorySummary, 0, len(byKey))
	for k, total := range byKey {
		summaries = append(summaries, domain.CategorySummary{Day: k.day, Category: k.category, TotalMinutes: total})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Day != summaries[j].Day {
			return summaries[i].Day > summaries[j].Day
		}
		return summaries[i].Category < summaries[j].Category
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (r *Repository) dayTotalLocked(ownerID, day, excludeID string) int {
	total := 0
	for _, a := range r.activities {
		if a.OwnerID == ownerID && a.Day == day && a.ID != excludeID {
			total += a.Minutes
		}
	}
	return total
}

// beforeCursor reports whether a sorts strictly after the cursor position in
// the day/created_at/id descending order.
func beforeCursor(a domain.Activity, c *domain.Cursor) bool {
	if a.Day != c.Day {
		return a.Day < c.Day
	}
	if !a.CreatedAt.Equal(c.CreatedAt) {
		return a.CreatedAt.Before(c.CreatedAt)
	}
	return a.ID < c.ID
}
