// Package events defines the payloads published through the outbox.
package events

import "time"

// ActivityLogged is emitted when a new activity is accepted.
type ActivityLogged struct {
	ActivityID string    `json:"activity_id"`
	OwnerID    string    `json:"owner_id"`
	Day        string    `json:"day"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Minutes    int       `json:"minutes"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ActivityUpdated is emitted after a patch is applied.
type ActivityUpdated struct {
	ActivityID string    `json:"activity_id"`
	OwnerID    string    `json:"owner_id"`
	Day        string    `json:"day"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Minutes    int       `json:"minutes"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ActivityDeleted is emitted when an activity is removed.
type ActivityDeleted struct {
	ActivityID string    `json:"activity_id"`
	OwnerID    string    `json:"owner_id"`
	Day        string    `json:"day"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DayTotalChanged reports the new minute total for an owner-day after any
// mutation. Remaining is measured against the 1440-minute budget.
type DayTotalChanged struct {
	OwnerID      string    `json:"owner_id"`
	Day          string    `json:"day"`
	TotalMinutes int       `json:"total_minutes"`
	Remaining    int       `json:"remaining"`
	OccurredAt   time.Time `json:"occurred_at"`
}
