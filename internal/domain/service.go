// Package domain defines the business logic for the daytrack service.
package domain

import (
	"context"
	"errors"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"example.com/daytrack/internal/observability"
)

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const (
	maxNameLen     = 100
	maxCategoryLen = 50
)

// Service orchestrates activity workflows around an ActivityRepository.
// Every operation takes the owner explicitly; identity resolution happens
// upstream in the auth middleware and is never ambient state.
type Service struct {
	repo ActivityRepository
}

// NewService constructs a Service.
func NewService(repo ActivityRepository) *Service {
	return &Service{repo: repo}
}

// CreateActivityInput captures the payload from the API layer.
type CreateActivityInput struct {
	OwnerID  string
	Day      string
	Name     string
	Category string
	Minutes  int
}

// CreateActivity validates the input and inserts a new activity. The
// repository performs the capacity check and the insert in one serialized
// step, so a rejection leaves no partial write behind.
func (s *Service) CreateActivity(ctx context.Context, input CreateActivityInput) (*Activity, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	activity := Activity{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		Day:       input.Day,
		Name:      input.Name,
		Category:  input.Category,
		Minutes:   input.Minutes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, activity); err != nil {
		if capErr, ok := AsCapacityError(err); ok {
			observability.RecordCapacityRejected(capErr.Day)
		}
		return nil, err
	}

	observability.RecordActivityLogged(activity.Category)
	return &activity, nil
}

// UpdateActivity applies a partial patch to an owned activity. Day, owner,
// id, and created_at are immutable; updated_at is always refreshed. The
// capacity check runs only when the patch changes minutes.
func (s *Service) UpdateActivity(ctx context.Context, ownerID, activityID string, patch Patch) (*Activity, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	if uuid.Validate(activityID) != nil {
		return nil, ErrActivityNotFound
	}

	updated, err := s.repo.Update(ctx, ownerID, activityID, patch, time.Now().UTC())
	if err != nil {
		if capErr, ok := AsCapacityError(err); ok {
			observability.RecordCapacityRejected(capErr.Day)
		}
		return nil, err
	}
	return updated, nil
}

// DeleteActivity removes an owned activity. Missing and foreign records are
// both reported as ErrActivityNotFound, as are ids that cannot name a stored
// record at all; the UUID check keeps malformed ids out of the uuid-typed
// Postgres column.
func (s *Service) DeleteActivity(ctx context.Context, ownerID, activityID string) error {
	if uuid.Validate(activityID) != nil {
		return ErrActivityNotFound
	}
	return s.repo.Delete(ctx, ownerID, activityID)
}

// ListActivitiesByDay returns the owner's activities for one day, most
// recently created first. A day with no activities yields an empty slice.
func (s *Service) ListActivitiesByDay(ctx context.Context, ownerID, day string) ([]Activity, error) {
	if !dayPattern.MatchString(day) || !validCalendarDay(day) {
		return nil, &ValidationError{Fields: []FieldError{{Field: "date", Message: "must be a valid YYYY-MM-DD date"}}}
	}
	return s.repo.ListByDay(ctx, ownerID, day)
}

// ListActivities returns the owner's full history, day descending then
// creation time descending, with cursor pagination.
func (s *Service) ListActivities(ctx context.Context, ownerID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return s.repo.ListAll(ctx, ownerID, cursor, limit)
}

// SummarizeByDay aggregates total minutes and activity count per day, most
// recent day first.
func (s *Service) SummarizeByDay(ctx context.Context, ownerID string, limit int) ([]DaySummary, error) {
	return s.repo.SummarizeByDay(ctx, ownerID, limit)
}

// SummarizeByCategory aggregates total minutes per day and category, most
// recent day first.
func (s *Service) SummarizeByCategory(ctx context.Context, ownerID string, limit int) ([]CategorySummary, error) {
	return s.repo.SummarizeByCategory(ctx, ownerID, limit)
}

// AsCapacityError unwraps a CapacityError if err carries one.
func AsCapacityError(err error) (*CapacityError, bool) {
	var capErr *CapacityError
	if errors.As(err, &capErr) {
		return capErr, true
	}
	return nil, false
}

func validateCreate(input CreateActivityInput) error {
	var fields []FieldError

	if !dayPattern.MatchString(input.Day) || !validCalendarDay(input.Day) {
		fields = append(fields, FieldError{Field: "day", Message: "must be a valid YYYY-MM-DD date"})
	}
	fields = appendNameErrors(fields, input.Name, false)
	fields = appendCategoryErrors(fields, input.Category, false)
	fields = appendMinutesErrors(fields, input.Minutes)

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validatePatch(patch Patch) error {
	if patch.IsEmpty() {
		return &ValidationError{Fields: []FieldError{{Field: "patch", Message: "at least one field is required"}}}
	}

	var fields []FieldError
	if patch.Name != nil {
		fields = appendNameErrors(fields, *patch.Name, true)
	}
	if patch.Category != nil {
		fields = appendCategoryErrors(fields, *patch.Category, true)
	}
	if patch.Minutes != nil {
		fields = appendMinutesErrors(fields, *patch.Minutes)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func appendNameErrors(fields []FieldError, name string, patching bool) []FieldError {
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		msg := "is required"
		if patching {
			msg = "cannot be cleared"
		}
		fields = append(fields, FieldError{Field: "name", Message: msg})
	case n > maxNameLen:
		fields = append(fields, FieldError{Field: "name", Message: "must be at most 100 characters"})
	}
	return fields
}

func appendCategoryErrors(fields []FieldError, category string, patching bool) []FieldError {
	switch n := utf8.RuneCountInString(category); {
	case n == 0:
		msg := "is required"
		if patching {
			msg = "cannot be cleared"
		}
		fields = append(fields, FieldError{Field: "category", Message: msg})
	case n > maxCategoryLen:
		fields = append(fields, FieldError{Field: "category", Message: "must be at most 50 characters"})
	}
	return fields
}

func appendMinutesErrors(fields []FieldError, minutes int) []FieldError {
	if minutes < 1 || minutes > DayCapacityMinutes {
		fields = append(fields, FieldError{Field: "minutes", Message: "must be between 1 and 1440"})
	}
	return fields
}

// validCalendarDay rejects strings that match the pattern but name an
// impossible date, e.g. 2024-02-30.
func validCalendarDay(day string) bool {
	_, err := time.Parse("2006-01-02", day)
	return err == nil
}
