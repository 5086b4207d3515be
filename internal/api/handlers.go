// Package api exposes HTTP handlers for the daytrack service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/daytrack/internal/auth"
	"example.com/daytrack/internal/domain"
	"example.com/daytrack/internal/persistence"
)

const (
	defaultListLimit    = 50
	maxListLimit        = 200
	defaultSummaryLimit = 30
	maxSummaryLimit     = 90
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/activities/summary", h.daySummary)
	mux.HandleFunc("/v1/activities/stats", h.categoryStats)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "missing activity id")
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.updateActivity(w, r, id)
	case http.MethodDelete:
		h.deleteActivity(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req CreateActivityRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	activity, err := h.service.CreateActivity(r.Context(), domain.CreateActivityInput{
		OwnerID:  claims.OwnerID,
		Day:      req.Day,
		Name:     req.Name,
		Category: req.Category,
		Minutes:  req.Minutes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toActivityView(*activity))
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req UpdateActivityRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	activity, err := h.service.UpdateActivity(r.Context(), claims.OwnerID, id, domain.Patch{
		Name:     req.Name,
		Category: req.Category,
		Minutes:  req.Minutes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	if err := h.service.DeleteActivity(r.Context(), claims.OwnerID, id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	if date := r.URL.Query().Get("date"); date != "" {
		activities, err := h.service.ListActivitiesByDay(r.Context(), claims.OwnerID, date)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: toActivityViews(activities)})
		return
	}

	limit := parseLimit(r, "limit", defaultListLimit, maxListLimit)

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cursor")
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), claims.OwnerID, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      toActivityViews(activities),
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) daySummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	limit := parseLimit(r, "limit", defaultSummaryLimit, maxSummaryLimit)

	summaries, err := h.service.SummarizeByDay(r.Context(), claims.OwnerID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]DaySummaryView, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, toDaySummaryView(s))
	}
	writeJSON(w, http.StatusOK, DaySummaryResponse{Items: items})
}

func (h *Handler) categoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	limit := parseLimit(r, "limit", defaultSummaryLimit, maxSummaryLimit)

	summaries, err := h.service.SummarizeByCategory(r.Context(), claims.OwnerID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]CategoryStatView, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, CategoryStatView{Day: s.Day, Category: s.Category, TotalMinutes: s.TotalMinutes})
	}
	writeJSON(w, http.StatusOK, CategoryStatsResponse{Items: items})
}

func parseLimit(r *http.Request, key string, fallback, max int) int {
	limit := fallback
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func decodeBody(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// CreateActivityRequest is the payload for POST /v1/activities.
type CreateActivityRequest struct {
	Day      string `json:"day"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Minutes  int    `json:"minutes"`
}

// UpdateActivityRequest is the partial patch for PUT /v1/activities/{id}.
// Absent fields keep their stored value; explicit nulls count as absent.
type UpdateActivityRequest struct {
	Name     *string `json:"name"`
	Category *string `json:"category"`
	Minutes  *int    `json:"minutes"`
}

// ActivityView exposes full details about an activity.
type ActivityView struct {
	ActivityID string    `json:"activity_id"`
	OwnerID    string    `json:"owner_id"`
	Day        string    `json:"day"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Minutes    int       `json:"minutes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// DaySummaryView is one aggregated day with display-only derived fields.
// RemainingMinutes and PercentOfDayUsed are read-shaping; the write-time
// capacity check stays authoritative.
type DaySummaryView struct {
	Day              string  `json:"day"`
	TotalMinutes     int     `json:"total_minutes"`
	ActivityCount    int     `json:"activity_count"`
	RemainingMinutes int     `json:"remaining_minutes"`
	PercentOfDayUsed float64 `json:"percent_of_day_used"`
}

// DaySummaryResponse packages the per-day aggregation.
type DaySummaryResponse struct {
	Items []DaySummaryView `json:"items"`
}

// CategoryStatView is one day-category total.
type CategoryStatView struct {
	Day          string `json:"day"`
	Category     string `json:"category"`
	TotalMinutes int    `json:"total_minutes"`
}

// CategoryStatsResponse packages the day-category aggregation.
type CategoryStatsResponse struct {
	Items []CategoryStatView `json:"items"`
}

// CapacityExceededResponse reports a rejected mutation with enough data for
// the caller to adjust.
type CapacityExceededResponse struct {
	Error        string `json:"error"`
	CurrentTotal int    `json:"current_total"`
	Remaining    int    `json:"remaining"`
}

// ValidationFailedResponse lists the violated fields.
type ValidationFailedResponse struct {
	Error   string              `json:"error"`
	Details []domain.FieldError `json:"details"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, ValidationFailedResponse{
			Error:   "invalid activity data",
			Details: validationErr.Fields,
		})
		return
	}

	if capErr, ok := domain.AsCapacityError(err); ok {
		writeJSON(w, http.StatusBadRequest, CapacityExceededResponse{
			Error:        capErr.Error(),
			CurrentTotal: capErr.CurrentTotal,
			Remaining:    capErr.Remaining,
		})
		return
	}

	if errors.Is(err, domain.ErrActivityNotFound) {
		writeError(w, http.StatusNotFound, "activity not found")
		return
	}

	writeError(w, http.StatusInternalServerError, err.Error())
}

// writeDecodeError maps JSON decoding failures onto the validation taxonomy
// so a non-integer minutes value reads the same as an out-of-range one.
func writeDecodeError(w http.ResponseWriter, err error) {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		writeJSON(w, http.StatusBadRequest, ValidationFailedResponse{
			Error:   "invalid activity data",
			Details: []domain.FieldError{{Field: typeErr.Field, Message: "must be of type " + typeErr.Type.String()}},
		})
		return
	}
	writeError(w, http.StatusBadRequest, "unable to parse body")
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID: a.ID,
		OwnerID:    a.OwnerID,
		Day:        a.Day,
		Name:       a.Name,
		Category:   a.Category,
		Minutes:    a.Minutes,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func toActivityViews(activities []domain.Activity) []ActivityView {
	items := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toActivityView(a))
	}
	return items
}

func toDaySummaryView(s domain.DaySummary) DaySummaryView {
	return DaySummaryView{
		Day:              s.Day,
		TotalMinutes:     s.TotalMinutes,
		ActivityCount:    s.ActivityCount,
		RemainingMinutes: domain.DayCapacityMinutes - s.TotalMinutes,
		PercentOfDayUsed: float64(s.TotalMinutes) / float64(domain.DayCapacityMinutes),
	}
}
