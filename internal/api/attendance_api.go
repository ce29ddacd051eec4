package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// AttendanceStore is the attendance half of the domain repository.
type AttendanceStore interface {
	ConfirmAttendance(ctx context.Context, userID, eventID string) (*domain.Attendance, error)
	CancelAttendance(ctx context.Context, userID, eventID string) error
	AttendanceStatus(ctx context.Context, userID, eventID string) (string, error)
	ConfirmedAttendees(ctx context.Context, eventID string) ([]domain.Attendance, error)
}

type AttendanceAPI struct {
	Store  AttendanceStore
	Logger *slog.Logger
}

func NewAttendanceAPI(store AttendanceStore, logger *slog.Logger) *AttendanceAPI {
	return &AttendanceAPI{
		Store:  store,
		Logger: logger.With("component", "AttendanceAPI"),
	}
}

type AttendanceStatusResponse struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
}

type AttendeesResponse struct {
	EventID   string              `json:"eventId"`
	Count     int                 `json:"count"`
	Attendees []domain.Attendance `json:"attendees"`
}

func (api *AttendanceAPI) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	att, err := api.Store.ConfirmAttendance(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, api.Logger, "confirm attendance", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, att)
}

func (api *AttendanceAPI) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	if err := api.Store.CancelAttendance(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, api.Logger, "cancel attendance", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *AttendanceAPI) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	eventID := r.PathValue("id")
	status, err := api.Store.AttendanceStatus(r.Context(), userID, eventID)
	if err != nil {
		writeError(w, api.Logger, "attendance status", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, AttendanceStatusResponse{EventID: eventID, Status: status})
}

func (api *AttendanceAPI) Attendees(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	list, err := api.Store.ConfirmedAttendees(r.Context(), eventID)
	if err != nil {
		writeError(w, api.Logger, "attendees", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, AttendeesResponse{EventID: eventID, Count: len(list), Attendees: list})
}
