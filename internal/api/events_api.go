package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-event-service/internal/events"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// EventService is the event lifecycle surface the handlers drive.
type EventService interface {
	CreateEvent(ctx context.Context, organizerID string, in events.EventInput) (*domain.Event, error)
	UpdateEvent(ctx context.Context, callerID, eventID string, in events.EventInput) (*domain.Event, error)
	DeleteEvent(ctx context.Context, callerID, eventID string) error
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	ListOrganizerEvents(ctx context.Context, organizerID string) ([]domain.Event, error)
	AddComment(ctx context.Context, userID, eventID, text string, rating int) (*domain.Comment, error)
}

// CommentReader lists comments and their rating.
type CommentReader interface {
	ListComments(ctx context.Context, eventID string) ([]domain.Comment, error)
	AverageRating(ctx context.Context, eventID string) (float64, error)
}

type EventAPI struct {
	Events   EventService
	Comments CommentReader
	Logger   *slog.Logger
}

func NewEventAPI(svc EventService, comments CommentReader, logger *slog.Logger) *EventAPI {
	return &EventAPI{
		Events:   svc,
		Comments: comments,
		Logger:   logger.With("component", "EventAPI"),
	}
}

type EventRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Location    string `json:"location" validate:"max=500"`
	ImageURL    string `json:"imageUrl" validate:"omitempty,url"`
	Timestamp   int64  `json:"timestamp" validate:"gte=0"`
}

func (req EventRequest) input() events.EventInput {
	return events.EventInput{
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		Time:        req.Time,
		Location:    req.Location,
		ImageURL:    req.ImageURL,
		Timestamp:   req.Timestamp,
	}
}

type CommentRequest struct {
	Text   string `json:"text" validate:"required,max=2000"`
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
}

type RatingResponse struct {
	EventID string  `json:"eventId"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

func (api *EventAPI) CreateEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req EventRequest
	if !decode(w, r, &req) {
		return
	}

	event, err := api.Events.CreateEvent(r.Context(), userID, req.input())
	if err != nil {
		writeError(w, api.Logger, "create event", err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, event)
}

func (api *EventAPI) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req EventRequest
	if !decode(w, r, &req) {
		return
	}

	event, err := api.Events.UpdateEvent(r.Context(), userID, r.PathValue("id"), req.input())
	if err != nil {
		writeError(w, api.Logger, "update event", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, event)
}

func (api *EventAPI) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	if err := api.Events.DeleteEvent(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, api.Logger, "delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *EventAPI) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := api.Events.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, api.Logger, "get event", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, event)
}

func (api *EventAPI) ListEvents(w http.ResponseWriter, r *http.Request) {
	list, err := api.Events.ListEvents(r.Context())
	if err != nil {
		writeError(w, api.Logger, "list events", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, list)
}

func (api *EventAPI) ListMyEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	list, err := api.Events.ListOrganizerEvents(r.Context(), userID)
	if err != nil {
		writeError(w, api.Logger, "list organizer events", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, list)
}

func (api *EventAPI) AddComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req CommentRequest
	if !decode(w, r, &req) {
		return
	}

	comment, err := api.Events.AddComment(r.Context(), userID, r.PathValue("id"), req.Text, req.Rating)
	if err != nil {
		writeError(w, api.Logger, "add comment", err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, comment)
}

func (api *EventAPI) ListComments(w http.ResponseWriter, r *http.Request) {
	list, err := api.Comments.ListComments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, api.Logger, "list comments", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, list)
}

func (api *EventAPI) Rating(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	avg, err := api.Comments.AverageRating(r.Context(), eventID)
	if err != nil {
		writeError(w, api.Logger, "rating", err)
		return
	}
	list, err := api.Comments.ListComments(r.Context(), eventID)
	if err != nil {
		writeError(w, api.Logger, "rating", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, RatingResponse{EventID: eventID, Average: avg, Count: len(list)})
}
