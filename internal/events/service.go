// Package events owns event lifecycle rules: only organizers create events,
// only an event's organizer changes it, and every new event is handed to the
// notification staging writer.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tinywideclouds/go-event-service/internal/staging"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// EventStore is the event half of the domain repository.
type EventStore interface {
	CreateEvent(ctx context.Context, event domain.Event) (string, error)
	UpdateEvent(ctx context.Context, event domain.Event) error
	DeleteEvent(ctx context.Context, eventID string) error
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	ListOrganizerEvents(ctx context.Context, organizerID string) ([]domain.Event, error)
}

// CommentStore is the comment half of the domain repository.
type CommentStore interface {
	AddComment(ctx context.Context, comment domain.Comment) (string, error)
}

// AccountReader resolves the caller's account.
type AccountReader interface {
	GetAccount(ctx context.Context, userID string) (*domain.Account, error)
}

// Stager starts staging notifications for a new event.
type Stager interface {
	StageAsync(ctx context.Context, event domain.Event) <-chan staging.Result
}

// EventInput is the organizer-editable part of an event.
type EventInput struct {
	Title       string
	Description string
	Date        string
	Time        string
	Location    string
	ImageURL    string
	// Timestamp is the event moment in epoch millis; zero means now.
	Timestamp int64
}

type Service struct {
	events   EventStore
	comments CommentStore
	accounts AccountReader
	stager   Stager
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(events EventStore, comments CommentStore, accounts AccountReader, stager Stager, logger *slog.Logger) *Service {
	return &Service{
		events:   events,
		comments: comments,
		accounts: accounts,
		stager:   stager,
		now:      time.Now,
		logger:   logger.With("component", "EventService"),
	}
}

// CreateEvent stores a new event owned by organizerID and starts staging its
// notifications without waiting. A staging failure never fails the creation.
func (s *Service) CreateEvent(ctx context.Context, organizerID string, in EventInput) (*domain.Event, error) {
	if err := s.requireOrganizer(ctx, organizerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: event title is required", domain.ErrInvalid)
	}

	now := s.now().UnixMilli()
	event := domain.Event{OrganizerID: organizerID, CreatedAt: now}
	apply(&event, in, now)

	id, err := s.events.CreateEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	event.ID = id
	s.logger.Info("Event created", "event_id", id, "organizer", organizerID)

	// The writer logs its own outcome; the result channel is buffered.
	s.stager.StageAsync(ctx, event)

	return &event, nil
}

// UpdateEvent replaces the editable fields. Notifications are not re-staged.
func (s *Service) UpdateEvent(ctx context.Context, callerID, eventID string, in EventInput) (*domain.Event, error) {
	event, err := s.owned(ctx, callerID, eventID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: event title is required", domain.ErrInvalid)
	}
	apply(event, in, event.Timestamp)

	if err := s.events.UpdateEvent(ctx, *event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *Service) DeleteEvent(ctx context.Context, callerID, eventID string) error {
	if _, err := s.owned(ctx, callerID, eventID); err != nil {
		return err
	}
	if err := s.events.DeleteEvent(ctx, eventID); err != nil {
		return err
	}
	s.logger.Info("Event deleted", "event_id", eventID, "organizer", callerID)
	return nil
}

func (s *Service) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	return s.events.GetEvent(ctx, eventID)
}

func (s *Service) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return s.events.ListEvents(ctx)
}

func (s *Service) ListOrganizerEvents(ctx context.Context, organizerID string) ([]domain.Event, error) {
	return s.events.ListOrganizerEvents(ctx, organizerID)
}

// AddComment stores a rated comment, stamping the author's display name and
// photo from their profile.
func (s *Service) AddComment(ctx context.Context, userID, eventID, text string, rating int) (*domain.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: comment text is required", domain.ErrInvalid)
	}
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", domain.ErrInvalid)
	}
	if _, err := s.events.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}

	comment := domain.Comment{
		UserID:    userID,
		EventID:   eventID,
		Text:      text,
		Rating:    rating,
		Timestamp: s.now().UnixMilli(),
	}
	acc, err := s.accounts.GetAccount(ctx, userID)
	switch {
	case err == nil:
		comment.UserName = acc.DisplayName
		comment.UserPhotoURL = acc.PhotoURL
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	if comment.UserName == "" {
		comment.UserName = "Anónimo"
	}

	id, err := s.comments.AddComment(ctx, comment)
	if err != nil {
		return nil, err
	}
	comment.ID = id
	return &comment, nil
}

func (s *Service) requireOrganizer(ctx context.Context, userID string) error {
	acc, err := s.accounts.GetAccount(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: no account for %s", domain.ErrForbidden, userID)
	}
	if err != nil {
		return err
	}
	if acc.Role != domain.RoleOrganizer {
		return fmt.Errorf("%w: only organizers can create events", domain.ErrForbidden)
	}
	return nil
}

func (s *Service) owned(ctx context.Context, callerID, eventID string) (*domain.Event, error) {
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.OrganizerID != callerID {
		return nil, fmt.Errorf("%w: event %s belongs to another organizer", domain.ErrForbidden, eventID)
	}
	return event, nil
}

func apply(event *domain.Event, in EventInput, fallbackTimestamp int64) {
	event.Title = in.Title
	event.Description = in.Description
	event.Date = in.Date
	event.Time = in.Time
	event.Location = in.Location
	event.ImageURL = in.ImageURL
	event.Timestamp = in.Timestamp
	if event.Timestamp == 0 {
		event.Timestamp = fallbackTimestamp
	}
}
