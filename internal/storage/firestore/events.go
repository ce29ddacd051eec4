package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// CreateEvent stores the event under a store-assigned id.
func (r *Repository) CreateEvent(ctx context.Context, event domain.Event) (string, error) {
	ref := r.events().NewDoc()
	if _, err := ref.Create(ctx, event); err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	return ref.ID, nil
}

// UpdateEvent replaces the stored event document.
func (r *Repository) UpdateEvent(ctx context.Context, event domain.Event) error {
	if _, err := r.events().Doc(event.ID).Set(ctx, event); err != nil {
		return fmt.Errorf("failed to update event %s: %w", event.ID, err)
	}
	return nil
}

func (r *Repository) DeleteEvent(ctx context.Context, eventID string) error {
	if _, err := r.events().Doc(eventID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}
	return nil
}

func (r *Repository) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	var event domain.Event
	if err := getDoc(ctx, r.events().Doc(eventID), "event", &event); err != nil {
		return nil, err
	}
	event.ID = eventID
	return &event, nil
}

// ListEvents returns every event, latest event moment first.
func (r *Repository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	iter := r.events().OrderBy("timestamp", firestore.Desc).Documents(ctx)
	return collect(iter, decodeEvent)
}

// ListOrganizerEvents needs the (organizerId, timestamp desc) composite index.
func (r *Repository) ListOrganizerEvents(ctx context.Context, organizerID string) ([]domain.Event, error) {
	iter := r.events().
		Where("organizerId", "==", organizerID).
		OrderBy("timestamp", firestore.Desc).
		Documents(ctx)
	return collect(iter, decodeEvent)
}

func (r *Repository) events() *firestore.CollectionRef {
	return r.client.Collection(eventsCollection)
}

func decodeEvent(doc *firestore.DocumentSnapshot) (domain.Event, error) {
	var event domain.Event
	if err := doc.DataTo(&event); err != nil {
		return event, err
	}
	event.ID = doc.Ref.ID
	return event, nil
}
