package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

func (r *Repository) AddComment(ctx context.Context, comment domain.Comment) (string, error) {
	ref := r.comments().NewDoc()
	if _, err := ref.Create(ctx, comment); err != nil {
		return "", fmt.Errorf("failed to add comment on event %s: %w", comment.EventID, err)
	}
	return ref.ID, nil
}

// ListComments returns the event's comments, newest first.
func (r *Repository) ListComments(ctx context.Context, eventID string) ([]domain.Comment, error) {
	iter := r.comments().
		Where("eventId", "==", eventID).
		OrderBy("timestamp", firestore.Desc).
		Documents(ctx)
	return collect(iter, decodeComment)
}

// AverageRating is 0 for an event without comments.
func (r *Repository) AverageRating(ctx context.Context, eventID string) (float64, error) {
	iter := r.comments().Where("eventId", "==", eventID).Documents(ctx)
	comments, err := collect(iter, decodeComment)
	if err != nil {
		return 0, err
	}
	if len(comments) == 0 {
		return 0, nil
	}
	sum := 0
	for _, c := range comments {
		sum += c.Rating
	}
	return float64(sum) / float64(len(comments)), nil
}

func (r *Repository) comments() *firestore.CollectionRef {
	return r.client.Collection(commentsCollection)
}

func decodeComment(doc *firestore.DocumentSnapshot) (domain.Comment, error) {
	var c domain.Comment
	if err := doc.DataTo(&c); err != nil {
		return c, err
	}
	c.ID = doc.Ref.ID
	return c, nil
}
