// Package firestore implements the domain repository on Google Cloud
// Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// Collection names shared with the mobile client.
const (
	usersCollection       = "users"
	eventsCollection      = "events"
	attendancesCollection = "attendances"
	commentsCollection    = "comments"
	stagingCollection     = "pending_notifications"
)

// Repository is the CRUD facade over the event service's collections.
type Repository struct {
	client *firestore.Client
}

func NewRepository(client *firestore.Client) *Repository {
	return &Repository{client: client}
}

// notFound maps Firestore's gRPC NotFound onto domain.ErrNotFound.
func notFound(err error, what, id string) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("firestore %s %s: %w", what, id, err)
}

// collect drains a document iterator, decoding each document with decode.
func collect[T any](iter *firestore.DocumentIterator, decode func(*firestore.DocumentSnapshot) (T, error)) ([]T, error) {
	defer iter.Stop()

	out := make([]T, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		item, err := decode(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", doc.Ref.Path, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func getDoc(ctx context.Context, ref *firestore.DocumentRef, what string, dest any) error {
	snap, err := ref.Get(ctx)
	if err != nil {
		return notFound(err, what, ref.ID)
	}
	if err := snap.DataTo(dest); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", what, ref.ID, err)
	}
	return nil
}
