package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// EnsureAccount registers the account. The role is assigned only while the
// document has none, so a later call refreshes the email but cannot switch
// roles. Fields written by other paths, like fcmToken, are left untouched.
func (r *Repository) EnsureAccount(ctx context.Context, userID, email, role string) error {
	if role == "" {
		role = domain.RoleUser
	}
	ref := r.users().Doc(userID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		data := map[string]interface{}{}
		if email != "" {
			data["email"] = email
		}

		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		current := ""
		if snap != nil && snap.Exists() {
			if v, ok := snap.Data()["role"].(string); ok {
				current = v
			}
		}
		if current == "" {
			data["role"] = role
		}
		if len(data) == 0 {
			return nil
		}
		return tx.Set(ref, data, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to write account %s: %w", userID, err)
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	var acc domain.Account
	if err := getDoc(ctx, r.users().Doc(userID), "account", &acc); err != nil {
		return nil, err
	}
	acc.ID = userID
	return &acc, nil
}

// UpdateProfile writes only the fields present in the update. The account
// must already exist.
func (r *Repository) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) error {
	var updates []firestore.Update
	add := func(path string, v *string) {
		if v != nil {
			updates = append(updates, firestore.Update{Path: path, Value: *v})
		}
	}
	add("displayName", update.DisplayName)
	add("phone", update.Phone)
	add("bio", update.Bio)
	add("photoUrl", update.PhotoURL)
	if len(updates) == 0 {
		return nil
	}

	if _, err := r.users().Doc(userID).Update(ctx, updates); err != nil {
		return notFound(err, "account", userID)
	}
	return nil
}

func decodeAccount(doc *firestore.DocumentSnapshot) (domain.Account, error) {
	var acc domain.Account
	if err := doc.DataTo(&acc); err != nil {
		return acc, err
	}
	acc.ID = doc.Ref.ID
	return acc, nil
}
