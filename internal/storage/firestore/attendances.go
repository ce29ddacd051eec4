package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// ConfirmAttendance upserts the (user, event) attendance as confirmed.
// One document per pair, keyed by both ids.
func (r *Repository) ConfirmAttendance(ctx context.Context, userID, eventID string) (*domain.Attendance, error) {
	att := domain.Attendance{
		ID:        attendanceID(userID, eventID),
		UserID:    userID,
		EventID:   eventID,
		Status:    domain.AttendanceConfirmed,
		Timestamp: time.Now().UnixMilli(),
	}
	if _, err := r.attendances().Doc(att.ID).Set(ctx, att); err != nil {
		return nil, fmt.Errorf("failed to confirm attendance %s: %w", att.ID, err)
	}
	return &att, nil
}

// CancelAttendance marks an existing attendance as cancelled.
func (r *Repository) CancelAttendance(ctx context.Context, userID, eventID string) error {
	id := attendanceID(userID, eventID)
	_, err := r.attendances().Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: domain.AttendanceCancelled},
		{Path: "timestamp", Value: time.Now().UnixMilli()},
	})
	if err != nil {
		return notFound(err, "attendance", id)
	}
	return nil
}

// AttendanceStatus returns the stored status, or "" when the user never
// answered.
func (r *Repository) AttendanceStatus(ctx context.Context, userID, eventID string) (string, error) {
	var att domain.Attendance
	err := getDoc(ctx, r.attendances().Doc(attendanceID(userID, eventID)), "attendance", &att)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return att.Status, nil
}

func (r *Repository) ConfirmedAttendees(ctx context.Context, eventID string) ([]domain.Attendance, error) {
	iter := r.attendances().
		Where("eventId", "==", eventID).
		Where("status", "==", domain.AttendanceConfirmed).
		Documents(ctx)
	return collect(iter, decodeAttendance)
}

func (r *Repository) ConfirmedCount(ctx context.Context, eventID string) (int, error) {
	attendees, err := r.ConfirmedAttendees(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return len(attendees), nil
}

// AttendedEventIDs lists the events the user confirmed.
func (r *Repository) AttendedEventIDs(ctx context.Context, userID string) ([]string, error) {
	iter := r.attendances().
		Where("userId", "==", userID).
		Where("status", "==", domain.AttendanceConfirmed).
		Documents(ctx)
	return collect(iter, func(doc *firestore.DocumentSnapshot) (string, error) {
		att, err := decodeAttendance(doc)
		return att.EventID, err
	})
}

func (r *Repository) attendances() *firestore.CollectionRef {
	return r.client.Collection(attendancesCollection)
}

func attendanceID(userID, eventID string) string {
	return userID + "_" + eventID
}

func decodeAttendance(doc *firestore.DocumentSnapshot) (domain.Attendance, error) {
	var att domain.Attendance
	if err := doc.DataTo(&att); err != nil {
		return att, err
	}
	att.ID = doc.Ref.ID
	return att, nil
}
