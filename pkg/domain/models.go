// Package domain contains the documents stored by the event service and the
// errors shared between its layers.
package domain

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller may not act on a document.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid is returned when input fails validation.
	ErrInvalid = errors.New("invalid input")
	// ErrAlreadyTerminal is returned when a staging record has already left
	// the pending state.
	ErrAlreadyTerminal = errors.New("staging record already terminal")
	// ErrClaimed is returned when another dispatcher holds a live claim on a
	// pending staging record.
	ErrClaimed = errors.New("staging record claimed by another dispatcher")
)

// Account roles.
const (
	RoleUser      = "usuario"
	RoleOrganizer = "organizador"
)

// Event is owned by its organizer. Timestamp is the moment the event takes
// place; both timestamps are epoch millis.
type Event struct {
	ID          string `firestore:"-" json:"id"`
	OrganizerID string `firestore:"organizerId" json:"organizerId"`
	Title       string `firestore:"title" json:"title"`
	Description string `firestore:"description" json:"description"`
	Date        string `firestore:"date" json:"date"`
	Time        string `firestore:"time" json:"time"`
	Location    string `firestore:"location" json:"location"`
	ImageURL    string `firestore:"imageUrl" json:"imageUrl"`
	Timestamp   int64  `firestore:"timestamp" json:"timestamp"`
	CreatedAt   int64  `firestore:"createdAt" json:"createdAt"`
}

// Account is a user document. An empty FCMToken means the account cannot
// receive push notifications.
type Account struct {
	ID          string `firestore:"-" json:"id"`
	Email       string `firestore:"email,omitempty" json:"email,omitempty"`
	Role        string `firestore:"role,omitempty" json:"role,omitempty"`
	FCMToken    string `firestore:"fcmToken,omitempty" json:"-"`
	DisplayName string `firestore:"displayName,omitempty" json:"displayName,omitempty"`
	Phone       string `firestore:"phone,omitempty" json:"phone,omitempty"`
	Bio         string `firestore:"bio,omitempty" json:"bio,omitempty"`
	PhotoURL    string `firestore:"photoUrl,omitempty" json:"photoUrl,omitempty"`
}

// ProfileUpdate carries optional profile fields. Nil fields are left as is.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	PhotoURL    *string `json:"photoUrl,omitempty"`
}

// Empty reports whether the update carries no fields.
func (p ProfileUpdate) Empty() bool {
	return p.DisplayName == nil && p.Phone == nil && p.Bio == nil && p.PhotoURL == nil
}

// Attendance statuses.
const (
	AttendanceConfirmed = "CONFIRMED"
	AttendanceCancelled = "CANCELLED"
)

type Attendance struct {
	ID        string `firestore:"-" json:"id"`
	UserID    string `firestore:"userId" json:"userId"`
	EventID   string `firestore:"eventId" json:"eventId"`
	Status    string `firestore:"status" json:"status"`
	Timestamp int64  `firestore:"timestamp" json:"timestamp"`
}

// Comment ratings are whole stars between 1 and 5.
type Comment struct {
	ID           string `firestore:"-" json:"id"`
	UserID       string `firestore:"userId" json:"userId"`
	EventID      string `firestore:"eventId" json:"eventId"`
	UserName     string `firestore:"userName" json:"userName"`
	UserPhotoURL string `firestore:"userPhotoUrl" json:"userPhotoUrl"`
	Text         string `firestore:"text" json:"text"`
	Rating       int    `firestore:"rating" json:"rating"`
	Timestamp    int64  `firestore:"timestamp" json:"timestamp"`
}

// Staging record statuses. A record only ever moves from pending to one of
// the terminal states.
const (
	StagingPending = "pending"
	StagingSent    = "sent"
	StagingFailed  = "failed"
)

// StagingRecord is the durable fan-out work item written when an event is
// created. The event fields are a snapshot taken at staging time.
type StagingRecord struct {
	ID               string   `firestore:"-" json:"id"`
	EventID          string   `firestore:"eventId" json:"eventId"`
	EventTitle       string   `firestore:"eventTitle" json:"eventTitle"`
	EventDescription string   `firestore:"eventDescription" json:"eventDescription"`
	EventDate        string   `firestore:"eventDate" json:"eventDate"`
	EventTime        string   `firestore:"eventTime" json:"eventTime"`
	EventLocation    string   `firestore:"eventLocation" json:"eventLocation"`
	Tokens           []string `firestore:"tokens" json:"tokens"`
	CreatedAt        int64    `firestore:"createdAt" json:"createdAt"`
	Status           string   `firestore:"status" json:"status"`

	SuccessCount int        `firestore:"successCount,omitempty" json:"successCount,omitempty"`
	FailureCount int        `firestore:"failureCount,omitempty" json:"failureCount,omitempty"`
	TotalTokens  int        `firestore:"totalTokens,omitempty" json:"totalTokens,omitempty"`
	SentAt       *time.Time `firestore:"sentAt,omitempty" json:"sentAt,omitempty"`
	ProcessedAt  *time.Time `firestore:"processedAt,omitempty" json:"processedAt,omitempty"`
	Error        string     `firestore:"error,omitempty" json:"error,omitempty"`

	// Set while a dispatcher owns the pending record.
	ClaimedBy      string     `firestore:"claimedBy,omitempty" json:"-"`
	ClaimExpiresAt *time.Time `firestore:"claimExpiresAt,omitempty" json:"-"`
}

// ClaimableBy reports whether owner may take the record at now: it must be
// pending and either unclaimed, already owned by owner, or past its lease.
func (r StagingRecord) ClaimableBy(owner string, now time.Time) error {
	if r.Status != StagingPending {
		return ErrAlreadyTerminal
	}
	if r.ClaimedBy == "" || r.ClaimedBy == owner {
		return nil
	}
	if r.ClaimExpiresAt != nil && r.ClaimExpiresAt.After(now) {
		return ErrClaimed
	}
	return nil
}

// NewStagingRecord snapshots the event and the recipient tokens into a
// pending record.
func NewStagingRecord(event Event, tokens []string, now time.Time) StagingRecord {
	return StagingRecord{
		EventID:          event.ID,
		EventTitle:       event.Title,
		EventDescription: event.Description,
		EventDate:        event.Date,
		EventTime:        event.Time,
		EventLocation:    event.Location,
		Tokens:           tokens,
		CreatedAt:        now.UnixMilli(),
		Status:           StagingPending,
	}
}

// StagingOutcome is the terminal update applied to a staging record.
type StagingOutcome struct {
	Status       string
	SuccessCount int
	FailureCount int
	TotalTokens  int
	Error        string
}

// Sent reports a completed fan-out with its aggregate counts.
func Sent(success, failure, total int) StagingOutcome {
	return StagingOutcome{Status: StagingSent, SuccessCount: success, FailureCount: failure, TotalTokens: total}
}

// Failed reports a fan-out that could not be processed.
func Failed(reason string) StagingOutcome {
	return StagingOutcome{Status: StagingFailed, Error: reason}
}
