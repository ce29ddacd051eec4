package fanout

import (
	"fmt"

	"github.com/tinywideclouds/go-event-service/pkg/dispatch"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
	notification "github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

const (
	// TypeNewEvent discriminates new-event pushes in the data payload.
	TypeNewEvent = "new_event"

	defaultTitle   = "Nuevo Evento"
	ellipsisMarker = "…"
)

// BuildPayload renders the push message for a staging record. The visible
// body is truncated; the data payload keeps the full text.
func BuildPayload(record domain.StagingRecord, opts Options) dispatch.Payload {
	title := record.EventTitle
	if title == "" {
		title = defaultTitle
	}
	body := record.EventDescription
	if body == "" {
		body = fmt.Sprintf("Se ha creado un nuevo evento: %s", title)
	}

	return dispatch.Payload{
		Content: notification.NotificationContent{
			Title: title,
			Body:  Truncate(body, opts.BodyMaxChars),
		},
		Data: map[string]string{
			"eventId":  record.EventID,
			"title":    title,
			"body":     body,
			"date":     record.EventDate,
			"time":     record.EventTime,
			"location": record.EventLocation,
			"type":     TypeNewEvent,
		},
		AndroidChannelID: opts.AndroidChannelID,
		AndroidPriority:  opts.Priority,
		Sound:            opts.Sound,
		Badge:            opts.Badge,
	}
}

// Truncate cuts s to max characters and appends an ellipsis when anything
// was removed. Characters are counted as runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + ellipsisMarker
}
