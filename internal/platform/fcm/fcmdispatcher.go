// Package fcm adapts Firebase Cloud Messaging to the dispatch.PushProvider
// contract.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-event-service/pkg/dispatch"
)

// MaxMulticastTokens is the FCM hard limit for one multicast call.
const MaxMulticastTokens = 500

var errMissingResponse = errors.New("fcm returned no response for token")

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// *messaging.Client satisfies it.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// SendMulticast sends one multicast message. A transport or request error is
// returned as is so the caller can fail the whole batch.
func (d *Dispatcher) SendMulticast(ctx context.Context, tokens []string, payload dispatch.Payload) (*dispatch.BatchResult, error) {
	if len(tokens) == 0 {
		return &dispatch.BatchResult{}, nil
	}
	if len(tokens) > MaxMulticastTokens {
		return nil, fmt.Errorf("fcm multicast accepts at most %d tokens, got %d", MaxMulticastTokens, len(tokens))
	}

	br, err := d.client.SendEachForMulticast(ctx, buildMessage(tokens, payload))
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			d.logger.Error("FCM rejected batch as InvalidArgument", "tokens", len(tokens), "err", err)
		}
		return nil, fmt.Errorf("fcm multicast failed: %w", err)
	}

	result := &dispatch.BatchResult{Results: make([]dispatch.TokenResult, len(tokens))}
	for idx, token := range tokens {
		tr := dispatch.TokenResult{Token: token}
		switch {
		case idx >= len(br.Responses) || br.Responses[idx] == nil:
			tr.Err = errMissingResponse
		case br.Responses[idx].Success:
			tr.MessageID = br.Responses[idx].MessageID
		default:
			tr.Err = br.Responses[idx].Error
			if tr.Err == nil {
				tr.Err = errMissingResponse
			}
			d.logger.Debug("FCM rejected token", "unregistered", messaging.IsRegistrationTokenNotRegistered(tr.Err), "err", tr.Err)
		}
		result.Results[idx] = tr
	}

	d.logger.Debug("FCM multicast sent", "success", br.SuccessCount, "failure", br.FailureCount)
	return result, nil
}

func buildMessage(tokens []string, payload dispatch.Payload) *messaging.MulticastMessage {
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   payload.Data,
		Notification: &messaging.Notification{
			Title: payload.Content.Title,
			Body:  payload.Content.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: payload.AndroidPriority,
			Notification: &messaging.AndroidNotification{
				ChannelID: payload.AndroidChannelID,
				Sound:     payload.Sound,
				Priority:  androidPriority(payload.AndroidPriority),
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: payload.Sound,
				},
			},
		},
	}
	if payload.Badge > 0 {
		badge := payload.Badge
		msg.APNS.Payload.Aps.Badge = &badge
	}
	return msg
}

func androidPriority(p string) messaging.AndroidNotificationPriority {
	switch p {
	case "high":
		return messaging.PriorityHigh
	case "max":
		return messaging.PriorityMax
	case "low":
		return messaging.PriorityLow
	default:
		return messaging.PriorityDefault
	}
}
