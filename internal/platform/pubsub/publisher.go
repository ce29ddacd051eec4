// Package pubsub announces new staging records on the fan-out trigger topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	gpubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// Sender defines the subset of the Pub/Sub publisher we use.
// This interface allows us to mock the topic for unit testing.
type Sender interface {
	Send(ctx context.Context, msg *gpubsub.Message) (string, error)
	Stop()
}

type topicSender struct {
	publisher *gpubsub.Publisher
}

func (s *topicSender) Send(ctx context.Context, msg *gpubsub.Message) (string, error) {
	return s.publisher.Publish(ctx, msg).Get(ctx)
}

func (s *topicSender) Stop() {
	s.publisher.Stop()
}

// TriggerPublisher implements dispatch.TriggerPublisher on a Pub/Sub topic.
type TriggerPublisher struct {
	sender Sender
	logger *slog.Logger
}

// NewTriggerPublisher publishes to topicID (short id or full resource name).
func NewTriggerPublisher(client *gpubsub.Client, topicID string, logger *slog.Logger) *TriggerPublisher {
	return NewTriggerPublisherWithSender(&topicSender{publisher: client.Publisher(topicID)}, logger)
}

func NewTriggerPublisherWithSender(sender Sender, logger *slog.Logger) *TriggerPublisher {
	return &TriggerPublisher{
		sender: sender,
		logger: logger.With("component", "TriggerPublisher"),
	}
}

// PublishStaged sends the full staging record, id included, and waits for
// the server to acknowledge it.
func (p *TriggerPublisher) PublishStaged(ctx context.Context, record domain.StagingRecord) error {
	if record.ID == "" {
		return fmt.Errorf("%w: staging record has no id", domain.ErrInvalid)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal staging record %s: %w", record.ID, err)
	}

	triggerID := uuid.NewString()
	serverID, err := p.sender.Send(ctx, &gpubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"staging_id": record.ID,
			"event_id":   record.EventID,
			"trigger_id": triggerID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish trigger for staging record %s: %w", record.ID, err)
	}

	p.logger.Debug("Trigger published", "staging_id", record.ID, "trigger_id", triggerID, "server_id", serverID)
	return nil
}

// Stop flushes pending messages.
func (p *TriggerPublisher) Stop() {
	p.sender.Stop()
}
