// Package pipeline contains the message processing components that connect
// the trigger subscription to the fan-out dispatcher.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// StagingTriggerTransformer is a dataflow Transformer that unmarshals a
// trigger message into the staging record it announces.
//
// Malformed payloads and records without an id are returned with skip=true
// so the StreamingService can hand them to the dead-letter policy.
func StagingTriggerTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*domain.StagingRecord, bool, error) {
	var record domain.StagingRecord
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal staging trigger from message %s: %w", msg.ID, err)
	}
	if record.ID == "" {
		return nil, true, fmt.Errorf("staging trigger in message %s has no record id", msg.ID)
	}
	return &record, false, nil
}
