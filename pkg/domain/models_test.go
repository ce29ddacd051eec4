package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

func TestStagingRecord_ClaimableBy(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	live := now.Add(time.Minute)
	expired := now.Add(-time.Second)

	testCases := []struct {
		name   string
		record domain.StagingRecord
		want   error
	}{
		{"unclaimed pending", domain.StagingRecord{Status: domain.StagingPending}, nil},
		{"own live claim", domain.StagingRecord{Status: domain.StagingPending, ClaimedBy: "me", ClaimExpiresAt: &live}, nil},
		{"other live claim", domain.StagingRecord{Status: domain.StagingPending, ClaimedBy: "other", ClaimExpiresAt: &live}, domain.ErrClaimed},
		{"other expired claim", domain.StagingRecord{Status: domain.StagingPending, ClaimedBy: "other", ClaimExpiresAt: &expired}, nil},
		{"sent", domain.StagingRecord{Status: domain.StagingSent}, domain.ErrAlreadyTerminal},
		{"failed with stale claim", domain.StagingRecord{Status: domain.StagingFailed, ClaimedBy: "other", ClaimExpiresAt: &live}, domain.ErrAlreadyTerminal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.record.ClaimableBy("me", now)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
