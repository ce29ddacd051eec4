package dispatch

import (
	notification "github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Payload is one push message, attached uniformly to every token of a batch.
type Payload struct {
	// Content is the human-readable part shown by the device.
	Content notification.NotificationContent
	// Data is delivered to the app untouched.
	Data map[string]string

	AndroidChannelID string
	AndroidPriority  string
	Sound            string
	Badge            int
}

// TokenResult is the provider's verdict for a single token.
type TokenResult struct {
	Token     string
	MessageID string
	Err       error
}

// OK reports whether the provider accepted the message for this token.
func (r TokenResult) OK() bool {
	return r.Err == nil
}

// BatchResult holds one TokenResult per token of a multicast call.
type BatchResult struct {
	Results []TokenResult
}

func (b *BatchResult) SuccessCount() int {
	n := 0
	for _, r := range b.Results {
		if r.OK() {
			n++
		}
	}
	return n
}

func (b *BatchResult) FailureCount() int {
	return len(b.Results) - b.SuccessCount()
}

// FailedTokens lists the tokens the provider rejected, in batch order.
func (b *BatchResult) FailedTokens() []string {
	var failed []string
	for _, r := range b.Results {
		if !r.OK() {
			failed = append(failed, r.Token)
		}
	}
	return failed
}
