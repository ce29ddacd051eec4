package fanout

import "github.com/tinywideclouds/go-event-service/pkg/dispatch"

// Tally is the running aggregate of a fan-out job. Each batch outcome is
// folded into a new Tally; nothing is mutated in place.
type Tally struct {
	Success int
	Failure int
	// Invalid holds the tokens the provider rejected, in delivery order.
	Invalid []string
}

// Accounted is the number of tokens with a recorded outcome.
func (t Tally) Accounted() int {
	return t.Success + t.Failure
}

// WithBatch folds a provider response into the tally.
func (t Tally) WithBatch(result *dispatch.BatchResult) Tally {
	failed := result.FailedTokens()
	invalid := make([]string, 0, len(t.Invalid)+len(failed))
	invalid = append(invalid, t.Invalid...)
	invalid = append(invalid, failed...)
	return Tally{
		Success: t.Success + result.SuccessCount(),
		Failure: t.Failure + result.FailureCount(),
		Invalid: invalid,
	}
}

// WithFailedBatch counts every token of a batch the provider could not
// accept at all. Those tokens are not pruned.
func (t Tally) WithFailedBatch(size int) Tally {
	return Tally{
		Success: t.Success,
		Failure: t.Failure + size,
		Invalid: t.Invalid,
	}
}

// Batches splits tokens into consecutive slices of at most size tokens.
func Batches(tokens []string, size int) [][]string {
	if size <= 0 {
		size = len(tokens)
	}
	var batches [][]string
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		batches = append(batches, tokens[start:end])
	}
	return batches
}
