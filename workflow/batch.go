package workflow

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// BATCH COMBINATOR - N independent operations, one Result per item
// =============================================================================
//
// Used by every bulk operation (release, approve-all, reject, swap, print) so
// the partial-failure contract lives in one place:
//   - every item is attempted; nothing short-circuits on the first failure
//   - successes are never rolled back
//   - a cancelled context stops issuing new items, committed ones stay

// errNoop marks an item that was skipped because there was nothing to do.
var errNoop = errors.New("no-op")

type ItemResult[K comparable] struct {
	ID      K
	Skipped bool
	Err     error
}

func (r ItemResult[K]) OK() bool { return r.Err == nil }

type BatchOutcome string

const (
	OutcomeEmpty     BatchOutcome = "empty"
	OutcomeSucceeded BatchOutcome = "succeeded"
	OutcomePartial   BatchOutcome = "partial"
	OutcomeFailed    BatchOutcome = "failed"
)

type BatchResult[K comparable] struct {
	Operation    string
	Items        []ItemResult[K]
	SuccessCount int
	FailureCount int
	// Skipped items are counted as successes as well.
	SkippedCount int
}

// Outcome separates "nothing happened" from "some items did not".
func (b BatchResult[K]) Outcome() BatchOutcome {
	switch {
	case len(b.Items) == 0:
		return OutcomeEmpty
	case b.FailureCount == 0:
		return OutcomeSucceeded
	case b.SuccessCount == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// Err summarizes the batch: nil, *PartialBatchFailure or *BatchFailedError.
func (b BatchResult[K]) Err() error {
	switch b.Outcome() {
	case OutcomePartial:
		return &PartialBatchFailure{Operation: b.Operation, SuccessCount: b.SuccessCount, FailureCount: b.FailureCount}
	case OutcomeFailed:
		var first error
		for _, it := range b.Items {
			if it.Err != nil {
				first = it.Err
				break
			}
		}
		return &BatchFailedError{Operation: b.Operation, FailureCount: b.FailureCount, First: first}
	}
	return nil
}

// Applied counts the items that changed something.
func (b BatchResult[K]) Applied() int { return b.SuccessCount - b.SkippedCount }

// Failures returns the failed items.
func (b BatchResult[K]) Failures() []ItemResult[K] {
	var out []ItemResult[K]
	for _, it := range b.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// RunBatch applies op to every id, at most concurrency at a time (<= 0 means
// unbounded). Duplicate ids are attempted once. Results keep input order.
func RunBatch[K comparable](ctx context.Context, operation string, ids []K, concurrency int, op func(context.Context, K) error) BatchResult[K] {
	ids = dedupe(ids)
	results := make([]ItemResult[K], len(ids))

	// Plain Group, not WithContext: one item failing must not cancel the rest.
	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			results[i] = ItemResult[K]{ID: id, Err: err}
			continue
		}
		g.Go(func() error {
			err := op(ctx, id)
			switch {
			case errors.Is(err, errNoop):
				results[i] = ItemResult[K]{ID: id, Skipped: true}
			default:
				results[i] = ItemResult[K]{ID: id, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult[K]{Operation: operation, Items: results}
	for _, r := range results {
		switch {
		case r.Err != nil:
			res.FailureCount++
		case r.Skipped:
			res.SkippedCount++
			res.SuccessCount++
		default:
			res.SuccessCount++
		}
	}
	return res
}

func dedupe[K comparable](ids []K) []K {
	seen := make(map[K]struct{}, len(ids))
	out := make([]K, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
