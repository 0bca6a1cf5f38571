package workflow_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merenda/necessity-workflow/workflow"
)

func TestRunBatch_AllSucceed(t *testing.T) {
	res := workflow.RunBatch(context.Background(), "op", []string{"a", "b", "c"}, 2,
		func(context.Context, string) error { return nil })

	assert.Equal(t, workflow.OutcomeSucceeded, res.Outcome())
	assert.Equal(t, 3, res.SuccessCount)
	assert.Zero(t, res.FailureCount)
	assert.NoError(t, res.Err())
	assert.Equal(t, "a", res.Items[0].ID, "results keep input order")
	assert.Equal(t, "c", res.Items[2].ID)
}

func TestRunBatch_PartialFailure(t *testing.T) {
	// GIVEN: one of four items fails
	boom := errors.New("boom")

	// WHEN
	res := workflow.RunBatch(context.Background(), "op", []string{"a", "b", "c", "d"}, 0,
		func(_ context.Context, id string) error {
			if id == "c" {
				return boom
			}
			return nil
		})

	// THEN: the other three are not affected by the failure
	assert.Equal(t, workflow.OutcomePartial, res.Outcome())
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)

	err := res.Err()
	assert.ErrorIs(t, err, workflow.ErrPartialBatchFailure)
	var partial *workflow.PartialBatchFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 3, partial.SuccessCount)
	assert.Equal(t, 1, partial.FailureCount)

	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "c", failures[0].ID)
	assert.ErrorIs(t, failures[0].Err, boom)
}

func TestRunBatch_AllFail(t *testing.T) {
	res := workflow.RunBatch(context.Background(), "op", []string{"a", "b"}, 0,
		func(_ context.Context, id string) error {
			return &workflow.NotFoundError{Kind: "thing", ID: id}
		})

	err := res.Err()
	assert.Equal(t, workflow.OutcomeFailed, res.Outcome())
	assert.ErrorIs(t, err, workflow.ErrBatchFailed)
	assert.ErrorIs(t, err, workflow.ErrNotFound, "first item error is reachable")
}

func TestRunBatch_Empty(t *testing.T) {
	res := workflow.RunBatch(context.Background(), "op", nil, 0,
		func(context.Context, string) error { t.Fatal("must not run"); return nil })

	assert.Equal(t, workflow.OutcomeEmpty, res.Outcome())
	assert.NoError(t, res.Err())
}

func TestRunBatch_DedupesIDs(t *testing.T) {
	var calls atomic.Int32
	res := workflow.RunBatch(context.Background(), "op", []string{"a", "a", "b"}, 0,
		func(context.Context, string) error { calls.Add(1); return nil })

	assert.Len(t, res.Items, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRunBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := workflow.RunBatch(ctx, "op", []string{"a", "b"}, 0,
		func(context.Context, string) error { t.Fatal("must not run"); return nil })

	assert.Equal(t, 2, res.FailureCount)
	for _, it := range res.Items {
		assert.ErrorIs(t, it.Err, context.Canceled)
	}
}

func TestRunBatch_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	ids := []string{"a", "b", "c", "d", "e", "f"}

	workflow.RunBatch(context.Background(), "op", ids, 2, func(context.Context, string) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBatchResult_Applied(t *testing.T) {
	res := workflow.BatchResult[string]{SuccessCount: 5, SkippedCount: 2}
	assert.Equal(t, 3, res.Applied())
}
