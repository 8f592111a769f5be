package results

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"go.yarde.network/sweeper/pkg/outcome"
	"go.yarde.network/sweeper/pkg/report"
	"go.yarde.network/sweeper/pkg/saramamock"
)

// recordSink captures pulse reports.
type recordSink struct {
	mu    sync.Mutex
	codes map[outcome.Code]int
}

func (r *recordSink) ReportStatus(_ context.Context, sweep string, code outcome.Code, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sweep == "" {
		return fmt.Errorf("empty sweep id")
	}
	if r.codes == nil {
		r.codes = make(map[outcome.Code]int)
	}
	r.codes[code]++
	return nil
}

func TestWorkerFold(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const numRecords = 10
	session := &saramamock.ConsumerGroupSession{MContext: ctx}
	claim := &saramamock.ConsumerGroupClaim{
		MTopic:     "sweeper.results",
		MPartition: 0,
	}
	claim.Init()
	msgCount := int64(0)
	claim.NextMessage = func() *sarama.ConsumerMessage {
		offset := msgCount
		msgCount++
		var value []byte
		if offset < numRecords {
			status := outcome.Success.String()
			message := ""
			if offset%2 == 1 {
				status = outcome.UserThrottle.String()
				message = "slow down"
			}
			var err error
			value, err = json.Marshal(Record{
				Sweep:     "sweep-1",
				JobID:     fmt.Sprintf("shop:p1:listing:e%d:profile", offset),
				Status:    status,
				Message:   message,
				ReportedT: time.Now(),
			})
			require.NoError(t, err)
		} else {
			// Poison pill, must be skipped.
			value = []byte("{garbage")
		}
		return &sarama.ConsumerMessage{
			Timestamp: time.Now(),
			Value:     value,
			Topic:     claim.MTopic,
			Partition: claim.MPartition,
			Offset:    offset,
		}
	}
	go func() {
		_ = claim.Run(ctx)
	}()

	store := report.NewMemStore()
	sink := new(recordSink)
	worker := &Worker{
		MaxDelay:  10 * time.Millisecond,
		BatchSize: 4,
		Reports:   store,
		Pulses:    sink,
		Log:       zaptest.NewLogger(t),
	}
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.ConsumeClaim(session, claim)
	}()

	// Wait for the whole batch to fold.
	require.Eventually(t, func() bool {
		rep, err := store.GetReport(ctx, fmt.Sprintf("shop:p1:listing:e%d:profile", numRecords-1))
		return err == nil && rep != nil
	}, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-workerDone)

	// Batches are marked past the last record and committed.
	assert.GreaterOrEqual(t, session.MarkedOffset("sweeper.results"), int64(numRecords))
	assert.GreaterOrEqual(t, session.Commits(), 1)

	// Success records set the success side of the ledger.
	rep, err := store.GetReport(context.Background(), "shop:p1:listing:e0:profile")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.False(t, rep.LastSuccess.IsZero())
	assert.Zero(t, rep.ConsecFailures)
	// Throttle records set the failure side.
	rep, err = store.GetReport(context.Background(), "shop:p1:listing:e1:profile")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, outcome.UserThrottle, rep.FailureBucket)
	assert.Equal(t, "slow down", rep.FailureMessage)
	assert.EqualValues(t, 1, rep.ConsecFailures)

	// Every valid record reached the pulse, poison records did not.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, numRecords/2, sink.codes[outcome.Success])
	assert.Equal(t, numRecords/2, sink.codes[outcome.UserThrottle])
	assert.Len(t, sink.codes, 2)
}
