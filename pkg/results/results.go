// Package results consumes worker outcome records from Kafka.
//
// Workers publish one JSON record per job status to the results
// topic. The consumer-group worker folds them, in batches, into the
// durable job report ledger, the entity inventory (newly discovered
// children), and the per-sweep pulse. Offsets are committed only
// after a batch is fully folded, so a crash replays the batch; every
// downstream write is idempotent or commutative enough to tolerate
// that.
package results

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/entities"
	"go.yarde.network/sweeper/pkg/outcome"
	"go.yarde.network/sweeper/pkg/report"
)

// Record is one worker outcome report on the results topic.
type Record struct {
	Sweep      string       `json:"sweep"`
	JobID      string       `json:"job_id"`
	Status     string       `json:"status"`
	Message    string       `json:"message,omitempty"`
	ReportedT  time.Time    `json:"reported_t"`
	Discovered []Discovered `json:"discovered,omitempty"`
}

// Discovered is a child entity a worker found while running a job.
type Discovered struct {
	Parent string `json:"parent"`
	Kind   string `json:"kind"`
	ID     string `json:"id"`
}

// StatusSink routes outcome telemetry to the right sweep's pulse.
// Satisfied by pulse.TrackerSet.
type StatusSink interface {
	ReportStatus(ctx context.Context, sweep string, code outcome.Code, at time.Time) error
}

// Worker is the results consumer-group handler.
type Worker struct {
	MaxDelay  time.Duration
	BatchSize uint

	Reports  report.Store
	Entities *entities.Store // optional
	Pulses   StatusSink
	Log      *zap.Logger
}

// Setup is called by sarama when the consumer group member starts.
func (w *Worker) Setup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is called by sarama after the consumer group member stops.
func (w *Worker) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim runs the consumer loop. It reads batches of records
// from Kafka and folds each batch before committing.
func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		ok, err := w.nextBatch(session, claim)
		if err != nil {
			return err
		}
		if !ok {
			return nil // session closed
		}
	}
}

func (w *Worker) nextBatch(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) (bool, error) {
	ctx := session.Context()
	timer := time.NewTimer(w.MaxDelay)
	defer timer.Stop()
	// Read record batch from Kafka.
	var records []Record
	var offset int64
readLoop:
	for i := uint(0); i < w.BatchSize; i++ {
		select {
		case <-timer.C:
			break readLoop
		case msg, ok := <-claim.Messages():
			if !ok {
				w.Log.Info("Incoming messages channel closed")
				return false, nil
			}
			offset = msg.Offset
			var record Record
			if err := json.Unmarshal(msg.Value, &record); err != nil {
				// Skip poison records instead of wedging the group.
				w.Log.Error("Invalid JSON from Kafka, skipping record",
					zap.Int64("kafka.offset", msg.Offset), zap.Error(err))
				continue
			}
			records = append(records, record)
		}
	}
	if len(records) <= 0 {
		return true, nil
	}
	w.Log.Debug("Read batch", zap.Int("record_count", len(records)))
	if err := w.fold(ctx, records); err != nil {
		return false, err
	}
	// Tell Kafka about consumer progress.
	session.MarkOffset(claim.Topic(), claim.Partition(), offset+1, "")
	session.Commit()
	w.Log.Debug("Flushed batch")
	return true, nil
}

// fold writes one batch into the ledger, the inventory, and the pulse.
func (w *Worker) fold(ctx context.Context, records []Record) error {
	outcomes := make([]report.Outcome, 0, len(records))
	var found []entities.Entity
	for _, record := range records {
		at := record.ReportedT
		if at.IsZero() {
			at = time.Now()
		}
		code, err := outcome.ParseCode(record.Status)
		if err != nil {
			// Unknown worker status counts as a generic failure.
			w.Log.Warn("Unknown outcome status",
				zap.String("record.status", record.Status),
				zap.String("job.id", record.JobID))
			code = outcome.Other
		}
		outcomes = append(outcomes, report.Outcome{
			JobID:   record.JobID,
			Code:    code,
			Message: record.Message,
			Time:    at,
		})
		for _, disc := range record.Discovered {
			found = append(found, entities.Entity{
				Parent: disc.Parent,
				Kind:   disc.Kind,
				ID:     disc.ID,
				FoundT: at,
			})
		}
		if w.Pulses != nil {
			if err := w.Pulses.ReportStatus(ctx, record.Sweep, code, at); err != nil {
				return err
			}
		}
	}
	if err := w.Reports.RecordOutcomes(ctx, outcomes); err != nil {
		return err
	}
	if w.Entities != nil && len(found) > 0 {
		if err := w.Entities.InsertDiscovered(ctx, found); err != nil {
			return err
		}
	}
	return nil
}
