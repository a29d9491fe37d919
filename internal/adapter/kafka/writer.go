package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
)

// messageWriter is the subset of kafkago.Writer used by SnapshotWriter.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// SnapshotWriter publishes risk snapshots to a Kafka topic, one message per
// department. It implements pipeline.SnapshotPublisher.
type SnapshotWriter struct {
	writer messageWriter
	logger *slog.Logger
}

// NewSnapshotWriter creates a Kafka producer for the snapshot topic.
func NewSnapshotWriter(brokers []string, topic string, logger *slog.Logger) *SnapshotWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &SnapshotWriter{writer: w, logger: logger}
}

// departmentMessage is the value of a snapshot message.
type departmentMessage struct {
	SnapshotID string `json:"snapshotId"`
	domain.Department
	GeneratedAt time.Time `json:"generatedAt"`
	Source      string    `json:"source"`
	Degraded    bool      `json:"degraded"`
}

// Publish writes every department of the snapshot in a single
// WriteMessages call.
func (w *SnapshotWriter) Publish(ctx context.Context, snap domain.RiskSnapshot) error {
	if len(snap.Departments) == 0 {
		return nil
	}
	msgs, err := snapshotMessages(snap)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish snapshot %s: %w", snap.ID, err)
	}
	w.logger.Debug("snapshot published", "snapshot_id", snap.ID, "messages", len(msgs))
	return nil
}

func (w *SnapshotWriter) Close() error {
	return w.writer.Close()
}

func snapshotMessages(snap domain.RiskSnapshot) ([]kafkago.Message, error) {
	generatedAt := snap.LastUpdated.UTC().Format(time.RFC3339)
	msgs := make([]kafkago.Message, len(snap.Departments))
	for i, d := range snap.Departments {
		data, err := json.Marshal(departmentMessage{
			SnapshotID:  snap.ID,
			Department:  d,
			GeneratedAt: snap.LastUpdated.UTC(),
			Source:      snap.Source,
			Degraded:    snap.Degraded,
		})
		if err != nil {
			return nil, fmt.Errorf("serialize department %s: %w", d.Code, err)
		}
		msgs[i] = kafkago.Message{
			Key:   []byte(d.Code),
			Value: data,
			Headers: []kafkago.Header{
				{Key: "snapshot_id", Value: []byte(snap.ID)},
				{Key: "risk_level", Value: []byte(d.RiskLevel)},
				{Key: "generated_at", Value: []byte(generatedAt)},
			},
		}
	}
	return msgs, nil
}
