package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	logger "github.com/roomline/roomline/middleware/log"
)

// CommitWriter is the DurableWriter for self-hosted deployments: the
// insert runs in-process through the Committer, which also emits the
// row-insert notification.
type CommitWriter struct {
	committer *Committer
	log       *logger.Logger
}

func NewCommitWriter(committer *Committer, log *logger.Logger) *CommitWriter {
	return &CommitWriter{committer: committer, log: log}
}

func (w *CommitWriter) Write(ctx context.Context, topicID, userID, body string, meta map[string]any) error {
	msg, err := w.committer.Commit(ctx, topicID, userID, body, meta)
	if err != nil && msg != nil {
		// Insert succeeded but the notification did not go out.
		w.log.WarnContext(ctx, "row committed but notification failed",
			zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	return err
}

// IngestRecord is the wire form of a durable-write request on the
// platform's ingest topic.
type IngestRecord struct {
	TopicID string         `json:"topic_id"`
	UserID  string         `json:"user_id"`
	Body    string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// IngestWriter is the DurableWriter for hosted deployments: it produces
// the write onto the platform's Kafka ingest topic and the platform
// commits it. Keying by topic id keeps per-room order.
type IngestWriter struct {
	producer sarama.SyncProducer
	topic    string
}

func NewIngestWriter(brokers []string, topic string) (*IngestWriter, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start sarama producer: %w", err)
	}

	return &IngestWriter{
		producer: producer,
		topic:    topic,
	}, nil
}

func (w *IngestWriter) Write(ctx context.Context, topicID, userID, body string, meta map[string]any) error {
	record := IngestRecord{
		TopicID: topicID,
		UserID:  userID,
		Body:    body,
		Meta:    meta,
	}
	bytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode ingest record: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: w.topic,
		Key:   sarama.StringEncoder(topicID),
		Value: sarama.ByteEncoder(bytes),
	}

	if _, _, err := w.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to produce ingest record: %w", err)
	}
	return nil
}

func (w *IngestWriter) Close() error {
	return w.producer.Close()
}
