// Package bridge drains the ingest queue into durable storage. When
// sends are routed through Kafka, this consumer is what turns a queued
// record into a committed row plus its row notification.
package bridge

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/roomline/roomline/internal/backend"
	logger "github.com/roomline/roomline/middleware/log"
)

// IngestConsumer commits queued ingest records.
type IngestConsumer struct {
	committer *backend.Committer
	log       *logger.Logger
}

func NewIngestConsumer(committer *backend.Committer, log *logger.Logger) *IngestConsumer {
	return &IngestConsumer{
		committer: committer,
		log:       log,
	}
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (c *IngestConsumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim
// goroutines have exited.
func (c *IngestConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim commits each record in the claim. Undecodable records
// are logged and skipped; commit failures are also marked to avoid a
// poison-message loop.
func (c *IngestConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var rec backend.IngestRecord
		if err := json.Unmarshal(message.Value, &rec); err != nil {
			c.log.Error("dropping undecodable ingest record",
				zap.Int64("offset", message.Offset),
				zap.Error(err),
			)
			session.MarkMessage(message, "")
			continue
		}

		msg, err := c.committer.Commit(session.Context(), rec.TopicID, rec.UserID, rec.Body, rec.Meta)
		if err != nil {
			if msg != nil {
				// Row is durable, only the notification was lost. The
				// reconciler's gap sweep picks it up.
				c.log.Warn("ingest record committed but notification failed",
					zap.String("topic_id", rec.TopicID),
					zap.Error(err),
				)
			} else {
				c.log.Error("commit of ingest record failed",
					zap.String("topic_id", rec.TopicID),
					zap.Int64("offset", message.Offset),
					zap.Error(err),
				)
				// TODO: route repeated failures to a dead-letter topic.
			}
			session.MarkMessage(message, "")
			continue
		}

		session.MarkMessage(message, "")
	}
	return nil
}

// StartConsumer joins the consumer group and keeps consuming until ctx
// is cancelled.
func StartConsumer(ctx context.Context, brokers []string, groupID, topic string, consumer *IngestConsumer, log *logger.Logger) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	client, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			if err := client.Consume(ctx, []string{topic}, consumer); err != nil {
				log.Error("ingest consume error", zap.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	return client, nil
}
