package backend

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/roomline/roomline/internal/model"
	"github.com/roomline/roomline/utils/snowflake"
)

// Committer performs the platform's side of a durable write: assign the
// server message id and the per-topic sequence number, insert the row,
// and publish the row-insert notification on the topic's channel.
type Committer struct {
	db      *gorm.DB
	redis   *redis.Client
	channel *RedisChannel
	idGen   *snowflake.Generator
}

func NewCommitter(db *gorm.DB, redisClient *redis.Client, channel *RedisChannel, idGen *snowflake.Generator) *Committer {
	return &Committer{
		db:      db,
		redis:   redisClient,
		channel: channel,
		idGen:   idGen,
	}
}

// Commit inserts the message row and notifies the topic's channel. The
// returned message carries the assigned id and sequence number.
func (c *Committer) Commit(ctx context.Context, topicID, userID, body string, meta map[string]any) (*model.Message, error) {
	id, err := c.idGen.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	seqKey := fmt.Sprintf("room:%s:seq", topicID)
	seq, err := c.redis.Incr(ctx, seqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to generate seq for topic %s: %w", topicID, err)
	}

	message := &model.Message{
		ID:        strconv.FormatInt(id, 10),
		TopicID:   topicID,
		Body:      body,
		UserID:    userID,
		SeqID:     seq,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}

	if err := c.db.WithContext(ctx).Create(message).Error; err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := c.channel.PublishRow(ctx, topicID, message); err != nil {
		// The row is durable; a lost notification is the reconciler's
		// sweep to recover from.
		return message, err
	}
	return message, nil
}
