package backend

import (
	"context"

	"gorm.io/gorm"

	"github.com/roomline/roomline/internal/model"
)

// GormQuerier implements Querier over the platform's Postgres store.
type GormQuerier struct {
	db *gorm.DB
}

func NewGormQuerier(db *gorm.DB) *GormQuerier {
	return &GormQuerier{db: db}
}

func (q *GormQuerier) Rooms(ctx context.Context) ([]model.Room, error) {
	var rooms []model.Room
	err := q.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (q *GormQuerier) Messages(ctx context.Context, topicID string) ([]model.Message, error) {
	var messages []model.Message
	err := q.db.WithContext(ctx).
		Joins("Profile").
		Where("messages.topic_id = ?", topicID).
		Order("messages.created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (q *GormQuerier) MessagesWithoutProfiles(ctx context.Context, topicID string) ([]model.Message, error) {
	var messages []model.Message
	err := q.db.WithContext(ctx).
		Where("topic_id = ?", topicID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
