package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roomline/roomline/internal/backend"
	"github.com/roomline/roomline/internal/model"
	"github.com/roomline/roomline/internal/reconcile"
	logger "github.com/roomline/roomline/middleware/log"
)

type stubQuerier struct {
	mu      sync.Mutex
	rows    map[string][]model.Message
	loadErr error
	queries int
}

func (q *stubQuerier) Rooms(ctx context.Context) ([]model.Room, error) {
	return []model.Room{{ID: "topic-A", Name: "general"}}, nil
}

func (q *stubQuerier) Messages(ctx context.Context, topicID string) ([]model.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries++
	if q.loadErr != nil {
		return nil, q.loadErr
	}
	return append([]model.Message(nil), q.rows[topicID]...), nil
}

func (q *stubQuerier) MessagesWithoutProfiles(ctx context.Context, topicID string) ([]model.Message, error) {
	return q.Messages(ctx, topicID)
}

type stubSubscription struct {
	broadcasts chan []byte
	rows       chan []byte
	closeOnce  sync.Once
}

func (s *stubSubscription) Broadcasts() <-chan []byte { return s.broadcasts }
func (s *stubSubscription) Rows() <-chan []byte       { return s.rows }

func (s *stubSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.broadcasts)
		close(s.rows)
	})
	return nil
}

type stubChannel struct {
	mu   sync.Mutex
	subs int
}

func (c *stubChannel) Subscribe(ctx context.Context, topicID string) (backend.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs++
	return &stubSubscription{
		broadcasts: make(chan []byte, 16),
		rows:       make(chan []byte, 16),
	}, nil
}

func (c *stubChannel) Publish(ctx context.Context, topicID, event string, payload any) error {
	return nil
}

func (c *stubChannel) subCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs
}

type stubWriter struct{}

func (stubWriter) Write(ctx context.Context, topicID, userID, body string, meta map[string]any) error {
	return nil
}

type stubIdentity struct{}

func (stubIdentity) Current(ctx context.Context) (backend.UserInfo, error) {
	return backend.UserInfo{ID: "u1", DisplayName: "Ada"}, nil
}

func newTestManager(q *stubQuerier, c *stubChannel) *Manager {
	log := &logger.Logger{Logger: zap.NewNop()}
	return NewManager(q, c, stubWriter{}, stubIdentity{}, nil, log, reconcile.Options{
		MergeWindow: 2 * time.Second,
	})
}

func TestManagerOpenIsIdempotent(t *testing.T) {
	querier := &stubQuerier{rows: map[string][]model.Message{
		"topic-A": {{ID: "1", TopicID: "topic-A", Body: "hi", UserID: "u1"}},
	}}
	channel := &stubChannel{}
	m := newTestManager(querier, channel)
	defer m.CloseAll()

	first, err := m.Open(context.Background(), "topic-A")
	require.NoError(t, err)
	second, err := m.Open(context.Background(), "topic-A")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, channel.subCount(), "reopening must not create a second subscription")

	messages := first.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "1", messages[0].ID)
}

func TestManagerOpenFailureLeavesNoSession(t *testing.T) {
	querier := &stubQuerier{loadErr: errors.New("store down")}
	channel := &stubChannel{}
	m := newTestManager(querier, channel)
	defer m.CloseAll()

	_, err := m.Open(context.Background(), "topic-A")
	require.Error(t, err)

	_, ok := m.Get("topic-A")
	assert.False(t, ok)
}

func TestManagerCloseRoom(t *testing.T) {
	querier := &stubQuerier{rows: map[string][]model.Message{}}
	channel := &stubChannel{}
	m := newTestManager(querier, channel)

	_, err := m.Open(context.Background(), "topic-A")
	require.NoError(t, err)

	m.CloseRoom("topic-A")
	_, ok := m.Get("topic-A")
	assert.False(t, ok)

	// Closing again is a no-op.
	m.CloseRoom("topic-A")

	// Reopening builds a fresh session.
	_, err = m.Open(context.Background(), "topic-A")
	require.NoError(t, err)
	assert.Equal(t, 2, channel.subCount())
	m.CloseAll()
}
