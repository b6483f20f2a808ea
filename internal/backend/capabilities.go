// Package backend holds the client's view of the external platform:
// a query interface over the message store, a realtime channel carrying
// both broadcast events and row-insert notifications, the durable-write
// procedure, and the authenticated identity. Each capability is an
// interface so the reconciler can be constructed against test doubles.
package backend

import (
	"context"

	"github.com/roomline/roomline/internal/model"
)

// Querier reads persisted rows from the platform's message store.
type Querier interface {
	// Rooms lists the available chat rooms.
	Rooms(ctx context.Context) ([]model.Room, error)

	// Messages returns the messages of a topic joined with author
	// profiles, ordered ascending by creation time.
	Messages(ctx context.Context, topicID string) ([]model.Message, error)

	// MessagesWithoutProfiles is the degraded form of Messages used
	// when the profile join is unavailable; entries carry no profile.
	MessagesWithoutProfiles(ctx context.Context, topicID string) ([]model.Message, error)
}

// Subscription is one open realtime subscription for a topic. The two
// streams close when the subscription is closed.
type Subscription interface {
	// Broadcasts delivers raw payloads of application broadcast events.
	Broadcasts() <-chan []byte

	// Rows delivers raw rows committed to the topic.
	Rows() <-chan []byte

	Close() error
}

// Channel is the bidirectional realtime capability.
type Channel interface {
	// Subscribe opens one subscription for the topic, multiplexing
	// broadcast events and row-insert notifications.
	Subscribe(ctx context.Context, topicID string) (Subscription, error)

	// Publish sends an application broadcast event to the topic.
	Publish(ctx context.Context, topicID, event string, payload any) error
}

// DurableWriter is the remote insert procedure. The platform is
// expected to follow a successful write with a row-insert notification
// on the topic's channel.
type DurableWriter interface {
	Write(ctx context.Context, topicID, userID, body string, meta map[string]any) error
}

// UserInfo is the authenticated user as the platform reports it.
type UserInfo struct {
	ID          string
	DisplayName string
}

// Identity exposes the current authenticated user, read once per topic
// session.
type Identity interface {
	Current(ctx context.Context) (UserInfo, error)
}
