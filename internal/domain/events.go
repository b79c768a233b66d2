package domain

import "time"

// ReplyEventType names a lifecycle transition of a discussion reply.
type ReplyEventType string

const (
	ReplyCreated ReplyEventType = "reply.created"
	ReplyUpdated ReplyEventType = "reply.updated"
	ReplyDeleted ReplyEventType = "reply.deleted"
)

// ReplyEvent is emitted after a reply mutation has been committed.
type ReplyEvent struct {
	Type         ReplyEventType `json:"type"`
	ReplyID      string         `json:"reply_id"`
	ProfileID    string         `json:"profile_id"`
	UserID       string         `json:"user_id"`
	ActorID      string         `json:"actor_id"`
	ReplyingToID *string        `json:"replying_to_id,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Key partitions events by profile so a profile's discussion stays ordered.
func (e ReplyEvent) Key() string { return e.ProfileID }
