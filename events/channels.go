package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chronodo/chrono-sync/types"
)

// Channel names are hierarchical: <entity>:<kind>:<ownerId>. A listener
// wanting every todo event for an owner subscribes to todo:*:<ownerId>.
const NotificationsChannel = "notifications:global"

func TodoChannel(kind types.EventKind, ownerID string) string {
	return fmt.Sprintf("todo:%s:%s", kind, ownerID)
}

func TodoPattern(ownerID string) string {
	return fmt.Sprintf("todo:*:%s", ownerID)
}

func ActivityChannel(ownerID string) string {
	return fmt.Sprintf("user:activity:%s", ownerID)
}

func NewTodoEvent(kind types.EventKind, todo *types.TodoRecord) *types.Event {
	return &types.Event{
		EventID:   uuid.NewString(),
		Channel:   TodoChannel(kind, todo.OwnerID),
		Kind:      kind,
		OwnerID:   todo.OwnerID,
		Todo:      todo,
		Timestamp: time.Now(),
	}
}

func NewActivityEvent(ownerID string) *types.Event {
	return &types.Event{
		EventID:   uuid.NewString(),
		Channel:   ActivityChannel(ownerID),
		Kind:      types.EventActivity,
		OwnerID:   ownerID,
		Timestamp: time.Now(),
	}
}

func NewNotificationEvent(message string) *types.Event {
	return &types.Event{
		EventID:   uuid.NewString(),
		Channel:   NotificationsChannel,
		Kind:      types.EventNotification,
		Message:   message,
		Timestamp: time.Now(),
	}
}
