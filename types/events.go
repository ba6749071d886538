package types

import (
	"time"
)

type EventKind string

const (
	EventCreated      EventKind = "created"
	EventUpdated      EventKind = "updated"
	EventDeleted      EventKind = "deleted"
	EventActivity     EventKind = "activity"
	EventNotification EventKind = "notification"
)

// Event is the tagged union delivered over the bus. Exactly one of the
// payload fields is set depending on Kind: Todo for created/updated/deleted,
// OwnerID alone for activity pings, Message for notifications.
type Event struct {
	EventID   string      `json:"event_id"`
	Channel   string      `json:"channel"`
	Kind      EventKind   `json:"kind"`
	OwnerID   string      `json:"owner_id,omitempty"`
	Todo      *TodoRecord `json:"todo,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type EventHandler func(event *Event) error

// Subscription is the opaque handle returned by Subscribe; passing it back
// to Unsubscribe removes exactly that listener.
type Subscription struct {
	ID      string
	Channel string
	Pattern bool
}

// EventBus distributes domain events to currently subscribed listeners.
// Delivery is at-most-once and never persisted: a listener attaching after
// publish does not see the event.
type EventBus interface {
	LifecycleManager
	Publish(channel string, event *Event) error
	Subscribe(channel string, handler EventHandler) (*Subscription, error)
	SubscribePattern(pattern string, handler EventHandler) (*Subscription, error)
	Unsubscribe(sub *Subscription) error
}

type EventBusCreator func(config interface{}) (EventBus, error)
