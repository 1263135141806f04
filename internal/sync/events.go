package sync

import (
	"errors"
	"sync"
)

// EventType identifies a cross-component notification.
type EventType string

// Bus event types.
const (
	// EventDirectoryUpdated fires after the directory list changes.
	EventDirectoryUpdated EventType = "directory.updated"

	// EventUnreadChanged fires after the unread summary is replaced or
	// optimistically decremented.
	EventUnreadChanged EventType = "unread.changed"

	// EventSessionUpdated fires when the open conversation's state changes.
	EventSessionUpdated EventType = "session.updated"

	// EventMessageReceived fires for each pushed message on the open
	// conversation.
	EventMessageReceived EventType = "message.received"

	// EventForcedLogout propagates the server's session-revoked or
	// account-deleted signal to the embedding application.
	EventForcedLogout EventType = "auth.forced_logout"
)

// Event is a bus notification.
type Event struct {
	Type EventType

	// ConversationKey scopes conversation-specific events.
	ConversationKey string

	// Reason is set on forced-logout events.
	Reason string
}

// Handler is a callback invoked for each matching event.
type Handler func(Event)

// Filter defines match criteria for a subscription.
type Filter struct {
	// Types filters by event type (nil = all types).
	Types []EventType

	// ConversationKey filters to one conversation (empty = all).
	ConversationKey string
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(evt Event) bool {
	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if evt.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.ConversationKey != "" && evt.ConversationKey != f.ConversationKey {
		return false
	}
	return true
}

type subscription struct {
	filter  Filter
	handler Handler
}

// Bus errors.
var (
	ErrInvalidSubscriptionID = errors.New("subscription ID is required")
	ErrNilHandler            = errors.New("handler cannot be nil")
	ErrSubscriptionExists    = errors.New("subscription with this ID already exists")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
)

// Bus is an in-process typed event bus. Components receive references to it
// explicitly; there is no ambient global dispatch.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscription)}
}

// Publish delivers the event to all matching subscribers. Handlers run
// outside the lock, on the publisher's goroutine.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	var handlers []Handler
	for _, sub := range b.subs {
		if sub.filter.Matches(evt) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(evt)
	}
}

// Subscribe registers a handler for events matching the filter.
func (b *Bus) Subscribe(id string, filter Filter, handler Handler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[id]; exists {
		return ErrSubscriptionExists
	}
	b.subs[id] = &subscription{filter: filter, handler: handler}
	return nil
}

// Unsubscribe removes a subscription by ID.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[id]; !exists {
		return ErrSubscriptionNotFound
	}
	delete(b.subs, id)
	return nil
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]*subscription)
}
