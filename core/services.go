package core

import (
	"context"
	"time"
)

type (
	// Notice is a request to notify one user.
	// A non-empty DedupeKey makes the request idempotent per user.
	Notice struct {
		UserID    string
		Kind      string
		Title     string
		Body      string
		Data      map[string]interface{}
		DedupeKey string
		SendEmail bool
	}

	// Notifier delivers notices. created is false when the notice was already delivered.
	Notifier interface {
		Notify(ctx context.Context, notice Notice) (created bool, err error)
	}

	// Event is a domain event published to the message bus.
	Event struct {
		Name       string                 `json:"name"`
		Key        string                 `json:"key"`
		OccurredAt time.Time              `json:"occurred_at"`
		Payload    map[string]interface{} `json:"payload"`
	}

	EventPublisher interface {
		Publish(ctx context.Context, events ...Event) error
	}

	// Cache is a JSON value cache.
	Cache interface {
		// Get decodes the cached value into dst and reports whether it was found.
		Get(ctx context.Context, key string, dst interface{}) (bool, error)
		Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error
		Delete(ctx context.Context, keys ...string) error
	}

	// Locker hands out expiring named locks.
	Locker interface {
		// Acquire returns a release func, or ok=false when the lock is held elsewhere.
		Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
	}
)

func NewEvent(name, key string, payload map[string]interface{}) Event {
	return Event{Name: name, Key: key, OccurredAt: time.Now().UTC(), Payload: payload}
}
