package pubsub

import (
	"context"
	"encoding/json"
)

// Topics published by a graph view
const (
	TopicFrame       = "frame"       // Render frames, latest only
	TopicViewStatus  = "view_status" // State machine transitions
	TopicInteraction = "interaction" // Hover, click, selection and drag events
)

// Topics lists every topic a client may subscribe to
var Topics = []string{TopicFrame, TopicViewStatus, TopicInteraction}

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "frame", "view_status")
	Type    string          `json:"type"`    // Event type (e.g., "frame", "loading", "hover")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// ViewStatus represents the state of a graph view
type ViewStatus struct {
	State         string `json:"state"`             // idle, loading, rendered, enriching, failed
	Message       string `json:"message,omitempty"` // Human-readable status message
	Kind          string `json:"kind,omitempty"`    // Request kind of the current snapshot
	Generation    uint64 `json:"generation"`
	Nodes         int    `json:"nodes"`
	Edges         int    `json:"edges"`
	DroppedEdges  int    `json:"dropped_edges"`
	PendingTitles int    `json:"pending_titles"`
	Resolved      int    `json:"resolved"`
	Failed        int    `json:"failed"`
}
