// Package events publishes paste lifecycle notifications for downstream
// consumers such as analytics.
package events

import (
	"context"
	"time"
)

// Routing keys on the events exchange
const (
	KeyPasteCreated = "paste.created"
	KeyPasteViewed  = "paste.viewed"
)

// PasteCreated is emitted after a paste is stored
type PasteCreated struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	MaxViews  *int64     `json:"max_views"`
}

// PasteViewed is emitted after a fetch has been committed
type PasteViewed struct {
	ID             string    `json:"id"`
	ViewedAt       time.Time `json:"viewed_at"`
	CurrentViews   int64     `json:"current_views"`
	RemainingViews *int64    `json:"remaining_views"`
}

// Publisher sends paste events
type Publisher interface {
	PublishPasteCreated(ctx context.Context, event PasteCreated) error
	PublishPasteViewed(ctx context.Context, event PasteViewed) error
	Close() error
}

// NoopPublisher drops every event; used when no broker is configured
type NoopPublisher struct{}

// NewNoop returns a publisher that does nothing
func NewNoop() Publisher { return NoopPublisher{} }

func (NoopPublisher) PublishPasteCreated(ctx context.Context, event PasteCreated) error { return nil }
func (NoopPublisher) PublishPasteViewed(ctx context.Context, event PasteViewed) error   { return nil }
func (NoopPublisher) Close() error                                                      { return nil }
