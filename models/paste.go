package models

import (
	"time"
)

// Paste represents a stored text snippet and its expiry state
type Paste struct {
	ID           string     `json:"id" bson:"_id" gorm:"primaryKey;size:36"`
	Content      string     `json:"-" bson:"content" gorm:"not null"`
	MaxViews     *int64     `json:"max_views" bson:"max_views,omitempty"`
	CurrentViews int64      `json:"current_views" bson:"current_views" gorm:"not null;default:0"`
	ExpiresAt    *time.Time `json:"expires_at" bson:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at" gorm:"not null"`
}

// TableName pins the SQL table name regardless of gorm naming strategy
func (Paste) TableName() string {
	return "pastes"
}

// IsExpired reports whether the time limit has passed at now
func (p *Paste) IsExpired(now time.Time) bool {
	if p.ExpiresAt == nil {
		return false
	}
	return !now.Before(*p.ExpiresAt)
}

// IsViewLimitReached reports whether every allowed view has been consumed
func (p *Paste) IsViewLimitReached() bool {
	return p.MaxViews != nil && p.CurrentViews >= *p.MaxViews
}

// IsUnavailable returns true if the paste must no longer be served at now
func (p *Paste) IsUnavailable(now time.Time) bool {
	return p.IsExpired(now) || p.IsViewLimitReached()
}

// RemainingViews returns how many more fetches are allowed, or nil when unlimited
func (p *Paste) RemainingViews() *int64 {
	if p.MaxViews == nil {
		return nil
	}
	remaining := *p.MaxViews - p.CurrentViews
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}
