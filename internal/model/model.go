package model

import (
	"time"
)

// Setting is a key-value row in host storage. Plugin settings live here under
// the "plugin.{id}." prefix.
type Setting struct {
	Key   string `gorm:"primaryKey;size:128" json:"key"`
	Value string `gorm:"type:text" json:"value"`
}

// GenerationRecord is the outcome of one suggestion generation cycle
type GenerationRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CycleID     string    `gorm:"uniqueIndex;size:36" json:"cycle_id"`
	Trigger     string    `gorm:"size:32" json:"trigger"` // "event", "manual", "retry", "director"
	APIType     string    `gorm:"size:16" json:"api_type"`
	Model       string    `gorm:"size:128" json:"model"`
	Prompt      string    `gorm:"type:text" json:"prompt"`
	Response    string    `gorm:"type:text" json:"response"`
	Suggestions string    `gorm:"type:text" json:"suggestions"` // JSON array
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// HostEvent is an audit row for lifecycle events received from a bridge
type HostEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"index;size:64;not null" json:"type"`
	Detail    string    `gorm:"type:text" json:"detail"`
	Client    string    `gorm:"size:64" json:"client"`
	CreatedAt time.Time `json:"created_at"`
}
