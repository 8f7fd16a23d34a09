// Database models for chat threads
package db

import "time"

// Thread represents one conversation between a user and the assistant.
// ID is the internal join key; Token is the public identifier used in URLs.
// Tokens are never reused and never double as authorization: ownership is
// always re-checked against the session user id.
type Thread struct {
	ID    string `json:"-" gorm:"primaryKey;size:36"`
	Token string `json:"token" gorm:"uniqueIndex;size:32;not null"`

	// Name is nil until title generation fills it in after the first prompt.
	Name *string `json:"name" gorm:"size:200"`

	UserID    string  `json:"-" gorm:"index;size:36;not null"`
	ProjectID *string `json:"project_id,omitempty" gorm:"index;size:36"`

	LastMessagedAt time.Time `json:"last_messaged_at" gorm:"index"`
	Deleted        bool      `json:"-" gorm:"index;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages is the materialized ordered history, loaded on demand.
	Messages []ChatMessage `json:"messages,omitempty" gorm:"-"`
}

func (Thread) TableName() string {
	return "threads"
}
