// Database model for projects
package db

import "time"

// Project is an optional grouping of threads with custom instructions that
// are folded into the system prompt for every thread in the project.
// Deleting a project unassigns its threads; it never deletes them.
type Project struct {
	ID    string `json:"-" gorm:"primaryKey;size:36"`
	Token string `json:"token" gorm:"uniqueIndex;size:32;not null"`

	Name         string `json:"name" gorm:"size:200;not null"`
	Instructions string `json:"instructions,omitempty" gorm:"type:text"`

	UserID  string `json:"-" gorm:"index;size:36;not null"`
	Deleted bool   `json:"-" gorm:"index;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ThreadCount is derived on read, not stored.
	ThreadCount int64 `json:"thread_count" gorm:"-"`
}

func (Project) TableName() string {
	return "projects"
}
