// Audit records for model invocations
package db

import "time"

// Run represents one orchestration attempt on a thread. It exists purely as
// an audit trail distinct from the message rows.
type Run struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	ThreadID  string    `json:"thread_id" gorm:"index;size:36;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (Run) TableName() string {
	return "runs"
}

// RunStep records one generation event within a run.
type RunStep struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	RunID     string    `json:"run_id" gorm:"index;size:36;not null"`
	Provider  string    `json:"provider" gorm:"size:40"`
	Model     string    `json:"model" gorm:"size:100"`
	MessageID string    `json:"message_id" gorm:"size:36"`
	CreatedAt time.Time `json:"created_at"`
}

func (RunStep) TableName() string {
	return "run_steps"
}
