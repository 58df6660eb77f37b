package models

import (
	"time"

	"gorm.io/datatypes"
)

// Task-Typen für die auditierten Abläufe.
const (
	TaskTypeCrawl          = "CRAWL"
	TaskTypeGenerateSingle = "GENERATE_SINGLE"
	TaskTypeGenerateBatch  = "GENERATE_BATCH"
)

// Ausführungsstatus eines Tasks.
const (
	TaskStatusPending = "PENDING"
	TaskStatusRunning = "RUNNING"
	TaskStatusSuccess = "SUCCESS"
	TaskStatusFailed  = "FAILED"
)

// Auslöser eines Tasks.
const (
	TriggerScheduled = "SCHEDULED"
	TriggerManual    = "MANUAL"
)

// Task ist der Audit-Datensatz genau einer Orchestrierungs-Ausführung.
// Er wird beim Start angelegt, beim Ende genau einmal finalisiert und
// danach nie wieder verändert.
type Task struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskType string            `json:"task_type" gorm:"index:idx_tasks_type_status;not null;size:50"`
	Params   datatypes.JSONMap `json:"task_params,omitempty"`

	Status      string `json:"status" gorm:"index:idx_tasks_type_status;index;not null;default:'PENDING';size:20"`
	TriggerType string `json:"trigger_type" gorm:"index;not null;size:20"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	ResultSummary datatypes.JSONMap `json:"result_summary,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty" gorm:"type:text"`
	RetryCount    int               `json:"retry_count" gorm:"not null;default:0"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Task) TableName() string {
	return "tasks"
}
