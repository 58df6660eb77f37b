package models

import (
	"time"

	"gorm.io/datatypes"
)

// Generierungsstatus eines Reports.
const (
	ReportStatusPending = "PENDING"
	ReportStatusSuccess = "SUCCESS"
	ReportStatusFailed  = "FAILED"
)

// TokenUsage hält den vom Provider gemeldeten Token-Verbrauch einer Generierung.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Report speichert das strukturierte Analyseergebnis einer LLM-Generierung
// für genau ein Paper. Eine Neugenerierung legt eine neue Zeile an und
// überschreibt nie eine bestehende.
type Report struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Fremdschlüssel auf papers.id
	PaperRef uint `json:"paper_id" gorm:"column:paper_id;not null;index"`

	LLMProvider string `json:"llm_provider" gorm:"not null;size:50"`
	LLMModel    string `json:"llm_model" gorm:"not null;size:100"`

	// Die sieben benannten Analyse-Abschnitte
	Content      map[string]string `json:"report_content" gorm:"serializer:json;not null"`
	MarkdownPath string            `json:"markdown_path" gorm:"not null;size:500"`

	// Generierungsmetriken
	GenerationTime *int           `json:"generation_time,omitempty"`
	TokenUsage     datatypes.JSON `json:"token_usage,omitempty"`

	Status       string `json:"status" gorm:"index;not null;default:'PENDING';size:20"`
	ErrorMessage string `json:"error_message,omitempty" gorm:"type:text"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Report) TableName() string {
	return "reports"
}
