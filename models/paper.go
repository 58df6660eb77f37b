package models

import (
	"time"

	"gorm.io/datatypes"
)

// Verarbeitungsstatus eines Papers. Übergänge laufen nur vorwärts,
// einzig FAILED -> PROCESSING ist für erneute Versuche erlaubt.
const (
	PaperStatusNew        = "NEW"
	PaperStatusProcessing = "PROCESSING"
	PaperStatusCompleted  = "COMPLETED"
	PaperStatusFailed     = "FAILED"
)

// Paper repräsentiert ein gecrawltes wissenschaftliches Paper und dessen Metadaten.
type Paper struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Quellenqualifizierte ID, z.B. "arxiv-2501.12345"
	PaperID string `json:"paper_id" gorm:"column:paper_id;uniqueIndex;not null;size:100"`

	Title           string     `json:"title" gorm:"not null;size:500"`
	Authors         []string   `json:"authors" gorm:"serializer:json;not null"`
	Abstract        string     `json:"abstract" gorm:"type:text;not null"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`

	Source     string   `json:"source" gorm:"index:idx_papers_source_status;not null;size:50"`
	PDFURL     string   `json:"pdf_url,omitempty" gorm:"size:500"`
	Categories []string `json:"categories,omitempty" gorm:"serializer:json"`

	// Roh-Backup der Quelldaten, wie sie beim Crawl vorlagen
	RawData   datatypes.JSON `json:"raw_data" gorm:"not null"`
	CrawlTime time.Time      `json:"crawl_time" gorm:"not null"`

	Status string `json:"status" gorm:"index:idx_papers_source_status;index;not null;default:'NEW';size:20"`

	// Zugehörige Reports; Löschen eines Papers löscht seine Reports mit.
	Reports []Report `json:"-" gorm:"foreignKey:PaperRef;constraint:OnDelete:CASCADE"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Paper) TableName() string {
	return "papers"
}
