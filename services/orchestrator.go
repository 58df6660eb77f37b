package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"auto-scholar/config"
	"auto-scholar/llm"
	"auto-scholar/models"
	"auto-scholar/providers"
)

// ErrPaperNotFound wird zurückgegeben, wenn eine Paper-ID unbekannt ist.
var ErrPaperNotFound = errors.New("paper not found")

// ReportGenerator erzeugt den strukturierten Report-Inhalt für ein Paper.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, paper *models.Paper, providerName string) (*llm.ReportResult, error)
}

// ReportWriter rendert einen Report als Dokument und gibt den Pfad zurück.
type ReportWriter interface {
	WriteReport(paper *models.Paper, content map[string]string, llmModel string) (string, error)
}

// IngestResult fasst einen Crawl-Durchlauf zusammen.
type IngestResult struct {
	TotalFetched int `json:"total_fetched"`
	Saved        int `json:"saved"`
	Duplicates   int `json:"duplicates"`
	Failed       int `json:"failed"`
}

// BatchResult fasst eine Batch-Generierung zusammen.
type BatchResult struct {
	TotalProcessed int `json:"total_processed"`
	Success        int `json:"success"`
	Failed         int `json:"failed"`
}

// Orchestrator koordiniert Crawl, Report-Generierung und Dokument-Ablage
// und besitzt den Statusübergangs-Vertrag für Paper- und Task-Zeilen.
// Innerhalb eines Aufrufs läuft alle Paper-Verarbeitung strikt sequenziell.
type Orchestrator struct {
	Config    *config.Config
	DB        *gorm.DB
	Logger    *zap.Logger
	Providers map[string]providers.Provider
	Generator ReportGenerator
	Writer    ReportWriter
}

// NewOrchestrator erstellt einen Orchestrator mit den gegebenen Quellen.
func NewOrchestrator(cfg *config.Config, db *gorm.DB, logger *zap.Logger, provs []providers.Provider, generator ReportGenerator, writer ReportWriter) *Orchestrator {
	byName := make(map[string]providers.Provider, len(provs))
	for _, p := range provs {
		byName[p.Name()] = p
	}
	return &Orchestrator{
		Config:    cfg,
		DB:        db,
		Logger:    logger,
		Providers: byName,
		Generator: generator,
		Writer:    writer,
	}
}

// Ingest holt Paper von einer Quelle und speichert sie dedupliziert.
// Bereits bekannte Paper-IDs werden gezählt und übersprungen, der Fehler
// eines einzelnen Datensatzes bricht die übrigen nicht ab.
func (o *Orchestrator) Ingest(ctx context.Context, source, date string, limit int) (*IngestResult, error) {
	log := o.Logger.With(zap.String("source", source), zap.String("date", date))
	log.Info("Starte Paper-Crawl.")

	provider, ok := o.Providers[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", providers.ErrUnsupportedSource, source)
	}

	papers, err := provider.Fetch(ctx, date)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(papers) > limit {
		papers = papers[:limit]
	}

	result := &IngestResult{TotalFetched: len(papers)}
	for _, paper := range papers {
		var existing models.Paper
		err := o.DB.Where("paper_id = ?", paper.PaperID).First(&existing).Error
		if err == nil {
			result.Duplicates++
			log.Debug("Paper bereits vorhanden, wird übersprungen.", zap.String("paper_id", paper.PaperID))
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			result.Failed++
			log.Error("Duplikatsprüfung fehlgeschlagen", zap.String("paper_id", paper.PaperID), zap.Error(err))
			continue
		}

		if err := o.DB.Create(paper).Error; err != nil {
			result.Failed++
			log.Error("Paper konnte nicht gespeichert werden", zap.String("paper_id", paper.PaperID), zap.Error(err))
			continue
		}
		result.Saved++
		log.Info("Neues Paper gespeichert", zap.String("paper_id", paper.PaperID))
	}

	log.Info("Paper-Crawl abgeschlossen",
		zap.Int("total_fetched", result.TotalFetched),
		zap.Int("saved", result.Saved),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("failed", result.Failed))
	return result, nil
}

// AnalyzePaper führt die Analyse für genau ein Paper aus: Status auf
// PROCESSING, Report generieren, Dokument schreiben, Report-Zeile anlegen,
// Status auf COMPLETED. Schlägt ein Schritt fehl, wird der Status auf
// FAILED gesetzt und der ursprüngliche Fehler weitergereicht; das Paper
// bleibt nie auf PROCESSING stehen.
func (o *Orchestrator) AnalyzePaper(ctx context.Context, paper *models.Paper, providerName string) (*models.Report, error) {
	log := o.Logger.With(zap.String("paper_id", paper.PaperID))
	log.Info("Starte Analyse für Paper.")

	if err := o.setStatus(paper, models.PaperStatusProcessing); err != nil {
		return nil, err
	}

	result, err := o.Generator.GenerateReport(ctx, paper, providerName)
	if err != nil {
		o.markFailed(paper)
		return nil, err
	}

	path, err := o.Writer.WriteReport(paper, result.Content, result.Model)
	if err != nil {
		o.markFailed(paper)
		return nil, err
	}

	report := &models.Report{
		PaperRef:     paper.ID,
		LLMProvider:  result.Provider,
		LLMModel:     result.Model,
		Content:      result.Content,
		MarkdownPath: path,
		Status:       models.ReportStatusSuccess,
	}
	generationTime := result.GenerationTime
	report.GenerationTime = &generationTime
	if result.TokenUsage != nil {
		if usage, err := json.Marshal(result.TokenUsage); err == nil {
			report.TokenUsage = usage
		}
	}

	if err := o.DB.Create(report).Error; err != nil {
		o.markFailed(paper)
		return nil, fmt.Errorf("report row could not be saved: %w", err)
	}

	if err := o.setStatus(paper, models.PaperStatusCompleted); err != nil {
		o.markFailed(paper)
		return nil, err
	}

	log.Info("Analyse erfolgreich abgeschlossen",
		zap.Uint("report_id", report.ID), zap.String("path", path))
	return report, nil
}

// AnalyzeBatch verarbeitet alle Paper mit Status NEW sequenziell. Der
// Fehler eines einzelnen Papers wird gezählt und stoppt den Batch nicht;
// im Fehlerfall wird nur der Paper-Status auf FAILED gesetzt, keine
// Report-Zeile angelegt.
func (o *Orchestrator) AnalyzeBatch(ctx context.Context, providerName string, limit int) (*BatchResult, error) {
	log := o.Logger.With(zap.String("llm_provider", providerName), zap.Int("limit", limit))
	log.Info("Starte Batch-Generierung.")

	query := o.DB.Where("status = ?", models.PaperStatusNew).Order("created_at")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var papers []models.Paper
	if err := query.Find(&papers).Error; err != nil {
		return nil, err
	}
	if len(papers) == 0 {
		log.Info("Keine unverarbeiteten Paper gefunden.")
		return &BatchResult{}, nil
	}

	result := &BatchResult{TotalProcessed: len(papers)}
	for i := range papers {
		if _, err := o.AnalyzePaper(ctx, &papers[i], providerName); err != nil {
			result.Failed++
			log.Error("Report-Generierung für Paper fehlgeschlagen",
				zap.String("paper_id", papers[i].PaperID), zap.Error(err))
			continue
		}
		result.Success++
	}

	log.Info("Batch-Generierung abgeschlossen",
		zap.Int("total_processed", result.TotalProcessed),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed))
	return result, nil
}

// Regenerate stößt die Analyse für eine konkrete Paper-ID an, unabhängig
// vom aktuellen Status. Unbekannte IDs liefern ErrPaperNotFound.
func (o *Orchestrator) Regenerate(ctx context.Context, paperID, providerName string) (*models.Report, error) {
	var paper models.Paper
	if err := o.DB.Where("paper_id = ?", paperID).First(&paper).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPaperNotFound, paperID)
		}
		return nil, err
	}
	return o.AnalyzePaper(ctx, &paper, providerName)
}

// setStatus schreibt einen Statusübergang sofort in die Datenbank, damit
// er für parallele Leser sichtbar ist.
func (o *Orchestrator) setStatus(paper *models.Paper, status string) error {
	paper.Status = status
	if err := o.DB.Model(paper).Update("status", status).Error; err != nil {
		return fmt.Errorf("paper status update to %s failed: %w", status, err)
	}
	return nil
}

// markFailed setzt den Paper-Status best-effort auf FAILED. Der
// ursprüngliche Fehler des Aufrufers hat Vorrang und wird nicht überdeckt.
func (o *Orchestrator) markFailed(paper *models.Paper) {
	if err := o.setStatus(paper, models.PaperStatusFailed); err != nil {
		o.Logger.Error("Paper konnte nicht auf FAILED gesetzt werden",
			zap.String("paper_id", paper.PaperID), zap.Error(err))
	}
}
