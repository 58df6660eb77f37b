package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"auto-scholar/config"
	"auto-scholar/models"
)

// RequiredFields sind die sieben Pflichtabschnitte eines Analyse-Reports.
var RequiredFields = []string{
	"core_summary",
	"research_background",
	"technical_innovation",
	"experiments_results",
	"application_value",
	"limitations",
	"recommended_audience",
}

const systemPrompt = "You are an expert academic research analyst."

// reportPrompt ist die feste Vorlage für die Report-Generierung. Die
// Wortangaben sind Richtwerte für das Modell und werden nicht nachgeprüft.
const reportPrompt = `You are a senior research analyst specializing in cutting-edge papers in artificial intelligence and machine learning.

Based on the following paper information, write a high-quality analysis report. The report should be professional, accurate and readable, helping readers quickly grasp the core value of the paper.

Paper information:
- Title: %s
- Authors: %s
- Abstract: %s
- Source: %s
- Categories: %s

Produce the report with the following structure and return it as JSON:

1. core_summary: the paper's most important contribution in 1-2 sentences (50-100 words)
2. research_background: the problem addressed and the research motivation (100-200 words)
3. technical_innovation: the new methods and techniques the paper proposes (200-300 words)
4. experiments_results: the main experimental setup and key results (150-250 words)
5. application_value: practical application scenarios and significance (100-150 words)
6. limitations: shortcomings and directions for future improvement (100-150 words)
7. recommended_audience: which researchers or practitioners should read this (50 words or less)

Make sure that:
- The content is accurate and professional, with reasonable inference from the abstract
- The language flows naturally
- The innovations and practical value stand out
- Limitations are analyzed objectively

Return a JSON object using exactly the keys listed above.`

var (
	jsonFenceRegex = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	anyFenceRegex  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
)

// ReportResult ist das Ergebnis einer erfolgreichen Report-Generierung.
type ReportResult struct {
	Content        map[string]string
	GenerationTime int
	TokenUsage     *models.TokenUsage
	Provider       string
	Model          string
}

// ReportService generiert strukturierte Analyse-Reports über ein LLM.
type ReportService struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewReportService erstellt einen neuen ReportService.
func NewReportService(cfg *config.Config, logger *zap.Logger) *ReportService {
	return &ReportService{Config: cfg, Logger: logger}
}

// GenerateReport ruft das LLM mit den Paper-Feldern auf, parst die Antwort
// und validiert die sieben Pflichtfelder. providerName leer bedeutet
// Default-Provider.
func (s *ReportService) GenerateReport(ctx context.Context, paper *models.Paper, providerName string) (*ReportResult, error) {
	provider := s.Config.ProviderFor(providerName)
	client := NewClient(s.Config, provider, s.Logger)

	log := s.Logger.With(
		zap.String("provider", provider.Name),
		zap.String("model", provider.Model),
		zap.String("paper_id", paper.PaperID))
	log.Info("Generiere Report mit LLM.")

	start := time.Now()
	response, usage, err := client.Complete(ctx, systemPrompt, BuildPrompt(paper))
	if err != nil {
		log.Error("LLM-Aufruf fehlgeschlagen", zap.Error(err))
		return nil, err
	}

	content, err := ParseReportContent(response)
	if err != nil {
		log.Error("Antwort konnte nicht geparst werden", zap.Error(err))
		return nil, err
	}
	if err := ValidateReportContent(content); err != nil {
		log.Error("Report-Inhalt unvollständig", zap.Error(err))
		return nil, err
	}

	generationTime := int(time.Since(start).Seconds())
	log.Info("Report erfolgreich generiert",
		zap.Int("generation_time", generationTime))

	return &ReportResult{
		Content:        content,
		GenerationTime: generationTime,
		TokenUsage:     usage,
		Provider:       provider.Name,
		Model:          provider.Model,
	}, nil
}

// BuildPrompt füllt die Prompt-Vorlage mit den Feldern eines Papers.
// Autorenlisten werden auf fünf Einträge gekürzt.
func BuildPrompt(paper *models.Paper) string {
	authors := paper.Authors
	suffix := ""
	if len(authors) > 5 {
		authors = authors[:5]
		suffix = " et al."
	}
	authorsStr := strings.Join(authors, ", ") + suffix

	categoriesStr := "uncategorized"
	if len(paper.Categories) > 0 {
		categoriesStr = strings.Join(paper.Categories, ", ")
	}

	return fmt.Sprintf(reportPrompt, paper.Title, authorsStr, paper.Abstract, paper.Source, categoriesStr)
}

// ParseReportContent dekodiert die LLM-Antwort. Es werden nacheinander drei
// Varianten versucht: ein als json markierter Code-Fence, ein beliebiger
// Code-Fence und schließlich der Rohtext. Die erste Variante, die sich
// strukturell dekodieren lässt, gewinnt.
func ParseReportContent(response string) (map[string]string, error) {
	var candidates []string
	if m := jsonFenceRegex.FindStringSubmatch(response); len(m) > 1 {
		candidates = append(candidates, m[1])
	}
	if m := anyFenceRegex.FindStringSubmatch(response); len(m) > 1 {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, response)

	var lastErr error
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &decoded); err != nil {
			lastErr = err
			continue
		}
		content := make(map[string]string, len(decoded))
		for key, value := range decoded {
			if str, ok := value.(string); ok {
				content[key] = str
			}
		}
		return content, nil
	}
	return nil, &ParseError{Cause: lastErr}
}

// ValidateReportContent prüft, dass alle Pflichtfelder vorhanden und
// nicht-leere Strings sind. Fehlende und leere Felder werden gemeinsam
// als ValidationError gemeldet.
func ValidateReportContent(content map[string]string) error {
	var missing []string
	for _, field := range RequiredFields {
		if strings.TrimSpace(content[field]) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}
