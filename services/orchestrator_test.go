package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"auto-scholar/config"
	"auto-scholar/llm"
	"auto-scholar/models"
	"auto-scholar/providers"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Paper{}, &models.Report{}, &models.Task{}))
	return db
}

type fakeProvider struct {
	papers []*models.Paper
	err    error
}

func (p *fakeProvider) Fetch(ctx context.Context, date string) ([]*models.Paper, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.papers, nil
}

func (p *fakeProvider) Name() string { return "huggingface" }

type fakeGenerator struct {
	failFor map[string]error
	calls   []string
}

func (g *fakeGenerator) GenerateReport(ctx context.Context, paper *models.Paper, providerName string) (*llm.ReportResult, error) {
	g.calls = append(g.calls, paper.PaperID)
	if err, ok := g.failFor[paper.PaperID]; ok {
		return nil, err
	}
	return &llm.ReportResult{
		Content:        sampleContent(),
		GenerationTime: 2,
		TokenUsage:     &models.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		Provider:       "openai",
		Model:          "gpt-4",
	}, nil
}

type fakeWriter struct {
	err error
}

func (w *fakeWriter) WriteReport(paper *models.Paper, content map[string]string, llmModel string) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	return "/data/reports/" + paper.PaperID + ".md", nil
}

func newTestOrchestrator(t *testing.T, db *gorm.DB, provider providers.Provider, gen ReportGenerator, writer ReportWriter) *Orchestrator {
	t.Helper()
	cfg := &config.Config{LLMDefaultProvider: "openai"}
	var provs []providers.Provider
	if provider != nil {
		provs = append(provs, provider)
	}
	return NewOrchestrator(cfg, db, zap.NewNop(), provs, gen, writer)
}

func makePaper(id, status string) *models.Paper {
	return &models.Paper{
		PaperID:   id,
		Title:     "Title " + id,
		Authors:   []string{"Unknown"},
		Abstract:  "No abstract available",
		Source:    "HUGGINGFACE",
		RawData:   datatypes.JSON([]byte(`{}`)),
		Status:    status,
		CrawlTime: time.Now(),
	}
}

func TestIngestDeduplicates(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{papers: []*models.Paper{
		makePaper("arxiv-1111.0001", models.PaperStatusNew),
		makePaper("arxiv-1111.0002", models.PaperStatusNew),
		makePaper("arxiv-1111.0003", models.PaperStatusNew),
	}}
	require.NoError(t, db.Create(makePaper("arxiv-1111.0002", models.PaperStatusCompleted)).Error)

	o := newTestOrchestrator(t, db, provider, &fakeGenerator{}, &fakeWriter{})
	result, err := o.Ingest(context.Background(), "huggingface", "", 0)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalFetched)
	assert.Equal(t, 2, result.Saved)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 0, result.Failed)

	var count int64
	db.Model(&models.Paper{}).Count(&count)
	assert.EqualValues(t, 3, count)

	// Das vorhandene Paper behält seinen Status.
	var existing models.Paper
	require.NoError(t, db.Where("paper_id = ?", "arxiv-1111.0002").First(&existing).Error)
	assert.Equal(t, models.PaperStatusCompleted, existing.Status)
}

func TestIngestUnknownSource(t *testing.T) {
	db := newTestDB(t)
	o := newTestOrchestrator(t, db, &fakeProvider{}, &fakeGenerator{}, &fakeWriter{})

	_, err := o.Ingest(context.Background(), "pubmed", "", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrUnsupportedSource)
}

func TestIngestAppliesLimit(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{papers: []*models.Paper{
		makePaper("arxiv-2222.0001", models.PaperStatusNew),
		makePaper("arxiv-2222.0002", models.PaperStatusNew),
		makePaper("arxiv-2222.0003", models.PaperStatusNew),
	}}

	o := newTestOrchestrator(t, db, provider, &fakeGenerator{}, &fakeWriter{})
	result, err := o.Ingest(context.Background(), "huggingface", "", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalFetched)
	assert.Equal(t, 2, result.Saved)
}

func TestIngestPropagatesProviderError(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{err: errors.New("upstream down")}

	o := newTestOrchestrator(t, db, provider, &fakeGenerator{}, &fakeWriter{})
	_, err := o.Ingest(context.Background(), "huggingface", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestAnalyzePaperSuccess(t *testing.T) {
	db := newTestDB(t)
	paper := makePaper("arxiv-3333.0001", models.PaperStatusNew)
	require.NoError(t, db.Create(paper).Error)

	o := newTestOrchestrator(t, db, nil, &fakeGenerator{}, &fakeWriter{})
	report, err := o.AnalyzePaper(context.Background(), paper, "")
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, models.ReportStatusSuccess, report.Status)
	assert.Equal(t, "openai", report.LLMProvider)
	assert.Equal(t, "gpt-4", report.LLMModel)
	assert.Equal(t, "/data/reports/arxiv-3333.0001.md", report.MarkdownPath)
	require.NotNil(t, report.GenerationTime)
	assert.Equal(t, 2, *report.GenerationTime)
	assert.NotEmpty(t, report.TokenUsage)

	var reloaded models.Paper
	require.NoError(t, db.First(&reloaded, paper.ID).Error)
	assert.Equal(t, models.PaperStatusCompleted, reloaded.Status)

	var saved models.Report
	require.NoError(t, db.First(&saved, report.ID).Error)
	assert.Equal(t, sampleContent(), saved.Content)
	assert.Equal(t, paper.ID, saved.PaperRef)
}

func TestAnalyzePaperGeneratorFailure(t *testing.T) {
	db := newTestDB(t)
	paper := makePaper("arxiv-3333.0002", models.PaperStatusNew)
	require.NoError(t, db.Create(paper).Error)

	gen := &fakeGenerator{failFor: map[string]error{
		"arxiv-3333.0002": &llm.ValidationError{Missing: []string{"limitations"}},
	}}
	o := newTestOrchestrator(t, db, nil, gen, &fakeWriter{})

	_, err := o.AnalyzePaper(context.Background(), paper, "")
	require.Error(t, err)

	var valErr *llm.ValidationError
	assert.ErrorAs(t, err, &valErr)

	var reloaded models.Paper
	require.NoError(t, db.First(&reloaded, paper.ID).Error)
	assert.Equal(t, models.PaperStatusFailed, reloaded.Status)

	var count int64
	db.Model(&models.Report{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestAnalyzePaperWriterFailure(t *testing.T) {
	db := newTestDB(t)
	paper := makePaper("arxiv-3333.0003", models.PaperStatusNew)
	require.NoError(t, db.Create(paper).Error)

	o := newTestOrchestrator(t, db, nil, &fakeGenerator{}, &fakeWriter{err: errors.New("disk full")})
	_, err := o.AnalyzePaper(context.Background(), paper, "")
	require.Error(t, err)

	var reloaded models.Paper
	require.NoError(t, db.First(&reloaded, paper.ID).Error)
	assert.Equal(t, models.PaperStatusFailed, reloaded.Status)

	var count int64
	db.Model(&models.Report{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestAnalyzeBatchSelectsOnlyNew(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(makePaper("arxiv-4444.0001", models.PaperStatusNew)).Error)
	require.NoError(t, db.Create(makePaper("arxiv-4444.0002", models.PaperStatusCompleted)).Error)
	require.NoError(t, db.Create(makePaper("arxiv-4444.0003", models.PaperStatusFailed)).Error)

	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, db, nil, gen, &fakeWriter{})
	result, err := o.AnalyzeBatch(context.Background(), "", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalProcessed)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []string{"arxiv-4444.0001"}, gen.calls)
}

func TestAnalyzeBatchContinuesOnError(t *testing.T) {
	db := newTestDB(t)
	for _, id := range []string{"arxiv-5555.0001", "arxiv-5555.0002", "arxiv-5555.0003"} {
		require.NoError(t, db.Create(makePaper(id, models.PaperStatusNew)).Error)
	}

	gen := &fakeGenerator{failFor: map[string]error{
		"arxiv-5555.0002": errors.New("llm unavailable"),
	}}
	o := newTestOrchestrator(t, db, nil, gen, &fakeWriter{})
	result, err := o.AnalyzeBatch(context.Background(), "", 0)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalProcessed)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, result.TotalProcessed, result.Success+result.Failed)

	statuses := map[string]string{}
	var papers []models.Paper
	require.NoError(t, db.Find(&papers).Error)
	for _, p := range papers {
		statuses[p.PaperID] = p.Status
	}
	assert.Equal(t, models.PaperStatusCompleted, statuses["arxiv-5555.0001"])
	assert.Equal(t, models.PaperStatusFailed, statuses["arxiv-5555.0002"])
	assert.Equal(t, models.PaperStatusCompleted, statuses["arxiv-5555.0003"])

	// Fehlgeschlagene Paper bekommen keine Report-Zeile.
	var count int64
	db.Model(&models.Report{}).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestAnalyzeBatchAppliesLimit(t *testing.T) {
	db := newTestDB(t)
	for _, id := range []string{"arxiv-6666.0001", "arxiv-6666.0002", "arxiv-6666.0003"} {
		require.NoError(t, db.Create(makePaper(id, models.PaperStatusNew)).Error)
	}

	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, db, nil, gen, &fakeWriter{})
	result, err := o.AnalyzeBatch(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalProcessed)
	assert.Len(t, gen.calls, 2)
}

func TestAnalyzeBatchEmpty(t *testing.T) {
	db := newTestDB(t)
	o := newTestOrchestrator(t, db, nil, &fakeGenerator{}, &fakeWriter{})

	result, err := o.AnalyzeBatch(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalProcessed)
}

func TestRegenerateUnknownPaper(t *testing.T) {
	db := newTestDB(t)
	o := newTestOrchestrator(t, db, nil, &fakeGenerator{}, &fakeWriter{})

	_, err := o.Regenerate(context.Background(), "arxiv-0000.0000", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaperNotFound)
}

func TestRegenerateAppendsReport(t *testing.T) {
	db := newTestDB(t)
	paper := makePaper("arxiv-7777.0001", models.PaperStatusCompleted)
	require.NoError(t, db.Create(paper).Error)
	existing := &models.Report{
		PaperRef: paper.ID, LLMProvider: "openai", LLMModel: "gpt-4",
		Content: sampleContent(), Status: models.ReportStatusSuccess,
	}
	require.NoError(t, db.Create(existing).Error)

	o := newTestOrchestrator(t, db, nil, &fakeGenerator{}, &fakeWriter{})
	report, err := o.Regenerate(context.Background(), "arxiv-7777.0001", "")
	require.NoError(t, err)
	assert.NotEqual(t, existing.ID, report.ID)

	var count int64
	db.Model(&models.Report{}).Where("paper_id = ?", paper.ID).Count(&count)
	assert.EqualValues(t, 2, count)

	var reloaded models.Paper
	require.NoError(t, db.First(&reloaded, paper.ID).Error)
	assert.Equal(t, models.PaperStatusCompleted, reloaded.Status)
}
