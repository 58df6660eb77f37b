package services

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"auto-scholar/models"
)

var (
	unsafeCharRegex = regexp.MustCompile(`[^\w\-]`)
	// \w ist in Go ASCII-only; Titel sind aber nicht immer englisch.
	wordRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// markdownTemplate ist die feste Vorlage für gerenderte Analyse-Reports:
// Front-Matter, Paper-Metadaten, die sieben Analyse-Abschnitte und das
// Original-Abstract.
const markdownTemplate = `---
title: "{{.Title}}"
date: {{.Date}}
paper_id: "{{.PaperID}}"
tags: [{{range $i, $t := .Tags}}{{if $i}}, {{end}}"{{$t}}"{{end}}]
author: "AutoScholar"
llm_model: "{{.LLMModel}}"
publish_status: "unpublished"
---

# {{.Title}}

## Paper Information

- **Title**: {{.Title}}
- **Authors**: {{.Authors}}
- **Publication Date**: {{.PublicationDate}}
- **Source**: {{.Source}}
- **Categories**: {{.Categories}}
{{- if .PDFURL}}
- **Paper Link**: [PDF]({{.PDFURL}})
{{- end}}

---

## Core Summary

{{.Content.core_summary}}

---

## Research Background

{{.Content.research_background}}

---

## Technical Innovation

{{.Content.technical_innovation}}

---

## Experiments & Results

{{.Content.experiments_results}}

---

## Application Value

{{.Content.application_value}}

---

## Limitations

{{.Content.limitations}}

---

## Recommended Audience

{{.Content.recommended_audience}}

---

## Original Abstract

{{.Abstract}}

---

*This report was generated automatically by AutoScholar using {{.LLMModel}}.*

*Generated: {{.Date}}*
`

// DocumentWriter rendert Analyse-Reports als Markdown-Dateien unter einem
// deterministisch abgeleiteten Pfad.
type DocumentWriter struct {
	ReportsRoot string
	Logger      *zap.Logger

	tmpl *template.Template
}

// NewDocumentWriter erstellt einen DocumentWriter für das gegebene
// Wurzelverzeichnis.
func NewDocumentWriter(reportsRoot string, logger *zap.Logger) *DocumentWriter {
	return &DocumentWriter{
		ReportsRoot: reportsRoot,
		Logger:      logger,
		tmpl:        template.Must(template.New("report").Parse(markdownTemplate)),
	}
}

// Filename leitet den Dateinamen deterministisch aus Paper-ID, Titel und
// Publikationsdatum ab: {YYYYMMDD}_{bereinigteID}_{slug}.md. Ohne
// Publikationsdatum gilt das aktuelle Datum.
func (w *DocumentWriter) Filename(paperID, title string, publicationDate *time.Time) string {
	date := time.Now()
	if publicationDate != nil {
		date = *publicationDate
	}

	cleanID := unsafeCharRegex.ReplaceAllString(paperID, "_")

	words := wordRegex.FindAllString(strings.ToLower(title), 3)
	slug := strings.Join(words, "_")
	if runes := []rune(slug); len(runes) > 30 {
		slug = string(runes[:30])
	}

	return fmt.Sprintf("%s_%s_%s.md", date.Format("20060102"), cleanID, slug)
}

// FilePath leitet den vollständigen Pfad ab: {root}/{YYYY}/{MM}/{filename}.
func (w *DocumentWriter) FilePath(filename string, publicationDate *time.Time) string {
	date := time.Now()
	if publicationDate != nil {
		date = *publicationDate
	}
	return filepath.Join(w.ReportsRoot, date.Format("2006"), date.Format("01"), filename)
}

// WriteReport rendert den Report und schreibt ihn auf die Platte. Fehlende
// Verzeichnisse werden angelegt, ein existierender Pfad wird überschrieben.
// Zurückgegeben wird der geschriebene Pfad.
func (w *DocumentWriter) WriteReport(paper *models.Paper, content map[string]string, llmModel string) (string, error) {
	filename := w.Filename(paper.PaperID, paper.Title, paper.PublicationDate)
	path := w.FilePath(filename, paper.PublicationDate)

	rendered, err := w.render(paper, content, llmModel)
	if err != nil {
		return "", fmt.Errorf("report render failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("report directory could not be created: %w", err)
	}
	if err := os.WriteFile(path, rendered, 0o644); err != nil {
		return "", fmt.Errorf("report write failed: %w", err)
	}

	w.Logger.Info("Markdown-Report gespeichert",
		zap.String("paper_id", paper.PaperID), zap.String("path", path))
	return path, nil
}

func (w *DocumentWriter) render(paper *models.Paper, content map[string]string, llmModel string) ([]byte, error) {
	pubDate := "unknown"
	if paper.PublicationDate != nil {
		pubDate = paper.PublicationDate.Format("2006-01-02")
	}

	categories := "uncategorized"
	tags := []string{"AI", "Machine Learning"}
	if len(paper.Categories) > 0 {
		categories = strings.Join(paper.Categories, ", ")
		tags = paper.Categories
	}

	data := struct {
		Title           string
		Date            string
		PaperID         string
		Tags            []string
		LLMModel        string
		Authors         string
		PublicationDate string
		Source          string
		Categories      string
		PDFURL          string
		Abstract        string
		Content         map[string]string
	}{
		Title:           paper.Title,
		Date:            time.Now().Format("2006-01-02"),
		PaperID:         paper.PaperID,
		Tags:            tags,
		LLMModel:        llmModel,
		Authors:         strings.Join(paper.Authors, ", "),
		PublicationDate: pubDate,
		Source:          paper.Source,
		Categories:      categories,
		PDFURL:          paper.PDFURL,
		Abstract:        paper.Abstract,
		Content:         content,
	}

	var buf bytes.Buffer
	if err := w.tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
