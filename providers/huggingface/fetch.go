package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"auto-scholar/config"
	"auto-scholar/models"
	"auto-scholar/providers"
)

var (
	articleRegex   = regexp.MustCompile(`(?s)<article[^>]*>(.*?)</article>`)
	arxivIDRegex   = regexp.MustCompile(`(\d{4}\.\d{4,5})`)
	arxivHrefRegex = regexp.MustCompile(`href="([^"]*(?:arxiv\.org|/papers/)[^"]*)"`)
	titleRegex     = regexp.MustCompile(`(?s)<h[23][^>]*>(.*?)</h[23]>`)
	authorRegex    = regexp.MustCompile(`(?s)<p[^>]*class="[^"]*author[^"]*"[^>]*>(.*?)</p>`)
	abstractRegex  = regexp.MustCompile(`(?s)<p[^>]*class="[^"]*(?:abstract|description)[^"]*"[^>]*>(.*?)</p>`)
	tagRegex       = regexp.MustCompile(`(?s)<span[^>]*class="[^"]*(?:tag|badge)[^"]*"[^>]*>(.*?)</span>`)
	htmlTagRegex   = regexp.MustCompile(`<[^>]+>`)
)

// customTransport setzt den konfigurierten User-Agent auf jede Anfrage.
type customTransport struct {
	userAgent string
	transport http.RoundTripper
}

func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// Fetcher implementiert das Provider-Interface für Hugging Face Daily Papers.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	client *http.Client
}

// NewFetcher erstellt einen neuen Hugging-Face-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	base := http.DefaultTransport
	if t, ok := base.(*http.Transport); ok {
		clone := t.Clone()
		clone.MaxConnsPerHost = cfg.CrawlerConcurrentLimit
		base = clone
	}
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		client: &http.Client{
			Timeout: cfg.CrawlerTimeout(),
			Transport: &customTransport{
				userAgent: cfg.CrawlerUserAgent,
				transport: base,
			},
		},
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "huggingface"
}

// Fetch holt die Daily-Papers-Seite, optional für ein bestimmtes Datum,
// und parst sie heuristisch in Paper-Modelle. Transportfehler werden mit
// exponentiellem Backoff erneut versucht, Parse-Fehler nicht.
func (f *Fetcher) Fetch(ctx context.Context, date string) ([]*models.Paper, error) {
	pageURL := f.Config.HuggingFaceBaseURL
	if date != "" {
		pageURL = fmt.Sprintf("%s?date=%s", pageURL, date)
	}
	log := f.Logger.With(zap.String("url", pageURL))
	log.Info("Hole Hugging Face Daily Papers.")

	body, err := f.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	papers := f.parsePage(body)
	log.Info("Hugging-Face-Abruf abgeschlossen", zap.Int("count", len(papers)))
	return papers, nil
}

// fetchPage lädt die Seite mit Retry bei Transportfehlern. Die Wartezeit
// verdoppelt sich pro Versuch, ausgehend vom konfigurierten Basis-Delay,
// gedeckelt bei 60 Sekunden.
func (f *Fetcher) fetchPage(ctx context.Context, pageURL string) (string, error) {
	delay := time.Duration(f.Config.CrawlerRetryDelay) * time.Second
	const maxDelay = 60 * time.Second

	var lastErr error
	for attempt := 1; attempt <= f.Config.CrawlerMaxRetries; attempt++ {
		body, err := f.doRequest(ctx, pageURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var te *providers.TransportError
		if !errors.As(err, &te) {
			return "", err
		}
		if attempt == f.Config.CrawlerMaxRetries {
			break
		}

		f.Logger.Warn("Abruf fehlgeschlagen, versuche erneut",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return "", fmt.Errorf("huggingface fetch failed after %d attempts: %w", f.Config.CrawlerMaxRetries, lastErr)
}

func (f *Fetcher) doRequest(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &providers.TransportError{Source: "huggingface", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return "", &providers.TransportError{Source: "huggingface", StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("huggingface returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &providers.TransportError{Source: "huggingface", Err: err}
	}
	return string(body), nil
}

// parsePage extrahiert Paper-Einträge aus dem HTML. Das Parsing ist
// best-effort: einzelne nicht parsebare Einträge werden übersprungen und
// brechen den Gesamtabruf nicht ab.
func (f *Fetcher) parsePage(body string) []*models.Paper {
	var papers []*models.Paper
	for _, match := range articleRegex.FindAllStringSubmatch(body, -1) {
		paper := f.parseArticle(match[1])
		if paper == nil {
			continue
		}
		papers = append(papers, paper)
	}
	return papers
}

// parseArticle parst einen einzelnen Artikel-Block. Ohne arXiv-ID ist der
// Eintrag wertlos und wird verworfen.
func (f *Fetcher) parseArticle(block string) *models.Paper {
	href := ""
	if m := arxivHrefRegex.FindStringSubmatch(block); len(m) > 1 {
		href = m[1]
	}
	idMatch := arxivIDRegex.FindStringSubmatch(href)
	if len(idMatch) < 2 {
		f.Logger.Debug("Artikel-Block ohne arXiv-ID übersprungen.")
		return nil
	}
	arxivID := idMatch[1]

	title := ""
	if m := titleRegex.FindStringSubmatch(block); len(m) > 1 {
		title = stripTags(m[1])
	}

	var authors []string
	if m := authorRegex.FindStringSubmatch(block); len(m) > 1 {
		for _, a := range strings.Split(stripTags(m[1]), ",") {
			if a = strings.TrimSpace(a); a != "" {
				authors = append(authors, a)
			}
		}
	}
	if len(authors) == 0 {
		authors = []string{"Unknown"}
	}

	abstract := ""
	if m := abstractRegex.FindStringSubmatch(block); len(m) > 1 {
		abstract = stripTags(m[1])
	}
	if abstract == "" {
		abstract = "No abstract available"
	}

	var categories []string
	for _, m := range tagRegex.FindAllStringSubmatch(block, -1) {
		if tag := stripTags(m[1]); tag != "" {
			categories = append(categories, tag)
		}
	}

	now := time.Now()
	rawData, _ := json.Marshal(map[string]string{
		"arxiv_id":        arxivID,
		"arxiv_url":       href,
		"huggingface_url": f.Config.HuggingFaceBaseURL,
	})

	return &models.Paper{
		PaperID:         "arxiv-" + arxivID,
		Title:           title,
		Authors:         authors,
		Abstract:        abstract,
		PublicationDate: &now,
		Source:          "HUGGINGFACE",
		PDFURL:          fmt.Sprintf("https://arxiv.org/pdf/%s.pdf", arxivID),
		Categories:      categories,
		RawData:         rawData,
		CrawlTime:       now,
		Status:          models.PaperStatusNew,
	}
}

// stripTags entfernt HTML-Markup und dekodiert Entities.
func stripTags(s string) string {
	s = htmlTagRegex.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
