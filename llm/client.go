package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"auto-scholar/config"
	"auto-scholar/models"
)

// Client spricht eine OpenAI-kompatible Chat-Completions-API an. Alle
// unterstützten Provider (openai, qwen, zhipu, kimi) werden über dieselbe
// Schnittstelle bedient und unterscheiden sich nur in Base-URL und Modell.
type Client struct {
	Provider config.ProviderConfig
	Logger   *zap.Logger

	maxRetries int
	retryDelay time.Duration
	client     *http.Client
}

// NewClient erstellt einen Client für den gegebenen Provider.
func NewClient(cfg *config.Config, provider config.ProviderConfig, logger *zap.Logger) *Client {
	return &Client{
		Provider:   provider,
		Logger:     logger,
		maxRetries: cfg.LLMMaxRetries,
		retryDelay: time.Duration(cfg.LLMRetryDelay) * time.Second,
		client:     &http.Client{Timeout: cfg.LLMTimeout()},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sendet eine System- und eine User-Nachricht und gibt den
// Antworttext samt gemeldetem Token-Verbrauch zurück. Transiente Fehler
// werden mit exponentiellem Backoff erneut versucht (max. Versuche aus der
// Konfiguration, Wartezeit gedeckelt bei 60 Sekunden).
func (c *Client) Complete(ctx context.Context, system, user string) (string, *models.TokenUsage, error) {
	if c.Provider.APIKey == "" {
		return "", nil, fmt.Errorf("api key missing for provider %q", c.Provider.Name)
	}

	delay := c.retryDelay
	const maxDelay = 60 * time.Second

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		text, usage, err := c.doComplete(ctx, system, user)
		if err == nil {
			return text, usage, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsTransient() {
			return "", nil, err
		}
		if attempt == c.maxRetries {
			break
		}

		c.Logger.Warn("LLM-Aufruf fehlgeschlagen, versuche erneut",
			zap.String("provider", c.Provider.Name),
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return "", nil, fmt.Errorf("llm completion failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) doComplete(ctx context.Context, system, user string) (string, *models.TokenUsage, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.Provider.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.Provider.Temperature,
		MaxTokens:   c.Provider.MaxTokens,
	})
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.Provider.APIBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Provider.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", nil, err
		}
		return "", nil, &APIError{Provider: c.Provider.Name, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, &APIError{Provider: c.Provider.Name, Message: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return "", nil, &APIError{Provider: c.Provider.Name, StatusCode: resp.StatusCode, Message: string(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil, fmt.Errorf("%s returned empty choices", c.Provider.Name)
	}

	var usage *models.TokenUsage
	if parsed.Usage != nil {
		usage = &models.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return parsed.Choices[0].Message.Content, usage, nil
}
