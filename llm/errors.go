package llm

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// APIError repräsentiert einen Fehler der Provider-API.
type APIError struct {
	Provider string
	// StatusCode ist 0, wenn keine HTTP-Antwort empfangen wurde.
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient meldet, ob ein erneuter Versuch Erfolg haben könnte:
// Netzwerkfehler (Status 0), Rate-Limits (429) und Serverfehler (5xx).
func (e *APIError) IsTransient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// ParseError kennzeichnet eine LLM-Antwort, die sich nicht als JSON
// dekodieren ließ. Wird nicht erneut versucht.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse LLM response as JSON: %v", e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// ValidationError kennzeichnet einen dekodierten Report, dem Pflichtfelder
// fehlen oder dessen Felder leer sind. Missing nennt die betroffenen
// Schlüssel in sortierter Reihenfolge.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	fields := append([]string(nil), e.Missing...)
	sort.Strings(fields)
	return fmt.Sprintf("report content missing required fields: %s", strings.Join(fields, ", "))
}
