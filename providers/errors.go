package providers

import "fmt"

// TransportError kennzeichnet einen Netzwerk- oder Serverfehler beim Abruf
// einer Quelle. Nur diese Fehlerklasse wird vom Fetcher erneut versucht.
type TransportError struct {
	Source string
	// StatusCode ist 0, wenn gar keine HTTP-Antwort empfangen wurde.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transport error (status %d)", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("%s: transport error: %v", e.Source, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
