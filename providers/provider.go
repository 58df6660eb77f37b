package providers

import (
	"context"
	"errors"

	"auto-scholar/models"
)

// ErrUnsupportedSource wird zurückgegeben, wenn eine unbekannte Quelle
// angefragt wird. Der Fehler ist nicht retry-fähig.
var ErrUnsupportedSource = errors.New("unsupported paper source")

// Provider ist das Interface, das jede Paper-Quelle (z.B. Hugging Face)
// implementieren muss.
type Provider interface {
	// Fetch holt die Paper-Liste einer Quelle, optional gefiltert auf ein
	// Datum im Format YYYY-MM-DD. Die Ergebnisse sind normalisierte
	// Paper-Modelle mit Status NEW.
	Fetch(ctx context.Context, date string) ([]*models.Paper, error)

	// Name gibt den eindeutigen Namen der Quelle zurück (z.B. "huggingface").
	Name() string
}
