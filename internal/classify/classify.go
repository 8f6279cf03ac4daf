// Package classify decides whether candidates are genuine repair businesses
// and tags their services. Backends are interchangeable behind Classifier.
package classify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/llmjson"
	"github.com/sells-group/repairer-sync/internal/model"
)

// ErrUnavailable is the ClassifierUnavailable condition. Callers let the
// batch through unclassified.
var ErrUnavailable = eris.New("classify: classifier unavailable")

// DefaultPrompt is the instruction used when none is configured.
const DefaultPrompt = `Garde uniquement les entreprises qui réparent des appareils (téléphones, tablettes, ordinateurs, consoles, électroménager). Les revendeurs sans atelier, annuaires, articles et pages de marques sont invalides.`

// Classifier returns one result per candidate, aligned by index.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, candidates []model.Candidate, prompt string) ([]model.ClassificationResult, error)
}

const systemPrompt = `Tu classes des fiches d'entreprises françaises. Pour chaque fiche reçue, réponds par un tableau JSON dont chaque élément a les clés : index (entier, celui de la fiche), is_valid (booléen), services (liste de chaînes courtes en français, ex. "écran", "batterie"), specialties (liste, ex. "smartphone", "ordinateur"), confidence (0.0 à 1.0). Réponds uniquement avec le tableau JSON.

Consigne :
`

type batchItem struct {
	Index    int      `json:"index"`
	Name     string   `json:"name"`
	Address  string   `json:"address,omitempty"`
	City     string   `json:"city,omitempty"`
	Website  string   `json:"website,omitempty"`
	Services []string `json:"services,omitempty"`
}

type verdict struct {
	Index       int      `json:"index"`
	IsValid     bool     `json:"is_valid"`
	Services    []string `json:"services"`
	Specialties []string `json:"specialties"`
	Confidence  float64  `json:"confidence"`
}

var verdictSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"index":       map[string]any{"type": "integer"},
			"is_valid":    map[string]any{"type": "boolean"},
			"services":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"specialties": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"confidence":  map[string]any{"type": "number"},
		},
		"required": []string{"index", "is_valid", "confidence"},
	},
}

func instructions(prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	return systemPrompt + prompt
}

// renderBatch serializes the fields a model needs to judge each candidate.
func renderBatch(cs []model.Candidate) (string, error) {
	items := make([]batchItem, len(cs))
	for i, c := range cs {
		items[i] = batchItem{
			Index:    i,
			Name:     c.Name,
			Address:  c.RawAddress,
			City:     c.City,
			Website:  c.Website,
			Services: c.Services,
		}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", eris.Wrap(err, "classify: encode batch")
	}
	return string(b), nil
}

// parseVerdicts decodes a model reply and aligns it to a batch of n. Every
// index must be answered exactly once.
func parseVerdicts(reply string, n int) ([]model.ClassificationResult, error) {
	var vs []verdict
	if err := llmjson.Decode(reply, &vs); err != nil {
		return nil, err
	}
	out := make([]model.ClassificationResult, n)
	seen := make([]bool, n)
	for _, v := range vs {
		if v.Index < 0 || v.Index >= n || seen[v.Index] {
			return nil, eris.Errorf("classify: reply index %d out of range or repeated", v.Index)
		}
		seen[v.Index] = true
		out[v.Index] = model.ClassificationResult{
			IsValid:     v.IsValid,
			Services:    v.Services,
			Specialties: v.Specialties,
			Confidence:  clamp01(v.Confidence),
		}
	}
	for i, ok := range seen {
		if !ok {
			return nil, eris.Errorf("classify: reply is missing index %d", i)
		}
	}
	return out, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
