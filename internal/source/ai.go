package source

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/llmjson"
	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/pkg/perplexity"
)

const aiSystemPrompt = `Tu es un assistant qui recense des réparateurs (téléphones, ordinateurs, électroménager, électronique) en France. Réponds uniquement avec un tableau JSON. Chaque élément a les clés : name, address, city, postal_code, phone, website, email, services (liste de chaînes). N'invente aucune entreprise : omets toute fiche dont tu n'es pas sûr et laisse vide tout champ inconnu.`

const aiUserPrompt = `Liste jusqu'à %d établissements correspondant à « %s » à %s (%s), département %s.`

const aiMaxResults = 15

var aiSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": "string"},
			"address":     map[string]any{"type": "string"},
			"city":        map[string]any{"type": "string"},
			"postal_code": map[string]any{"type": "string"},
			"phone":       map[string]any{"type": "string"},
			"website":     map[string]any{"type": "string"},
			"email":       map[string]any{"type": "string"},
			"services":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"name"},
	},
}

// AI asks a search-grounded language model to list repairers. It is the
// fallback source when directory providers return little; results are
// single-page.
type AI struct {
	client perplexity.Client
}

// NewAI creates an AI-generation fetcher.
func NewAI(c perplexity.Client) *AI {
	return &AI{client: c}
}

// Kind implements Fetcher.
func (a *AI) Kind() model.SourceKind { return model.SourceAI }

// Fetch implements Fetcher. An unparseable reply yields no candidates
// rather than an error, since retrying the same prompt rarely helps.
func (a *AI) Fetch(ctx context.Context, query string, sub model.SubScope, _ *Cursor) ([]model.RawCandidate, *Cursor, error) {
	temp := 0.1
	req := perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: aiSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(aiUserPrompt, aiMaxResults, query, sub.City.Name, sub.City.PostalCode, sub.City.Department)},
		},
		Temperature:    &temp,
		ResponseFormat: perplexity.JSONSchemaFormat(aiSchema),
	}

	resp, err := a.client.ChatCompletion(ctx, req)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "source: ai listing for %s", sub.Code())
	}

	var rows []map[string]any
	if err := llmjson.Decode(resp.Content(), &rows); err != nil {
		zap.L().Warn("source: unparseable ai reply",
			zap.String("component", "source"),
			zap.String("sub_scope", sub.Code()),
			zap.Error(err),
		)
		return nil, nil, nil
	}

	out := make([]model.RawCandidate, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		out = append(out, model.RawCandidate{Source: model.SourceAI, Payload: row})
	}
	return out, nil, nil
}
