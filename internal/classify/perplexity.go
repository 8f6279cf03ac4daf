package classify

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/pkg/perplexity"
)

// Perplexity classifies with a Perplexity chat completion constrained to
// the verdict JSON schema.
type Perplexity struct {
	client perplexity.Client
}

// NewPerplexity creates a Perplexity backend.
func NewPerplexity(c perplexity.Client) *Perplexity {
	return &Perplexity{client: c}
}

// Name implements Classifier.
func (p *Perplexity) Name() string { return "perplexity" }

// Classify implements Classifier.
func (p *Perplexity) Classify(ctx context.Context, cs []model.Candidate, prompt string) ([]model.ClassificationResult, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	batch, err := renderBatch(cs)
	if err != nil {
		return nil, err
	}

	temp := 0.0
	resp, err := p.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: instructions(prompt)},
			{Role: "user", Content: batch},
		},
		Temperature:    &temp,
		ResponseFormat: perplexity.JSONSchemaFormat(verdictSchema),
	})
	if err != nil {
		return nil, eris.Wrap(err, "classify: perplexity completion")
	}
	return parseVerdicts(resp.Content(), len(cs))
}
