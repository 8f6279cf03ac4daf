package classify

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/pkg/anthropic"
)

// Anthropic classifies with the Claude Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates an Anthropic backend.
func NewAnthropic(c anthropic.Client, model string, maxTokens int) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Anthropic{client: c, model: model, maxTokens: int64(maxTokens)}
}

// Name implements Classifier.
func (a *Anthropic) Name() string { return "anthropic" }

// Classify implements Classifier.
func (a *Anthropic) Classify(ctx context.Context, cs []model.Candidate, prompt string) ([]model.ClassificationResult, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	batch, err := renderBatch(cs)
	if err != nil {
		return nil, err
	}

	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      anthropic.CachedSystem(instructions(prompt)),
		Messages:    []anthropic.Message{{Role: "user", Content: batch}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "classify: anthropic message")
	}
	resp.Usage.LogCost(a.model, "classify")

	return parseVerdicts(resp.Text(), len(cs))
}
