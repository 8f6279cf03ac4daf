package classify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repairer-sync/internal/config"
	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/resilience"
	"github.com/sells-group/repairer-sync/pkg/anthropic"
	"github.com/sells-group/repairer-sync/pkg/perplexity"
)

var batch = []model.Candidate{
	{Name: "Fix Phone Paris", City: "Paris", RawAddress: "10 Rue de Rivoli", Website: "https://fixphone.fr"},
	{Name: "Annuaire des réparateurs", City: "Paris", Website: "https://pagesjaunes.fr"},
}

func TestParseVerdicts(t *testing.T) {
	reply := "```json\n" + `[
		{"index":1,"is_valid":false,"confidence":0.9},
		{"index":0,"is_valid":true,"services":["écran"],"specialties":["smartphone"],"confidence":1.4}
	]` + "\n```"
	res, err := parseVerdicts(reply, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.True(t, res[0].IsValid)
	assert.Equal(t, []string{"écran"}, res[0].Services)
	assert.Equal(t, 1.0, res[0].Confidence)
	assert.False(t, res[1].IsValid)
}

func TestParseVerdicts_Misaligned(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"missing index", `[{"index":0,"is_valid":true,"confidence":1}]`},
		{"repeated index", `[{"index":0,"is_valid":true,"confidence":1},{"index":0,"is_valid":true,"confidence":1}]`},
		{"out of range", `[{"index":0,"is_valid":true,"confidence":1},{"index":5,"is_valid":true,"confidence":1}]`},
		{"not json", `désolé`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseVerdicts(tt.reply, 2)
			assert.Error(t, err)
		})
	}
}

type fakeAnthropic struct {
	reply string
	err   error
	got   anthropic.MessageRequest
}

func (f *fakeAnthropic) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: f.reply}}}, nil
}

func TestAnthropic_Classify(t *testing.T) {
	fa := &fakeAnthropic{reply: `[{"index":0,"is_valid":true,"confidence":0.8},{"index":1,"is_valid":false,"confidence":0.7}]`}
	c := NewAnthropic(fa, "claude-haiku-4-5-20251001", 0)
	assert.Equal(t, "anthropic", c.Name())

	res, err := c.Classify(context.Background(), batch, "")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.True(t, res[0].IsValid)
	assert.False(t, res[1].IsValid)

	require.Len(t, fa.got.System, 1)
	assert.Contains(t, fa.got.System[0].Text, DefaultPrompt)
	require.NotNil(t, fa.got.System[0].CacheControl)
	assert.Equal(t, int64(4096), fa.got.MaxTokens)
	assert.Contains(t, fa.got.Messages[0].Content, "Fix Phone Paris")
}

func TestAnthropic_Empty(t *testing.T) {
	fa := &fakeAnthropic{}
	res, err := NewAnthropic(fa, "m", 10).Classify(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, fa.got.Messages)
}

type fakePerplexity struct {
	reply string
	err   error
	got   perplexity.ChatCompletionRequest
}

func (f *fakePerplexity) ChatCompletion(_ context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &perplexity.ChatCompletionResponse{Choices: []perplexity.Choice{{Message: perplexity.Message{Content: f.reply}}}}, nil
}

func TestPerplexity_Classify(t *testing.T) {
	fp := &fakePerplexity{reply: `[{"index":0,"is_valid":true,"confidence":0.6},{"index":1,"is_valid":true,"confidence":0.6}]`}
	c := NewPerplexity(fp)
	assert.Equal(t, "perplexity", c.Name())

	res, err := c.Classify(context.Background(), batch, "Seulement les réparateurs de vélos.")
	require.NoError(t, err)
	assert.Len(t, res, 2)
	assert.Contains(t, fp.got.Messages[0].Content, "vélos")
	require.NotNil(t, fp.got.ResponseFormat)
	assert.Equal(t, "json_schema", fp.got.ResponseFormat.Type)
}

func TestRules_Default(t *testing.T) {
	r, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, "rules", r.Name())

	res, err := r.Classify(context.Background(), []model.Candidate{
		{Name: "Atelier Réparation iPhone", Services: []string{"changement écran", "batterie"}},
		{Name: "Annuaire des pros", Website: "https://pagesjaunes.fr"},
		{Name: "Chez Paulette"},
		{Name: "PCB Industrie"},
	}, "ignored")
	require.NoError(t, err)
	require.Len(t, res, 4)

	assert.True(t, res[0].IsValid)
	assert.Equal(t, 1.0, res[0].Confidence)
	assert.Equal(t, []string{"batterie", "ecran"}, res[0].Services)
	assert.Equal(t, []string{"smartphone"}, res[0].Specialties)

	assert.False(t, res[1].IsValid)

	assert.True(t, res[2].IsValid)
	assert.Equal(t, 0.5, res[2].Confidence)

	// "pc" must not match inside "pcb".
	assert.Empty(t, res[3].Specialties)
}

func TestLoadRules_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("valid_keywords: [vélo]\nspecialties:\n  cycle: [Vélo, trottinette]\n"), 0o600))

	r, err := LoadRules(path)
	require.NoError(t, err)
	res, err := r.Classify(context.Background(), []model.Candidate{{Name: "Répar'Vélo"}}, "")
	require.NoError(t, err)
	assert.True(t, res[0].IsValid)
	assert.Equal(t, []string{"cycle"}, res[0].Specialties)

	_, err = LoadRules(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("invalid_keywords: [x]\n"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("valid_keywords: [unterminated"))
	assert.Error(t, err)
}

func TestGuarded_FailuresBecomeUnavailable(t *testing.T) {
	fp := &fakePerplexity{err: resilience.NewTransientError(errors.New("503"), 503)}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	g := NewGuarded(NewPerplexity(fp), breaker, time.Second)
	assert.Equal(t, "perplexity", g.Name())

	for i := 0; i < 2; i++ {
		_, err := g.Classify(context.Background(), batch, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, resilience.CircuitOpen, breaker.State())

	// Once open, the backend is not called at all.
	fp.got = perplexity.ChatCompletionRequest{}
	_, err := g.Classify(context.Background(), batch, "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, fp.got.Messages)
}

func TestGuarded_Success(t *testing.T) {
	fp := &fakePerplexity{reply: `[{"index":0,"is_valid":true,"confidence":0.9},{"index":1,"is_valid":false,"confidence":0.9}]`}
	g := NewGuarded(NewPerplexity(fp), resilience.NewCircuitBreaker(resilience.DefaultCircuitConfig()), 0)
	res, err := g.Classify(context.Background(), batch, "")
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{}
	c, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, c)

	cfg.Classify.Enabled = true
	cfg.Classify.Provider = "rules"
	c, err = FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "rules", c.Name())

	cfg.Classify.Provider = "perplexity"
	cfg.Perplexity.Key = "k"
	c, err = FromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Guarded{}, c)

	cfg.Classify.Provider = "anthropic"
	cfg.Anthropic.Key = "k"
	c, err = FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())

	cfg.Classify.Provider = "oracle"
	_, err = FromConfig(cfg)
	assert.Error(t, err)

	cfg.Classify.Provider = "rules"
	cfg.Classify.RulesPath = "/nonexistent/rules.yaml"
	c, err = FromConfig(cfg)
	assert.Error(t, err)
	assert.Nil(t, c)
}
