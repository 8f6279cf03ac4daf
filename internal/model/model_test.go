package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		in   string
		want Scope
	}{
		{"nation", Scope{Kind: KindNation, Code: "FR"}},
		{" France ", Scope{Kind: KindNation, Code: "FR"}},
		{"region:11", Scope{Kind: KindRegion, Code: "11"}},
		{"department:75", Scope{Kind: KindDepartment, Code: "75"}},
		{"dept:2a", Scope{Kind: KindDepartment, Code: "2A"}},
		{"city:75-paris", Scope{Kind: KindCity, Code: "75-paris"}},
	}
	for _, tt := range tests {
		got, err := ParseScope(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "region", "region:", "planet:3"} {
		_, err := ParseScope(bad)
		assert.Error(t, err, bad)
	}
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "nation", Scope{Kind: KindNation, Code: "FR"}.String())
	assert.Equal(t, "department:75", Scope{Kind: KindDepartment, Code: "75"}.String())
}

func TestParseJobModeAndSource(t *testing.T) {
	m, ok := ParseJobMode("")
	assert.True(t, ok)
	assert.Equal(t, ModeFull, m)
	m, ok = ParseJobMode("test")
	assert.True(t, ok)
	assert.Equal(t, ModeTest, m)
	_, ok = ParseJobMode("dry")
	assert.False(t, ok)

	k, ok := ParseSourceKind("places")
	assert.True(t, ok)
	assert.Equal(t, SourcePlaces, k)
	_, ok = ParseSourceKind("import")
	assert.False(t, ok)
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobStopped.Terminal())
	assert.True(t, JobFailed.Terminal())
}

func TestJobStatusReportSummarize(t *testing.T) {
	r := JobStatusReport{SubScopes: []SubScopeProgress{
		{Status: SubScopeDone, Counts: Counts{Fetched: 10, Added: 4, Updated: 3, Skipped: 3}},
		{Status: SubScopeErrored, Error: "timeout"},
		{Status: SubScopeDone, Counts: Counts{Fetched: 2, Added: 2}},
		{Status: SubScopePending},
	}}
	r.Summarize()
	assert.Equal(t, Counts{Fetched: 12, Added: 6, Updated: 3, Skipped: 3}, r.Totals)
	assert.Equal(t, 2, r.Done)
	assert.Equal(t, 1, r.Pending)
	assert.Equal(t, 1, r.ErrorCount)
}

func TestClassificationApply(t *testing.T) {
	c := Candidate{Services: []string{"ecran"}}
	ClassificationResult{IsValid: false, Services: []string{"batterie", "ecran"}, Specialties: []string{"apple"}, Confidence: 0.8}.Apply(&c)

	require.NotNil(t, c.IsValid)
	assert.False(t, *c.IsValid)
	assert.True(t, c.Classified())
	assert.InDelta(t, 0.8, *c.ClassificationConfidence, 1e-9)
	assert.Equal(t, []string{"ecran", "batterie"}, c.Services)
	assert.Equal(t, []string{"apple"}, c.Specialties)
}
