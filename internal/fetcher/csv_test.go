package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T) func(rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	return func(rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
		var rows [][]string
		for row := range rowCh {
			rows = append(rows, row)
		}
		for err := range errCh {
			if err != nil {
				return rows, err
			}
		}
		return rows, nil
	}
}

func TestStreamCSV_SniffsDelimiter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"comma", "nom,ville,cp\nFix,Lyon,69001\n", []string{"Fix", "Lyon", "69001"}},
		{"semicolon", "nom;ville;cp\nFix, Répar;Lyon;69001\n", []string{"Fix, Répar", "Lyon", "69001"}},
		{"tab", "nom\tville\nFix\tLyon\n", []string{"Fix", "Lyon"}},
		{"pipe", "nom|ville\nFix|Lyon\n", []string{"Fix", "Lyon"}},
		{"single column", "nom\nFix\n", []string{"Fix"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := collectRows(t)(StreamCSV(context.Background(), strings.NewReader(tt.input), CSVOptions{}))
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, tt.want, rows[1])
		})
	}
}

func TestStreamCSV_ExplicitDelimiter(t *testing.T) {
	input := "a;b|c\n1;2|3\n"
	rows, err := collectRows(t)(StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{Delimiter: '|'}))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a;b", "c"}, {"1;2", "3"}}, rows)
}

func TestStreamCSV_StripsBOM(t *testing.T) {
	input := "\xEF\xBB\xBFnom;ville\nFix;Lyon\n"
	rows, err := collectRows(t)(StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"nom", "ville"}, rows[0])
}

func TestStreamCSV_TrimSpaceAndComments(t *testing.T) {
	input := "# export\n nom , ville \n Fix , Lyon \n"
	rows, err := collectRows(t)(StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: ',',
		Comment:   '#',
		TrimSpace: true,
	}))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"nom", "ville"}, {"Fix", "Lyon"}}, rows)
}

func TestStreamCSV_VariableFields(t *testing.T) {
	input := "a,b,c\n1,2\n"
	rows, err := collectRows(t)(StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, rows[1])
}

func TestStreamCSV_BadQuote(t *testing.T) {
	input := "a,b\n\"unterminated,2\n"
	_, err := collectRows(t)(StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{}))
	assert.ErrorContains(t, err, "csv: read row")
}

func TestStreamCSV_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("a,b,c\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := collectRows(t)(StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{}))
	assert.ErrorContains(t, err, "context cancelled")
}

func TestStreamCSV_Empty(t *testing.T) {
	rows, err := collectRows(t)(StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{}))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
