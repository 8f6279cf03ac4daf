package llmjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced json", "```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around array", `Voici la liste : [{"a":1},{"a":2}] Bonne journée.`, `[{"a":1},{"a":2}]`},
		{"object containing array", `{"items":[1,2]}`, `{"items":[1,2]}`},
		{"no json", "rien", "rien"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestDecode(t *testing.T) {
	var out []map[string]any
	require.NoError(t, Decode("```json\n[{\"name\":\"Atelier\"}]\n```", &out))
	require.Len(t, out, 1)
	assert.Equal(t, "Atelier", out[0]["name"])

	assert.Error(t, Decode("   ", &out))
	assert.Error(t, Decode("[{broken", &out))
}
