package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZIP(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range entries {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractDataFile(t *testing.T) {
	zipPath := writeZIP(t, map[string]string{
		"data/":                     "",
		"data/shops.csv":            "nom;ville\nFix;Lyon\n",
		"__MACOSX/data/._shops.csv": "junk",
		"data/.DS_Store":            "junk",
	})
	dest := t.TempDir()

	got, err := ExtractDataFile(zipPath, dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "data", "shops.csv"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "nom;ville\nFix;Lyon\n", string(data))
}

func TestExtractDataFile_FiltersByExtension(t *testing.T) {
	zipPath := writeZIP(t, map[string]string{
		"README.md":       "Export des réparateurs",
		"reparateurs.CSV": "nom\nFix\n",
	})
	dest := t.TempDir()

	got, err := ExtractDataFile(zipPath, dest, "csv", "xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "reparateurs.CSV"), got)

	_, err = ExtractDataFile(zipPath, t.TempDir())
	assert.ErrorContains(t, err, "expected exactly 1 data file, got 2")
}

func TestExtractDataFile_MultipleFiles(t *testing.T) {
	zipPath := writeZIP(t, map[string]string{"a.csv": "a", "b.csv": "b"})
	_, err := ExtractDataFile(zipPath, t.TempDir(), "csv")
	assert.ErrorContains(t, err, "expected exactly 1 data file, got 2")
}

func TestExtractDataFile_EscapingEntry(t *testing.T) {
	zipPath := writeZIP(t, map[string]string{"../evil.csv": "x"})
	dest := t.TempDir()
	_, err := ExtractDataFile(zipPath, dest)
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil.csv"))
}

func TestExtractDataFile_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := ExtractDataFile(path, t.TempDir())
	assert.ErrorContains(t, err, "zip: open archive")
}
