package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractDataFile extracts the one data file of an open-data archive into
// destDir and returns its path. Directories, macOS resource forks and
// dotfiles are ignored. When exts is given, only entries with one of those
// extensions count, so a README next to the export does not get in the way.
// Exactly one entry must remain.
func ExtractDataFile(zipPath, destDir string, exts ...string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var picked []*zip.File
	for _, f := range r.File {
		if dataEntry(f, exts) {
			picked = append(picked, f)
		}
	}
	if len(picked) != 1 {
		return "", eris.Errorf("zip: expected exactly 1 data file, got %d", len(picked))
	}
	return extractEntry(picked[0], destDir)
}

func dataEntry(f *zip.File, exts []string) bool {
	if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
		return false
	}
	base := path.Base(f.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if len(exts) == 0 {
		return true
	}
	return slices.Contains(exts, strings.ToLower(strings.TrimPrefix(path.Ext(base), ".")))
}

// extractEntry writes f under destDir, refusing names that escape it.
func extractEntry(f *zip.File, destDir string) (string, error) {
	dest := filepath.Join(destDir, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(filepath.Clean(dest), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: entry %q escapes the extraction directory", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrapf(err, "zip: open entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return "", eris.Wrapf(err, "zip: write %s", dest)
	}
	return dest, eris.Wrap(out.Close(), "zip: close file")
}
