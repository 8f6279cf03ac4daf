package importer

import (
	"maps"
	"slices"
	"strings"

	"github.com/sells-group/repairer-sync/internal/normalize"
)

// aliases maps folded column headers to the flat payload keys the
// normalizer reads.
var aliases = map[string]string{
	"name":           "name",
	"nom":            "name",
	"raison_sociale": "name",
	"enseigne":       "name",

	"address":     "address",
	"adresse":     "address",
	"raw_address": "address",

	"city":    "city",
	"ville":   "city",
	"commune": "city",

	"postal_code": "postal_code",
	"code_postal": "postal_code",
	"cp":          "postal_code",
	"zip":         "postal_code",

	"phone":     "phone",
	"telephone": "phone",
	"tel":       "phone",

	"website":  "website",
	"site":     "website",
	"site_web": "website",
	"url":      "website",

	"email":  "email",
	"e_mail": "email",
	"mail":   "email",

	"lat":      "lat",
	"latitude": "lat",

	"lng":       "lng",
	"lon":       "lng",
	"longitude": "lng",

	"external_id": "external_id",
	"id":          "external_id",

	"services":    "services",
	"prestations": "services",
}

// Canonical returns the payload key for a column header, or "" when the
// column is not imported. Matching ignores case, accents and punctuation, so
// "Code Postal" and "Téléphone" resolve.
func Canonical(header string) string {
	return aliases[strings.ReplaceAll(normalize.Fold(header), " ", "_")]
}

// header is the resolved column layout of a tabular file.
type header []string

func resolveHeader(cells []string) (header, bool) {
	h := make(header, len(cells))
	seen := make(map[string]bool, len(cells))
	hasName := false
	for i, c := range cells {
		key := Canonical(c)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		h[i] = key
		hasName = hasName || key == "name"
	}
	return h, hasName
}

// payload maps one data row through h. Empty cells are left out; a row with
// no mapped value returns nil.
func (h header) payload(cells []string) map[string]any {
	p := make(map[string]any, len(h))
	for i, key := range h {
		if key == "" || i >= len(cells) {
			continue
		}
		if v := strings.TrimSpace(cells[i]); v != "" {
			p[key] = v
		}
	}
	if len(p) == 0 {
		return nil
	}
	return p
}

// aliasPayload renames the keys of a record that already has structure
// (JSON object, Notion row). Unknown keys are dropped; when two keys alias
// the same field the one sorting first wins.
func aliasPayload(rec map[string]any) map[string]any {
	p := make(map[string]any, len(rec))
	for _, k := range slices.Sorted(maps.Keys(rec)) {
		v := rec[k]
		key := Canonical(k)
		if key == "" {
			continue
		}
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			v = s
		}
		if v == nil {
			continue
		}
		if _, dup := p[key]; !dup {
			p[key] = v
		}
	}
	return p
}
