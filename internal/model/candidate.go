package model

import "time"

// SourceKind identifies where a candidate came from.
type SourceKind string

const (
	SourcePlaces    SourceKind = "places"
	SourceWebSearch SourceKind = "websearch"
	SourceAI        SourceKind = "ai"
	SourceImport    SourceKind = "import"
)

// ParseSourceKind validates a live-scrape source name.
func ParseSourceKind(s string) (SourceKind, bool) {
	switch k := SourceKind(s); k {
	case SourcePlaces, SourceWebSearch, SourceAI:
		return k, true
	}
	return "", false
}

// RawCandidate is a provider record in whatever shape the provider returned.
type RawCandidate struct {
	Source  SourceKind     `json:"source"`
	Payload map[string]any `json:"payload"`
}

// Candidate is a normalized record prior to persistence.
type Candidate struct {
	Source                   SourceKind `json:"source"`
	ExternalID               string     `json:"external_id,omitempty"`
	Name                     string     `json:"name"`
	RawAddress               string     `json:"raw_address"`
	City                     string     `json:"city"`
	PostalCode               string     `json:"postal_code"`
	Phone                    string     `json:"phone,omitempty"`
	Website                  string     `json:"website,omitempty"`
	Email                    string     `json:"email,omitempty"`
	Lat                      *float64   `json:"lat,omitempty"`
	Lng                      *float64   `json:"lng,omitempty"`
	Services                 []string   `json:"services,omitempty"`
	Specialties              []string   `json:"specialties,omitempty"`
	ClassificationConfidence *float64   `json:"classification_confidence,omitempty"`
	IsValid                  *bool      `json:"is_valid,omitempty"`
}

// HasCoordinates reports whether both coordinates are set.
func (c Candidate) HasCoordinates() bool { return c.Lat != nil && c.Lng != nil }

// Classified reports whether a classifier produced a verdict for c.
func (c Candidate) Classified() bool { return c.ClassificationConfidence != nil }

// PersistedRecord is the canonical stored repairer.
type PersistedRecord struct {
	ID          int64  `json:"id"`
	IdentityKey string `json:"identity_key"`
	Candidate
	// ExternalSource is the source that issued ExternalID. It can differ
	// from Source once a record has been merged across providers.
	ExternalSource SourceKind `json:"external_source,omitempty"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ClassificationResult is the classifier verdict for one candidate.
type ClassificationResult struct {
	IsValid     bool     `json:"is_valid"`
	Services    []string `json:"services"`
	Specialties []string `json:"specialties"`
	Confidence  float64  `json:"confidence"`
}

// Apply copies the verdict onto c.
func (r ClassificationResult) Apply(c *Candidate) {
	valid := r.IsValid
	conf := r.Confidence
	c.IsValid = &valid
	c.ClassificationConfidence = &conf
	if len(r.Services) > 0 {
		c.Services = mergeStrings(c.Services, r.Services)
	}
	if len(r.Specialties) > 0 {
		c.Specialties = mergeStrings(c.Specialties, r.Specialties)
	}
}

// MergeDecision is the outcome of reconciling a candidate.
type MergeDecision string

const (
	DecisionInsert MergeDecision = "insert"
	DecisionUpdate MergeDecision = "update"
	DecisionSkip   MergeDecision = "skip"
)

func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
