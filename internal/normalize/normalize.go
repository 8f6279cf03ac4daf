// Package normalize maps raw provider records onto the canonical Candidate
// shape and provides the text folding used for identity keys.
package normalize

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/model"
)

// ErrMalformed marks a raw record that cannot become a Candidate. The record
// is dropped and processing continues.
var ErrMalformed = eris.New("normalize: malformed candidate")

var (
	postalRe = regexp.MustCompile(`\b(\d{5})\b`)
	phoneRe  = regexp.MustCompile(`(?:\+33\s?\(?0?\)?\s?|\b0)[1-9](?:[\s.\-]?\d{2}){4}\b`)
	emailRe  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	digitsRe = regexp.MustCompile(`\D`)

	// Title suffixes added by directories and search engines.
	titleSuffixRe = regexp.MustCompile(`(?i)\s*[|\-–—:]\s*(pagesjaunes|pages jaunes|facebook|instagram|google maps|yelp|tripadvisor|mappy|accueil|home)\b.*$`)
)

// Normalizer turns RawCandidates into Candidates.
type Normalizer struct {
	log *zap.Logger
}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{log: zap.L().With(zap.String("component", "normalize"))}
}

// Normalize maps raw according to source. sub, when non-nil, supplies city
// and postal code defaults for records that carry neither. A record without
// a name returns ErrMalformed; any other unmappable field is left empty.
func (n *Normalizer) Normalize(raw model.RawCandidate, source model.SourceKind, sub *model.SubScope) (model.Candidate, error) {
	if raw.Payload == nil {
		return model.Candidate{}, eris.Wrap(ErrMalformed, "empty payload")
	}

	var c model.Candidate
	switch source {
	case model.SourcePlaces:
		c = mapPlaces(raw.Payload)
	case model.SourceWebSearch:
		c = mapWebSearch(raw.Payload)
	default:
		c = mapFlat(raw.Payload)
	}
	c.Source = source

	c.Name = CollapseSpace(c.Name)
	c.RawAddress = CollapseSpace(c.RawAddress)
	if c.Name == "" {
		n.log.Debug("dropping candidate without name", zap.String("source", string(source)))
		return model.Candidate{}, eris.Wrap(ErrMalformed, "missing name")
	}

	if c.PostalCode == "" {
		c.PostalCode = ExtractPostalCode(c.RawAddress)
	}
	if c.City == "" {
		c.City = cityAfterPostal(c.RawAddress, c.PostalCode)
	}
	if sub != nil {
		if c.City == "" {
			c.City = sub.City.Name
		}
		if c.PostalCode == "" && c.City == sub.City.Name {
			c.PostalCode = sub.City.PostalCode
		}
	}
	c.City = CollapseSpace(c.City)
	c.Phone = NormalizePhone(c.Phone)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Website = strings.TrimSpace(c.Website)
	return c, nil
}

func mapPlaces(p map[string]any) model.Candidate {
	c := model.Candidate{
		ExternalID: str(p, "id", "place_id"),
		Name:       str(p, "displayName", "name"),
		RawAddress: str(p, "formattedAddress", "formatted_address"),
		City:       str(p, "locality", "city"),
		PostalCode: str(p, "postalCode", "postal_code"),
		Phone:      str(p, "nationalPhoneNumber", "internationalPhoneNumber", "phone"),
		Website:    str(p, "websiteUri", "website"),
	}
	setCoords(&c, p, []string{"location.latitude", "lat"}, []string{"location.longitude", "lng"})
	c.Services = list(p, "types")
	return c
}

func mapWebSearch(p map[string]any) model.Candidate {
	text := str(p, "description") + " " + str(p, "content")
	c := model.Candidate{
		Name:       cleanTitle(str(p, "title")),
		Website:    str(p, "url"),
		RawAddress: str(p, "address"),
		Phone:      str(p, "phone"),
		Email:      str(p, "email"),
	}
	if c.Phone == "" {
		c.Phone = phoneRe.FindString(text)
	}
	if c.Email == "" {
		c.Email = emailRe.FindString(text)
	}
	if c.RawAddress == "" {
		c.RawAddress = addressAround(text)
	}
	return c
}

// mapFlat handles AI-generated and imported rows, which use canonical keys.
func mapFlat(p map[string]any) model.Candidate {
	c := model.Candidate{
		ExternalID: str(p, "external_id", "id"),
		Name:       str(p, "name"),
		RawAddress: str(p, "address", "raw_address"),
		City:       str(p, "city"),
		PostalCode: str(p, "postal_code"),
		Phone:      str(p, "phone"),
		Website:    str(p, "website"),
		Email:      str(p, "email"),
		Services:   list(p, "services"),
	}
	setCoords(&c, p, []string{"lat", "latitude"}, []string{"lng", "lon", "longitude"})
	return c
}

func setCoords(c *model.Candidate, p map[string]any, latPaths, lngPaths []string) {
	lat, okLat := float(p, latPaths...)
	lng, okLng := float(p, lngPaths...)
	if !okLat || !okLng || (lat == 0 && lng == 0) {
		return
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return
	}
	c.Lat, c.Lng = &lat, &lng
}

// ExtractPostalCode returns the last five-digit group in s, which in French
// addresses is the code postal.
func ExtractPostalCode(s string) string {
	m := postalRe.FindAllStringSubmatch(s, -1)
	if len(m) == 0 {
		return ""
	}
	return m[len(m)-1][1]
}

// NormalizePhone rewrites French numbers as +33XXXXXXXXX. Other input is
// returned trimmed.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	d := digitsRe.ReplaceAllString(s, "")
	switch {
	case len(d) == 10 && d[0] == '0':
		return "+33" + d[1:]
	case len(d) == 11 && strings.HasPrefix(d, "33"):
		return "+" + d
	case len(d) == 12 && strings.HasPrefix(d, "330"):
		return "+33" + d[3:]
	}
	return s
}

func cityAfterPostal(addr, postal string) string {
	if postal == "" {
		return ""
	}
	i := strings.LastIndex(addr, postal)
	if i < 0 {
		return ""
	}
	rest := addr[i+len(postal):]
	if j := strings.IndexAny(rest, ",\n"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

// addressAround pulls "<street>, <postal> <city>" out of free text by taking
// the clause that contains a postal code.
func addressAround(text string) string {
	loc := postalRe.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	start := strings.LastIndexAny(text[:loc[0]], ".;|\n")
	if start < 0 {
		start = 0
	} else {
		start++
	}
	end := strings.IndexAny(text[loc[1]:], ".;|\n")
	if end < 0 {
		end = len(text)
	} else {
		end += loc[1]
	}
	return CollapseSpace(text[start:end])
}

func cleanTitle(t string) string {
	t = titleSuffixRe.ReplaceAllString(strings.TrimSpace(t), "")
	return strings.TrimSpace(t)
}
