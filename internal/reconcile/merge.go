package reconcile

import (
	"slices"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/normalize"
)

// Completeness scores how much of a candidate is populated: one point per
// non-empty descriptive field, one for coordinates and one for a
// classification verdict.
func Completeness(c model.Candidate) int {
	n := 0
	for _, s := range []string{c.Name, c.RawAddress, c.City, c.PostalCode, c.Phone, c.Website, c.Email} {
		if s != "" {
			n++
		}
	}
	if len(c.Services) > 0 {
		n++
	}
	if c.HasCoordinates() {
		n++
	}
	if c.Classified() {
		n++
	}
	return n
}

// RecordCompleteness scores a stored record on the same scale.
func RecordCompleteness(r *model.PersistedRecord) int {
	return Completeness(r.Candidate)
}

// Merge overlays in onto a copy of stored. Non-empty incoming values win,
// empty ones never clear a stored value. List fields are unioned. The record
// id is preserved and the identity key is recomputed from the merged name,
// city and address. An external id is adopted only when the stored record
// has none.
func Merge(stored *model.PersistedRecord, in model.Candidate) *model.PersistedRecord {
	out := *stored
	out.Services = slices.Clone(stored.Services)
	out.Specialties = slices.Clone(stored.Specialties)

	overlay(&out.Name, in.Name)
	overlay(&out.RawAddress, in.RawAddress)
	overlay(&out.City, in.City)
	overlay(&out.PostalCode, in.PostalCode)
	overlay(&out.Phone, in.Phone)
	overlay(&out.Website, in.Website)
	overlay(&out.Email, in.Email)

	if in.HasCoordinates() {
		lat, lng := *in.Lat, *in.Lng
		out.Lat, out.Lng = &lat, &lng
	}
	if in.Classified() {
		conf := *in.ClassificationConfidence
		out.ClassificationConfidence = &conf
		if in.IsValid != nil {
			valid := *in.IsValid
			out.IsValid = &valid
		}
	}
	out.Services = union(out.Services, in.Services)
	out.Specialties = union(out.Specialties, in.Specialties)

	if stored.ExternalID == "" && in.ExternalID != "" {
		out.ExternalID = in.ExternalID
		out.ExternalSource = in.Source
	}
	out.IdentityKey = normalize.IdentityKey(out.Name, out.City, out.RawAddress)
	return &out
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func union(a, b []string) []string {
	for _, s := range b {
		if s != "" && !slices.Contains(a, s) {
			a = append(a, s)
		}
	}
	return a
}
