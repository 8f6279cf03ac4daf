package model

import (
	"fmt"
	"strings"
)

// ScopeKind is the level of a geographic scope.
type ScopeKind string

const (
	KindCity       ScopeKind = "city"
	KindDepartment ScopeKind = "department"
	KindRegion     ScopeKind = "region"
	KindNation     ScopeKind = "nation"
)

// Scope is a geographic unit to search. ParentCodes lists enclosing units
// from the nearest up, e.g. a city has [department, region].
type Scope struct {
	Kind        ScopeKind `json:"kind"`
	Code        string    `json:"code"`
	ParentCodes []string  `json:"parent_codes,omitempty"`
}

// String renders the scope in the "kind:code" form accepted by ParseScope.
func (s Scope) String() string {
	if s.Kind == KindNation {
		return string(KindNation)
	}
	return string(s.Kind) + ":" + s.Code
}

// ParseScope parses "nation", "region:11", "department:75" (or "dept:75")
// and "city:75-paris". Codes are validated against reference data by the
// scope package, not here.
func ParseScope(s string) (Scope, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "nation" || s == "fr" || s == "france" {
		return Scope{Kind: KindNation, Code: "FR"}, nil
	}
	kind, code, ok := strings.Cut(s, ":")
	code = strings.TrimSpace(code)
	if !ok || code == "" {
		return Scope{}, fmt.Errorf("model: invalid scope %q", s)
	}
	switch kind {
	case "region", "reg":
		return Scope{Kind: KindRegion, Code: code}, nil
	case "department", "dept", "dep":
		return Scope{Kind: KindDepartment, Code: strings.ToUpper(code)}, nil
	case "city":
		return Scope{Kind: KindCity, Code: code}, nil
	}
	return Scope{}, fmt.Errorf("model: unknown scope kind %q", kind)
}

// City is one entry of the static city reference table.
type City struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Department string  `json:"department"`
	PostalCode string  `json:"postal_code,omitempty"`
	Lat        float64 `json:"lat,omitempty"`
	Lng        float64 `json:"lng,omitempty"`
}

// SubScope is an atomic, city-level unit of search work.
type SubScope struct {
	Scope Scope `json:"scope"`
	City  City  `json:"city"`
}

// Code returns the sub-scope's city code.
func (s SubScope) Code() string { return s.Scope.Code }
