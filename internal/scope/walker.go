package scope

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/model"
)

// ErrUnknownScope is returned for codes absent from the reference table.
var ErrUnknownScope = eris.New("scope: unknown scope")

// Walker expands scopes into city-level sub-scopes. Expansion is a pure
// function of the reference table, so the same scope always yields the same
// order and a resumed job lines up with its stored progress rows.
type Walker struct {
	ref *Reference
}

// NewWalker creates a Walker over ref.
func NewWalker(ref *Reference) *Walker {
	return &Walker{ref: ref}
}

// Reference exposes the underlying table.
func (w *Walker) Reference() *Reference { return w.ref }

// Resolve validates s against the reference table and fills ParentCodes.
func (w *Walker) Resolve(s model.Scope) (model.Scope, error) {
	switch s.Kind {
	case model.KindNation:
		return model.Scope{Kind: model.KindNation, Code: "FR"}, nil
	case model.KindRegion:
		if _, ok := w.ref.Region(s.Code); !ok {
			return s, eris.Wrapf(ErrUnknownScope, "region %s", s.Code)
		}
		return model.Scope{Kind: model.KindRegion, Code: s.Code, ParentCodes: []string{"FR"}}, nil
	case model.KindDepartment:
		d, ok := w.ref.Department(s.Code)
		if !ok {
			return s, eris.Wrapf(ErrUnknownScope, "department %s", s.Code)
		}
		return model.Scope{Kind: model.KindDepartment, Code: d.Code, ParentCodes: []string{d.Region, "FR"}}, nil
	case model.KindCity:
		c, ok := w.ref.City(s.Code)
		if !ok {
			return s, eris.Wrapf(ErrUnknownScope, "city %s", s.Code)
		}
		return w.cityScope(c), nil
	}
	return s, eris.Wrapf(ErrUnknownScope, "kind %q", s.Kind)
}

// Expand returns the ordered, duplicate-free list of city sub-scopes of s.
// Nation walks regions by code, a region walks its departments by code and
// a department walks its cities in table order.
func (w *Walker) Expand(s model.Scope) ([]model.SubScope, error) {
	s, err := w.Resolve(s)
	if err != nil {
		return nil, err
	}

	switch s.Kind {
	case model.KindCity:
		c, _ := w.ref.City(s.Code)
		return []model.SubScope{{Scope: s, City: c}}, nil
	case model.KindDepartment:
		return w.expandDepartment(s.Code), nil
	case model.KindRegion:
		return w.expandRegion(s.Code), nil
	default:
		var out []model.SubScope
		for _, r := range w.ref.regions {
			out = append(out, w.expandRegion(r.Code)...)
		}
		return out, nil
	}
}

// DepartmentsOf lists the department codes of a region in expansion order.
func (w *Walker) DepartmentsOf(region string) []string {
	var codes []string
	for _, d := range w.ref.departments {
		if d.Region == region {
			codes = append(codes, d.Code)
		}
	}
	return codes
}

func (w *Walker) expandRegion(region string) []model.SubScope {
	var out []model.SubScope
	for _, dept := range w.DepartmentsOf(region) {
		out = append(out, w.expandDepartment(dept)...)
	}
	return out
}

func (w *Walker) expandDepartment(dept string) []model.SubScope {
	cities := w.ref.cities[strings.ToUpper(dept)]
	out := make([]model.SubScope, 0, len(cities))
	for _, c := range cities {
		out = append(out, model.SubScope{Scope: w.cityScope(c), City: c})
	}
	return out
}

func (w *Walker) cityScope(c model.City) model.Scope {
	d := w.ref.deptByCode[c.Department]
	return model.Scope{Kind: model.KindCity, Code: c.Code, ParentCodes: []string{d.Code, d.Region}}
}

// Policy bounds the volume of a run. Zero fields mean unbounded.
type Policy struct {
	MaxSubScopes int
	MaxQueries   int
}

// PolicyFor returns the volume policy for a job mode. Full runs are
// unbounded; test runs keep the first testCities sub-scopes and the first
// testQueries queries.
func PolicyFor(mode model.JobMode, testCities, testQueries int) Policy {
	if mode != model.ModeTest {
		return Policy{}
	}
	return Policy{MaxSubScopes: max(testCities, 1), MaxQueries: max(testQueries, 1)}
}

// SubScopes truncates subs to the policy's prefix.
func (p Policy) SubScopes(subs []model.SubScope) []model.SubScope {
	if p.MaxSubScopes > 0 && len(subs) > p.MaxSubScopes {
		return subs[:p.MaxSubScopes]
	}
	return subs
}

// Queries truncates queries to the policy's prefix.
func (p Policy) Queries(queries []string) []string {
	if p.MaxQueries > 0 && len(queries) > p.MaxQueries {
		return queries[:p.MaxQueries]
	}
	return queries
}
