// Package scope holds the static French administrative reference table
// (regions, departments, cities) and expands a requested scope into the
// ordered list of city-level sub-scopes a job iterates.
package scope

import (
	"embed"
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/normalize"
)

//go:embed data/*.tsv
var dataFS embed.FS

// Region is a French administrative region.
type Region struct {
	Code string
	Name string
}

// Department is a French department and the region it belongs to.
type Department struct {
	Code   string
	Name   string
	Region string
}

// Reference is the immutable lookup table behind a Walker.
type Reference struct {
	regions     []Region
	departments []Department
	deptByCode  map[string]Department
	regionByID  map[string]Region
	cities      map[string][]model.City
	cityByCode  map[string]model.City
}

// Regions returns all regions ordered by code.
func (r *Reference) Regions() []Region { return append([]Region(nil), r.regions...) }

// Departments returns all departments ordered by code.
func (r *Reference) Departments() []Department {
	return append([]Department(nil), r.departments...)
}

// Department looks up a department by code.
func (r *Reference) Department(code string) (Department, bool) {
	d, ok := r.deptByCode[strings.ToUpper(code)]
	return d, ok
}

// Region looks up a region by code.
func (r *Reference) Region(code string) (Region, bool) {
	reg, ok := r.regionByID[code]
	return reg, ok
}

// City looks up a city by code.
func (r *Reference) City(code string) (model.City, bool) {
	c, ok := r.cityByCode[strings.ToLower(code)]
	return c, ok
}

// CitiesOf returns the cities of a department in table order.
func (r *Reference) CitiesOf(dept string) []model.City {
	return append([]model.City(nil), r.cities[strings.ToUpper(dept)]...)
}

// CityCount returns the total number of cities in the table.
func (r *Reference) CityCount() int { return len(r.cityByCode) }

// CityCode builds the "<dept>-<slug>" code used for city scopes.
func CityCode(dept, name string) string {
	return strings.ToLower(dept) + "-" + normalize.Slug(name)
}

// Builtin returns the embedded reference table: every region and department,
// with each department's prefecture first followed by other large cities.
func Builtin() (*Reference, error) {
	ref := &Reference{}
	if err := ref.loadBase(); err != nil {
		return nil, err
	}

	depts, err := readTSV("data/departments.tsv")
	if err != nil {
		return nil, err
	}
	var cities []model.City
	for _, row := range depts {
		cities = append(cities, model.City{
			Code:       CityCode(row["code"], row["prefecture"]),
			Name:       row["prefecture"],
			Department: row["code"],
			PostalCode: row["postal_code"],
		})
	}
	extra, err := readTSV("data/cities_extra.tsv")
	if err != nil {
		return nil, err
	}
	for _, row := range extra {
		cities = append(cities, model.City{
			Code:       CityCode(row["department"], row["name"]),
			Name:       row["name"],
			Department: row["department"],
			PostalCode: row["postal_code"],
		})
	}
	if err := ref.setCities(cities); err != nil {
		return nil, err
	}
	return ref, nil
}

// WithCities returns the built-in regions and departments with the city list
// replaced, e.g. by a full commune table produced by LoadCommunes.
func WithCities(cities []model.City) (*Reference, error) {
	ref := &Reference{}
	if err := ref.loadBase(); err != nil {
		return nil, err
	}
	if err := ref.setCities(cities); err != nil {
		return nil, err
	}
	return ref, nil
}

// Load returns the built-in reference, or one using the city file at
// citiesPath when it is non-empty.
func Load(citiesPath string) (*Reference, error) {
	if citiesPath == "" {
		return Builtin()
	}
	f, err := os.Open(citiesPath)
	if err != nil {
		return nil, eris.Wrapf(err, "scope: open cities file %s", citiesPath)
	}
	defer f.Close() //nolint:errcheck

	cities, err := ReadCities(f)
	if err != nil {
		return nil, err
	}
	return WithCities(cities)
}

func (r *Reference) loadBase() error {
	regions, err := readTSV("data/regions.tsv")
	if err != nil {
		return err
	}
	r.regionByID = make(map[string]Region, len(regions))
	for _, row := range regions {
		reg := Region{Code: row["code"], Name: row["name"]}
		r.regions = append(r.regions, reg)
		r.regionByID[reg.Code] = reg
	}

	depts, err := readTSV("data/departments.tsv")
	if err != nil {
		return err
	}
	r.deptByCode = make(map[string]Department, len(depts))
	for _, row := range depts {
		d := Department{Code: row["code"], Name: row["name"], Region: row["region"]}
		if _, ok := r.regionByID[d.Region]; !ok {
			return eris.Errorf("scope: department %s references unknown region %s", d.Code, d.Region)
		}
		r.departments = append(r.departments, d)
		r.deptByCode[d.Code] = d
	}

	sort.Slice(r.regions, func(i, j int) bool { return r.regions[i].Code < r.regions[j].Code })
	sort.Slice(r.departments, func(i, j int) bool { return r.departments[i].Code < r.departments[j].Code })
	return nil
}

func (r *Reference) setCities(cities []model.City) error {
	r.cities = make(map[string][]model.City)
	r.cityByCode = make(map[string]model.City, len(cities))
	for _, c := range cities {
		c.Department = strings.ToUpper(c.Department)
		if c.Code == "" {
			c.Code = CityCode(c.Department, c.Name)
		}
		if _, ok := r.deptByCode[c.Department]; !ok {
			return eris.Errorf("scope: city %s references unknown department %s", c.Code, c.Department)
		}
		if _, dup := r.cityByCode[c.Code]; dup {
			continue
		}
		r.cityByCode[c.Code] = c
		r.cities[c.Department] = append(r.cities[c.Department], c)
	}
	return nil
}

func readTSV(name string) ([]map[string]string, error) {
	f, err := dataFS.Open(name)
	if err != nil {
		return nil, eris.Wrapf(err, "scope: open %s", name)
	}
	defer f.Close() //nolint:errcheck
	return readTable(f, '\t')
}

func readTable(r io.Reader, comma rune) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "scope: read header")
	}
	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "scope: read row")
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var cityHeader = []string{"code", "name", "department", "postal_code", "lat", "lng"}

// WriteCities writes cities as CSV in the format ReadCities accepts.
func WriteCities(w io.Writer, cities []model.City) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cityHeader); err != nil {
		return eris.Wrap(err, "scope: write header")
	}
	for _, c := range cities {
		rec := []string{
			c.Code, c.Name, c.Department, c.PostalCode,
			strconv.FormatFloat(c.Lat, 'f', 6, 64),
			strconv.FormatFloat(c.Lng, 'f', 6, 64),
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "scope: write city")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "scope: flush cities")
}

// ReadCities parses a city CSV written by WriteCities.
func ReadCities(r io.Reader) ([]model.City, error) {
	rows, err := readTable(r, ',')
	if err != nil {
		return nil, err
	}
	cities := make([]model.City, 0, len(rows))
	for _, row := range rows {
		c := model.City{
			Code:       row["code"],
			Name:       row["name"],
			Department: row["department"],
			PostalCode: row["postal_code"],
		}
		c.Lat, _ = strconv.ParseFloat(row["lat"], 64)
		c.Lng, _ = strconv.ParseFloat(row["lng"], 64)
		if c.Name == "" || c.Department == "" {
			continue
		}
		cities = append(cities, c)
	}
	return cities, nil
}
