package scope

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/model"
)

// LoadCommunes reads an IGN ADMIN-EXPRESS commune shapefile and returns one
// City per commune, in file order, with the centre of the commune's largest
// ring as its coordinates. Field names of both the current (NOM) and the
// older (NOM_COM) releases are accepted.
func LoadCommunes(path string) ([]model.City, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "scope: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	nameIdx := fieldIndex(reader, "NOM", "NOM_COM")
	deptIdx := fieldIndex(reader, "INSEE_DEP", "CODE_DEPT")
	postalIdx := fieldIndex(reader, "CODE_POST", "CODE_POSTAL", "POSTAL")
	if nameIdx < 0 || deptIdx < 0 {
		return nil, eris.New("scope: shapefile lacks commune name or department fields")
	}

	log := zap.L().With(zap.String("component", "scope.communes"))
	var cities []model.City
	for reader.Next() {
		_, shape := reader.Shape()
		name := strings.TrimSpace(reader.Attribute(nameIdx))
		dept := strings.ToUpper(strings.TrimSpace(reader.Attribute(deptIdx)))
		if name == "" || dept == "" {
			continue
		}

		c := model.City{
			Code:       CityCode(dept, name),
			Name:       name,
			Department: dept,
		}
		if postalIdx >= 0 {
			c.PostalCode = strings.TrimSpace(reader.Attribute(postalIdx))
		}
		if poly, ok := shape.(*shp.Polygon); ok {
			if lng, lat, ok := ringCenter(poly); ok {
				c.Lat, c.Lng = lat, lng
			}
		}
		cities = append(cities, c)
	}

	log.Info("communes loaded", zap.Int("count", len(cities)))
	return cities, nil
}

// ringCenter returns the bounding-box centre of the polygon part with the
// largest bounding box.
func ringCenter(p *shp.Polygon) (x, y float64, ok bool) {
	var best *geom.Bounds
	bestArea := -1.0
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 3 {
			continue
		}
		flat := make([]float64, 0, 2*(end-start))
		for _, pt := range p.Points[start:end] {
			flat = append(flat, pt.X, pt.Y)
		}
		ring := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
		b := ring.Bounds()
		area := (b.Max(0) - b.Min(0)) * (b.Max(1) - b.Min(1))
		if area > bestArea {
			best, bestArea = b, area
		}
	}
	if best == nil {
		return 0, 0, false
	}
	return (best.Min(0) + best.Max(0)) / 2, (best.Min(1) + best.Max(1)) / 2, true
}

func fieldIndex(reader *shp.Reader, names ...string) int {
	for i, f := range reader.Fields() {
		field := strings.TrimRight(f.String(), "\x00")
		for _, name := range names {
			if strings.EqualFold(field, name) {
				return i
			}
		}
	}
	return -1
}
