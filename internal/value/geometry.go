package value

import (
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/muninn-archive/muninn/internal/errs"
)

// ParseWKT parses a 2D WKT geometry and validates it. Accepted geometries
// are POINT, LINESTRING, POLYGON, MULTIPOINT, MULTILINESTRING and
// MULTIPOLYGON, each of which may be EMPTY.
func ParseWKT(s string) (geom.T, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, errs.Schema("invalid geometry: %v", err)
	}
	if err := ValidateGeometry(g); err != nil {
		return nil, err
	}
	return g, nil
}

// FormatWKT renders a geometry as WKT.
func FormatWKT(g geom.T) (string, error) {
	s, err := wkt.Marshal(g)
	if err != nil {
		return "", errs.Schema("cannot encode geometry: %v", err)
	}
	return s, nil
}

// ValidateGeometry checks structural constraints: supported geometry kind,
// 2D layout, line strings of at least two points, and closed polygon rings
// of at least four points.
func ValidateGeometry(g geom.T) error {
	if g.Layout() != geom.XY && !isEmpty(g) {
		return errs.Schema("geometry must be two-dimensional")
	}
	switch v := g.(type) {
	case *geom.Point:
		return nil
	case *geom.LineString:
		return validateLine(v.Coords())
	case *geom.Polygon:
		return validatePolygon(v.Coords())
	case *geom.MultiPoint:
		return nil
	case *geom.MultiLineString:
		for i := 0; i < v.NumLineStrings(); i++ {
			if err := validateLine(v.LineString(i).Coords()); err != nil {
				return err
			}
		}
		return nil
	case *geom.MultiPolygon:
		for i := 0; i < v.NumPolygons(); i++ {
			if err := validatePolygon(v.Polygon(i).Coords()); err != nil {
				return err
			}
		}
		return nil
	}
	return errs.Schema("unsupported geometry type %T", g)
}

func isEmpty(g geom.T) bool {
	return len(g.FlatCoords()) == 0
}

func validateLine(coords []geom.Coord) error {
	if len(coords) == 0 {
		return nil
	}
	if len(coords) < 2 {
		return errs.Schema("line string requires at least 2 points")
	}
	return nil
}

func validatePolygon(rings [][]geom.Coord) error {
	for _, ring := range rings {
		if len(ring) < 4 {
			return errs.Schema("polygon ring requires at least 4 points")
		}
		first, last := ring[0], ring[len(ring)-1]
		if first[0] != last[0] || first[1] != last[1] {
			return errs.Schema("polygon ring must be closed")
		}
	}
	return nil
}
