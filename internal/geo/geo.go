// Package geo wraps the planar geometry operations the redistricting core
// needs on top of simplefeatures: unions, containment with slack, overlap
// tests, simplification and the compactness primitives.
package geo

import (
    "fmt"
    "math"

    "github.com/peterstace/simplefeatures/geom"
)

// DefaultTolerance is the containment slack, in spatial units, applied when
// matching geounit geometry against district or boundary geometry.
const DefaultTolerance = 0.1

// areaEps is the area below which an intersection is treated as degenerate
// (shared edges and corner touches).
const areaEps = 1e-12

// Error wraps a failed geometry operation with the operation that failed.
type Error struct {
    Op  string
    Err error
}

func (e *Error) Error() string { return fmt.Sprintf("geometry %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func opErr(op string, err error) error { return &Error{Op: op, Err: err} }

// ParseWKT parses a WKT string into a geometry.
func ParseWKT(wkt string) (geom.Geometry, error) {
    g, err := geom.UnmarshalWKT(wkt)
    if err != nil {
        return geom.Geometry{}, opErr("parse", err)
    }
    return g, nil
}

// Union returns the spatial union of a and b.
func Union(a, b geom.Geometry) (geom.Geometry, error) {
    if a.IsEmpty() { return b, nil }
    if b.IsEmpty() { return a, nil }
    u, err := geom.Union(a, b)
    if err != nil {
        return geom.Geometry{}, opErr("union", err)
    }
    return u, nil
}

// UnionAll unions a list of geometries. An empty list yields an empty
// geometry.
func UnionAll(gs []geom.Geometry) (geom.Geometry, error) {
    var out geom.Geometry
    for _, g := range gs {
        var err error
        out, err = Union(out, g)
        if err != nil {
            return geom.Geometry{}, err
        }
    }
    return out, nil
}

// Overlaps reports whether a and b share interior area. Geometries that only
// touch along edges or at corners do not overlap.
func Overlaps(a, b geom.Geometry) (bool, error) {
    if a.IsEmpty() || b.IsEmpty() {
        return false, nil
    }
    if !geom.Intersects(a, b) {
        return false, nil
    }
    inter, err := geom.Intersection(a, b)
    if err != nil {
        return false, opErr("intersection", err)
    }
    return inter.Area() > areaEps, nil
}

// CoveredBy reports whether inner lies within outer, allowing tol of slack.
// A unit is covered when outer contains it outright, or when the part left
// uncovered has area within tol² and the unit is majority-covered.
func CoveredBy(inner, outer geom.Geometry, tol float64) (bool, error) {
    if inner.IsEmpty() || outer.IsEmpty() {
        return false, nil
    }
    ok, err := geom.Contains(outer, inner)
    if err != nil {
        return false, opErr("contains", err)
    }
    if ok {
        return true, nil
    }
    diff, err := geom.Difference(inner, outer)
    if err != nil {
        return false, opErr("difference", err)
    }
    uncovered := diff.Area()
    return uncovered <= tol*tol && uncovered < inner.Area()/2, nil
}

// ZeroArea reports whether g encloses no area at all.
func ZeroArea(g geom.Geometry) bool {
    return g.IsEmpty() || g.Area() <= areaEps
}

// Area returns the enclosed area of g.
func Area(g geom.Geometry) float64 { return g.Area() }

// Perimeter returns the total boundary length of g.
func Perimeter(g geom.Geometry) float64 {
    if g.IsEmpty() {
        return 0
    }
    return g.Boundary().Length()
}

// Simplify returns a reduced-vertex version of g. If simplification fails
// the original geometry is returned so rendering always has something to
// draw.
func Simplify(g geom.Geometry, tol float64) geom.Geometry {
    if g.IsEmpty() || tol <= 0 {
        return g
    }
    s, err := g.Simplify(tol)
    if err != nil || s.IsEmpty() {
        return g
    }
    return s
}

// Schwartzberg returns the compactness ratio of the circumference of the
// circle with the same area as g to the perimeter of g. A degenerate
// geometry scores zero.
func Schwartzberg(g geom.Geometry) float64 {
    p := Perimeter(g)
    if p == 0 {
        return 0
    }
    r := math.Sqrt(g.Area() / math.Pi)
    return (2 * math.Pi * r) / p
}

// IsContiguous reports whether g is a single connected polygonal component.
func IsContiguous(g geom.Geometry) bool {
    switch g.Type() {
    case geom.TypePolygon:
        return !g.IsEmpty()
    case geom.TypeMultiPolygon:
        return g.MustAsMultiPolygon().NumPolygons() == 1
    default:
        return false
    }
}
