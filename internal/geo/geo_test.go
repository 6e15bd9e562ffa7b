package geo

import (
    "math"
    "testing"

    "github.com/peterstace/simplefeatures/geom"
    "github.com/stretchr/testify/require"
)

func mustWKT(t *testing.T, s string) geom.Geometry {
    t.Helper()
    parsed, err := ParseWKT(s)
    require.NoError(t, err)
    return parsed
}

func unitSquare(t *testing.T) geom.Geometry {
    return mustWKT(t, "POLYGON((0 0,1 0,1 1,0 1,0 0))")
}

func TestUnionAll(t *testing.T) {
    left := mustWKT(t, "POLYGON((0 0,1 0,1 1,0 1,0 0))")
    right := mustWKT(t, "POLYGON((1 0,2 0,2 1,1 1,1 0))")
    u, err := UnionAll([]geom.Geometry{left, right})
    require.NoError(t, err)
    require.InDelta(t, 2.0, Area(u), 1e-9)
    require.InDelta(t, 6.0, Perimeter(u), 1e-9)
}

func TestUnionAllEmpty(t *testing.T) {
    u, err := UnionAll(nil)
    require.NoError(t, err)
    require.True(t, ZeroArea(u))
}

func TestOverlaps(t *testing.T) {
    a := unitSquare(t)
    b := mustWKT(t, "POLYGON((0.5 0.5,1.5 0.5,1.5 1.5,0.5 1.5,0.5 0.5))")
    ok, err := Overlaps(a, b)
    require.NoError(t, err)
    require.True(t, ok)

    // Shared edge only: no interior overlap.
    c := mustWKT(t, "POLYGON((1 0,2 0,2 1,1 1,1 0))")
    ok, err = Overlaps(a, c)
    require.NoError(t, err)
    require.False(t, ok)

    // Disjoint.
    d := mustWKT(t, "POLYGON((5 5,6 5,6 6,5 6,5 5))")
    ok, err = Overlaps(a, d)
    require.NoError(t, err)
    require.False(t, ok)
}

func TestCoveredBy(t *testing.T) {
    outer := mustWKT(t, "POLYGON((0 0,3 0,3 3,0 3,0 0))")
    inner := mustWKT(t, "POLYGON((1 1,2 1,2 2,1 2,1 1))")
    ok, err := CoveredBy(inner, outer, DefaultTolerance)
    require.NoError(t, err)
    require.True(t, ok)

    // Sticks out slightly less than the tolerance slack.
    nudged := mustWKT(t, "POLYGON((2.999 1,3.001 1,3.001 2,2.999 2,2.999 1))")
    ok, err = CoveredBy(nudged, outer, DefaultTolerance)
    require.NoError(t, err)
    require.True(t, ok)

    // Majority outside: never covered, whatever the tolerance.
    outside := mustWKT(t, "POLYGON((2.999 1,4 1,4 2,2.999 2,2.999 1))")
    ok, err = CoveredBy(outside, outer, DefaultTolerance)
    require.NoError(t, err)
    require.False(t, ok)
}

func TestSchwartzberg(t *testing.T) {
    // A circle scores 1; a square scores 2*pi*sqrt(1/pi)/4.
    sq := unitSquare(t)
    want := 2 * math.Pi * math.Sqrt(1/math.Pi) / 4
    require.InDelta(t, want, Schwartzberg(sq), 1e-9)

    var empty geom.Geometry
    require.Equal(t, 0.0, Schwartzberg(empty))
}

func TestIsContiguous(t *testing.T) {
    require.True(t, IsContiguous(unitSquare(t)))

    joined := mustWKT(t, "MULTIPOLYGON(((0 0,1 0,1 1,0 1,0 0)))")
    require.True(t, IsContiguous(joined))

    split := mustWKT(t, "MULTIPOLYGON(((0 0,1 0,1 1,0 1,0 0)),((3 3,4 3,4 4,3 4,3 3)))")
    require.False(t, IsContiguous(split))

    point := mustWKT(t, "POINT(1 1)")
    require.False(t, IsContiguous(point))
}

func TestSimplifyFallsBackOnFailure(t *testing.T) {
    sq := unitSquare(t)
    // Tolerance large enough to collapse the ring; the original comes back.
    got := Simplify(sq, 100)
    require.InDelta(t, 1.0, Area(got), 1e-9)
}
