package score

import (
    "math"
    "testing"

    "github.com/peterstace/simplefeatures/geom"
    "github.com/stretchr/testify/require"
)

func mustWKT(t *testing.T, s string) geom.Geometry {
    t.Helper()
    g, err := geom.UnmarshalWKT(s)
    require.NoError(t, err)
    return g
}

func testPlan(t *testing.T) *Plan {
    t.Helper()
    return &Plan{
        ID: "p1",
        Districts: []District{
            {
                ID:    "d1",
                Geom:  mustWKT(t, "POLYGON((0 0,1 0,1 1,0 1,0 0))"),
                Chars: map[string]float64{"population": 100, "democratic": 60, "republican": 40},
            },
            {
                ID:    "d2",
                Geom:  mustWKT(t, "POLYGON((1 0,3 0,3 1,1 1,1 0))"),
                Chars: map[string]float64{"population": 120, "democratic": 30, "republican": 70},
            },
            {
                ID:    "d3",
                Geom:  mustWKT(t, "POLYGON((0 1,3 1,3 2,0 2,0 1))"),
                Chars: map[string]float64{"population": 80, "democratic": 45, "republican": 35},
            },
        },
    }
}

func TestRegistryResolution(t *testing.T) {
    c, err := New("Sum")
    require.NoError(t, err)
    require.NotNil(t, c)

    _, err = New("NoSuchCalculator")
    require.ErrorIs(t, err, ErrUnknownCalculator)

    names := Names()
    require.Contains(t, names, "Sum")
    require.Contains(t, names, "RepresentationalFairness")
}

func TestInstancesAreIndependent(t *testing.T) {
    a, err := New("Sum")
    require.NoError(t, err)
    b, err := New("Sum")
    require.NoError(t, err)
    a.SetArgs(Args{"value": Subject("population")})
    b.SetArgs(Args{"value": Literal("7")})

    p := testPlan(t)
    require.NoError(t, a.ComputeDistrict(&p.Districts[0]))
    require.NoError(t, b.ComputeDistrict(&p.Districts[0]))
    require.Equal(t, 100.0, a.Result())
    require.Equal(t, 7.0, b.Result())
}

func TestSum(t *testing.T) {
    p := testPlan(t)
    fn := Function{Calculator: "Sum", PlanScore: true, Args: Args{"value": Subject("population")}}
    got, err := fn.ScorePlan(p, "")
    require.NoError(t, err)
    require.Equal(t, 300.0, got)

    // A literal counts once per district when summed over a plan.
    fn = Function{Calculator: "Sum", PlanScore: true, Args: Args{"a": Literal("0"), "b": Literal("1"), "c": Literal("2")}}
    got, err = fn.ScorePlan(p, "")
    require.NoError(t, err)
    require.Equal(t, 9.0, got)

    // A subject missing from a district counts as zero.
    fn = Function{Calculator: "Sum", PlanScore: true, Args: Args{"value": Subject("turnout")}}
    got, err = fn.ScorePlan(p, "")
    require.NoError(t, err)
    require.Equal(t, 0.0, got)
}

func TestSumBadLiteral(t *testing.T) {
    p := testPlan(t)
    fn := Function{Calculator: "Sum", Args: Args{"value": Literal("not-a-number")}}
    _, err := fn.ScoreDistrict(&p.Districts[0], "")
    require.ErrorIs(t, err, ErrBadArgument)
}

func TestPercent(t *testing.T) {
    p := testPlan(t)
    fn := Function{Calculator: "Percent", Args: Args{
        "numerator":   Subject("democratic"),
        "denominator": Subject("population"),
    }}
    got, err := fn.ScoreDistrict(&p.Districts[0], "")
    require.NoError(t, err)
    require.InDelta(t, 0.6, got.(float64), 1e-9)

    // Plan-wide: sums both sides first.
    fn.PlanScore = true
    got, err = fn.ScorePlan(p, "")
    require.NoError(t, err)
    require.InDelta(t, 135.0/300.0, got.(float64), 1e-9)
}

func TestPercentDivisionByZero(t *testing.T) {
    p := testPlan(t)
    fn := Function{Calculator: "Percent", Args: Args{
        "numerator":   Subject("democratic"),
        "denominator": Literal("0"),
    }}
    _, err := fn.ScoreDistrict(&p.Districts[0], "")
    require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestThresholdAndRange(t *testing.T) {
    p := testPlan(t)
    fn := Function{Calculator: "Threshold", PlanScore: true, Args: Args{
        "value":     Subject("population"),
        "threshold": Literal("90"),
    }}
    got, err := fn.ScorePlan(p, "")
    require.NoError(t, err)
    require.Equal(t, []any{true, true, false}, got)

    // Range bounds are exclusive.
    fn = Function{Calculator: "Range", PlanScore: true, Args: Args{
        "value": Subject("population"),
        "min":   Literal("80"),
        "max":   Literal("120"),
    }}
    got, err = fn.ScorePlan(p, "")
    require.NoError(t, err)
    require.Equal(t, []any{true, false, false}, got)
}

func TestEquivalence(t *testing.T) {
    p := testPlan(t)
    fn := Function{Calculator: "Equivalence", PlanScore: true, Args: Args{"value": Subject("population")}}
    got, err := fn.ScorePlan(p, "")
    require.NoError(t, err)
    require.InDelta(t, 40.0, got.(float64), 1e-9)

    // District-level evaluation is undefined for a plan-wide measure.
    _, err = fn.ScoreDistrict(&p.Districts[0], "")
    require.ErrorIs(t, err, ErrBadArgument)
}

func TestSchwartzberg(t *testing.T) {
    p := testPlan(t)
    fn := Function{Calculator: "Schwartzberg", Args: Args{}}
    got, err := fn.ScoreDistrict(&p.Districts[0], "")
    require.NoError(t, err)
    require.InDelta(t, math.Sqrt(math.Pi)/2, got.(float64), 1e-9)

    // Plan score averages the 1x1, 2x1 and 3x1 districts.
    rect := func(area, perim float64) float64 { return 2 * math.Pi * math.Sqrt(area/math.Pi) / perim }
    want := (rect(1, 4) + rect(2, 6) + rect(3, 8)) / 3
    fn.PlanScore = true
    got, err = fn.ScorePlan(p, "")
    require.NoError(t, err)
    require.InDelta(t, want, got.(float64), 1e-9)
}

func TestContiguity(t *testing.T) {
    p := testPlan(t)
    split := District{
        ID:   "dx",
        Geom: mustWKT(t, "MULTIPOLYGON(((0 0,1 0,1 1,0 1,0 0)),((5 5,6 5,6 6,5 6,5 5)))"),
    }
    fn := Function{Calculator: "Contiguity", Args: Args{}}
    got, err := fn.ScoreDistrict(&p.Districts[0], "")
    require.NoError(t, err)
    require.Equal(t, true, got)
    got, err = fn.ScoreDistrict(&split, "")
    require.NoError(t, err)
    require.Equal(t, false, got)
}

func TestPartisanDifferential(t *testing.T) {
    p := testPlan(t)
    fn := Function{Calculator: "PartisanDifferential", Args: Args{
        "democratic": Subject("democratic"),
        "republican": Subject("republican"),
    }}
    got, err := fn.ScoreDistrict(&p.Districts[0], "")
    require.NoError(t, err)
    require.InDelta(t, 0.6, got.(float64), 1e-9)
    got, err = fn.ScoreDistrict(&p.Districts[1], "")
    require.NoError(t, err)
    require.InDelta(t, 0.7, got.(float64), 1e-9)

    // A district with no votes scores zero.
    empty := District{ID: "dz", Chars: map[string]float64{}}
    got, err = fn.ScoreDistrict(&empty, "")
    require.NoError(t, err)
    require.Equal(t, 0.0, got)

    // Plan average skips uncontested districts.
    fn.PlanScore = true
    want := (0.6 + 0.7 + 45.0/80.0) / 3
    got, err = fn.ScorePlan(p, "")
    require.NoError(t, err)
    require.InDelta(t, want, got.(float64), 1e-9)
}

func TestRepresentationalFairness(t *testing.T) {
    p := testPlan(t)
    fn := Function{Calculator: "RepresentationalFairness", PlanScore: true, Args: Args{
        "democratic": Subject("democratic"),
        "republican": Subject("republican"),
    }}
    // Democratic majorities in d1 and d3, out of three contested seats.
    got, err := fn.ScorePlan(p, "")
    require.NoError(t, err)
    require.InDelta(t, 2.0/3.0-0.5, got.(float64), 1e-9)

    // No contested districts: even by definition.
    emptyPlan := &Plan{ID: "p0", Districts: []District{{ID: "d", Chars: map[string]float64{}}}}
    got, err = fn.ScorePlan(emptyPlan, "")
    require.NoError(t, err)
    require.Equal(t, 0.0, got)
}

func TestUnknownCalculatorSurfacesAtScoreTime(t *testing.T) {
    p := testPlan(t)
    fn := Function{Calculator: "Bogus", Args: Args{}}
    _, err := fn.ScorePlan(p, "")
    require.ErrorIs(t, err, ErrUnknownCalculator)
}

func TestNonPlanScoreYieldsPerDistrictSequence(t *testing.T) {
    p := testPlan(t)
    fn := Function{Calculator: "Sum", PlanScore: false, Args: Args{"value": Subject("population")}}
    got, err := fn.ScorePlan(p, "")
    require.NoError(t, err)
    require.Equal(t, []any{100.0, 120.0, 80.0}, got)
}

func TestFormats(t *testing.T) {
    v, err := Format(0.5, "raw")
    require.NoError(t, err)
    require.Equal(t, 0.5, v)

    v, err = Format(0.5, "HTML")
    require.NoError(t, err)
    require.Equal(t, "<span>0.5</span>", v)

    v, err = Format(true, "json")
    require.NoError(t, err)
    require.JSONEq(t, `{"result":true}`, v.(string))

    v, err = Format([]any{true, false}, "html")
    require.NoError(t, err)
    require.Equal(t, "<span>true, false</span>", v)

    _, err = Format(1.0, "xml")
    require.ErrorIs(t, err, ErrBadArgument)
}
