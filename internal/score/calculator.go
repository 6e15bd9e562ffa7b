// Package score is the pluggable metric framework. Calculators compute a
// value for a single district or a whole plan snapshot and store the result
// on the instance; score functions bind a named calculator to arguments and
// render results in several formats.
package score

import (
    "errors"
    "fmt"
    "sort"
    "strconv"

    "github.com/peterstace/simplefeatures/geom"
)

var (
    // ErrUnknownCalculator reports a calculator name absent from the
    // registry. Resolution happens at score time, not registration time.
    ErrUnknownCalculator = errors.New("unknown calculator")
    // ErrDivisionByZero reports a ratio whose denominator evaluated to
    // zero; the score is undefined rather than a crash.
    ErrDivisionByZero = errors.New("division by zero")
    // ErrBadArgument reports a malformed literal or a target the
    // calculator cannot score.
    ErrBadArgument = errors.New("bad argument")
)

// District is the per-district snapshot a calculator consumes: the district
// geometry and its aggregated subject numbers.
type District struct {
    ID    string
    Geom  geom.Geometry
    Chars map[string]float64
}

// Plan is the plan-wide snapshot: the current districts at one version.
type Plan struct {
    ID        string
    Districts []District
}

// Arg is one calculator argument: a literal number carried as text, or the
// name of a subject resolved against the target district at compute time.
type Arg struct {
    Kind  string `json:"kind"`
    Value string `json:"value"`
}

const (
    KindLiteral = "literal"
    KindSubject = "subject"
)

// Literal returns a literal argument.
func Literal(v string) Arg { return Arg{Kind: KindLiteral, Value: v} }

// Subject returns a subject-reference argument.
func Subject(name string) Arg { return Arg{Kind: KindSubject, Value: name} }

// Args maps argument names to values.
type Args map[string]Arg

// Calculator computes one metric. Compute stores the result on the
// instance; separate instances never share state.
type Calculator interface {
    SetArgs(Args)
    ComputeDistrict(d *District) error
    ComputePlan(p *Plan) error
    Result() any
}

// Factory builds a fresh calculator instance.
type Factory func() Calculator

var registry = map[string]Factory{}

// Register adds a calculator under name, replacing any previous entry.
func Register(name string, f Factory) { registry[name] = f }

// New instantiates the named calculator.
func New(name string) (Calculator, error) {
    f, ok := registry[name]
    if !ok {
        return nil, fmt.Errorf("%q: %w", name, ErrUnknownCalculator)
    }
    return f(), nil
}

// Names lists registered calculators, sorted.
func Names() []string {
    out := make([]string, 0, len(registry))
    for n := range registry {
        out = append(out, n)
    }
    sort.Strings(out)
    return out
}

// base carries arguments and result storage for the builtin calculators.
type base struct {
    args   Args
    result any
}

func (b *base) SetArgs(a Args) { b.args = a }
func (b *base) Result() any    { return b.result }

// number resolves the named argument against d. A missing argument reports
// ok false; a subject absent from the district's characteristics resolves
// to zero.
func (b *base) number(name string, d *District) (float64, bool, error) {
    arg, ok := b.args[name]
    if !ok {
        return 0, false, nil
    }
    switch arg.Kind {
    case KindLiteral:
        v, err := strconv.ParseFloat(arg.Value, 64)
        if err != nil {
            return 0, false, fmt.Errorf("argument %s=%q: %w", name, arg.Value, ErrBadArgument)
        }
        return v, true, nil
    case KindSubject:
        if d == nil {
            return 0, false, fmt.Errorf("argument %s: subject without district: %w", name, ErrBadArgument)
        }
        return d.Chars[arg.Value], true, nil
    }
    return 0, false, fmt.Errorf("argument %s: kind %q: %w", name, arg.Kind, ErrBadArgument)
}

// require is number for mandatory arguments.
func (b *base) require(name string, d *District) (float64, error) {
    v, ok, err := b.number(name, d)
    if err != nil {
        return 0, err
    }
    if !ok {
        return 0, fmt.Errorf("argument %s missing: %w", name, ErrBadArgument)
    }
    return v, nil
}

// argNames returns the argument names in sorted order.
func (b *base) argNames() []string {
    out := make([]string, 0, len(b.args))
    for n := range b.args {
        out = append(out, n)
    }
    sort.Strings(out)
    return out
}

func errPlanOnly(name string) error {
    return fmt.Errorf("%s scores plans, not districts: %w", name, ErrBadArgument)
}
