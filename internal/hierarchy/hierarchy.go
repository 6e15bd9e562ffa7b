// Package hierarchy holds the static geounit reference data for one study
// area: geographic levels ordered coarse to fine, unit geometries, and the
// per-subject numbers attached to the finest level. It is built once at
// startup and read-only afterwards.
package hierarchy

import (
    "errors"
    "fmt"
    "sort"

    "github.com/peterstace/simplefeatures/geom"
    "github.com/shopspring/decimal"

    "distmap/internal/geo"
    "distmap/internal/importer"
)

// ErrNotFound reports an unknown geounit, geolevel or subject.
var ErrNotFound = errors.New("not found")

// Level is one geographic resolution. Rank 0 is the coarsest.
type Level struct {
    Name string
    Rank int
}

// Subject is one numeric attribute tracked per geounit. Name is the stable
// identity; Display is presentation metadata.
type Subject struct {
    Name    string
    Display string
}

// Unit is one geounit. Chars is populated only at the base level.
type Unit struct {
    ID     string
    Name   string
    Level  string
    Geom   geom.Geometry
    Simple geom.Geometry
    chars  map[string]decimal.Decimal
}

// Characteristic returns the unit's number for subject, zero when absent.
func (u *Unit) Characteristic(subject string) decimal.Decimal {
    if u.chars == nil {
        return decimal.Zero
    }
    return u.chars[subject]
}

// Hierarchy is the immutable reference dataset.
type Hierarchy struct {
    levels   []Level
    units    map[string]*Unit
    byLevel  map[string][]*Unit
    children map[string][]*Unit
    parent   map[string]string
    subjects []Subject
    totals   map[string]decimal.Decimal
}

// Report summarizes a load: features dropped for bad geometry and values
// that failed to parse and were zeroed.
type Report struct {
    UnitsLoaded  int
    SkippedUnits []string
    ZeroedValues int
}

// Options tunes loading.
type Options struct {
    // SimplifyTolerance drives the reduced-vertex rendering geometry kept
    // per unit. Zero disables simplification.
    SimplifyTolerance float64
    // ContainTolerance is the slack used when nesting finer units under
    // coarser ones. Zero means geo.DefaultTolerance.
    ContainTolerance float64
}

// Load builds a Hierarchy from a Source. A feature whose geometry fails to
// parse is skipped and recorded in the report; an unparseable characteristic
// value becomes zero. Either way the rest of the batch continues.
func Load(src importer.Source, opts Options) (*Hierarchy, *Report, error) {
    if opts.ContainTolerance <= 0 {
        opts.ContainTolerance = geo.DefaultTolerance
    }
    levels, err := src.Levels()
    if err != nil {
        return nil, nil, fmt.Errorf("levels: %w", err)
    }
    if len(levels) == 0 {
        return nil, nil, errors.New("source has no levels")
    }
    sort.Slice(levels, func(i, j int) bool { return levels[i].Rank < levels[j].Rank })
    subjects, err := src.Subjects()
    if err != nil {
        return nil, nil, fmt.Errorf("subjects: %w", err)
    }

    h := &Hierarchy{
        units:    map[string]*Unit{},
        byLevel:  map[string][]*Unit{},
        children: map[string][]*Unit{},
        parent:   map[string]string{},
        totals:   map[string]decimal.Decimal{},
    }
    for _, l := range levels {
        h.levels = append(h.levels, Level{Name: l.Name, Rank: l.Rank})
    }
    for _, s := range subjects {
        h.subjects = append(h.subjects, Subject{Name: s.Name, Display: s.Display})
        h.totals[s.Name] = decimal.Zero
    }

    rep := &Report{}
    base := h.levels[len(h.levels)-1].Name
    for _, l := range h.levels {
        feats, err := src.Units(l.Name)
        if err != nil {
            return nil, nil, fmt.Errorf("units %s: %w", l.Name, err)
        }
        for _, f := range feats {
            g, err := geo.ParseWKT(f.WKT)
            if err != nil || geo.ZeroArea(g) {
                rep.SkippedUnits = append(rep.SkippedUnits, f.ID)
                continue
            }
            u := &Unit{ID: f.ID, Name: f.Name, Level: l.Name, Geom: g}
            u.Simple = geo.Simplify(g, opts.SimplifyTolerance)
            if l.Name == base {
                u.chars = map[string]decimal.Decimal{}
                for _, s := range h.subjects {
                    n, zeroed := parseNumber(f.Values[s.Name])
                    if zeroed {
                        rep.ZeroedValues++
                    }
                    u.chars[s.Name] = n
                    h.totals[s.Name] = h.totals[s.Name].Add(n)
                }
            }
            h.units[u.ID] = u
            h.byLevel[l.Name] = append(h.byLevel[l.Name], u)
            rep.UnitsLoaded++
        }
    }

    if err := h.link(opts.ContainTolerance); err != nil {
        return nil, nil, err
    }
    return h, rep, nil
}

func parseNumber(raw string) (decimal.Decimal, bool) {
    if raw == "" {
        return decimal.Zero, false
    }
    n, err := decimal.NewFromString(raw)
    if err != nil {
        return decimal.Zero, true
    }
    return n, false
}

// link assigns every unit below the top level to the coarser unit covering
// it, establishing the nesting invariant the resolver descends along.
func (h *Hierarchy) link(tol float64) error {
    for i := 1; i < len(h.levels); i++ {
        coarse := h.byLevel[h.levels[i-1].Name]
        for _, u := range h.byLevel[h.levels[i].Name] {
            found := false
            for _, c := range coarse {
                ok, err := geo.CoveredBy(u.Geom, c.Geom, tol)
                if err != nil {
                    return fmt.Errorf("link %s: %w", u.ID, err)
                }
                if ok {
                    h.children[c.ID] = append(h.children[c.ID], u)
                    h.parent[u.ID] = c.ID
                    found = true
                    break
                }
            }
            if !found {
                return fmt.Errorf("unit %s fits under no %s", u.ID, h.levels[i-1].Name)
            }
        }
    }
    return nil
}

// Levels returns the levels, coarsest first.
func (h *Hierarchy) Levels() []Level { return h.levels }

// Level looks a level up by name.
func (h *Hierarchy) Level(name string) (Level, bool) {
    for _, l := range h.levels {
        if l.Name == name {
            return l, true
        }
    }
    return Level{}, false
}

// BaseLevel returns the name of the finest level.
func (h *Hierarchy) BaseLevel() string { return h.levels[len(h.levels)-1].Name }

// Unit looks a geounit up by id.
func (h *Hierarchy) Unit(id string) (*Unit, bool) {
    u, ok := h.units[id]
    return u, ok
}

// UnitsAt returns every unit of one level in load order.
func (h *Hierarchy) UnitsAt(level string) []*Unit { return h.byLevel[level] }

// Children returns the units nested directly under id, nil at the base
// level.
func (h *Hierarchy) Children(id string) []*Unit { return h.children[id] }

// Parent returns the id of the unit directly above id.
func (h *Hierarchy) Parent(id string) (string, bool) {
    p, ok := h.parent[id]
    return p, ok
}

// BaseUnits expands id down to the base level. A base unit yields itself.
func (h *Hierarchy) BaseUnits(id string) []*Unit {
    u, ok := h.units[id]
    if !ok {
        return nil
    }
    if u.Level == h.BaseLevel() {
        return []*Unit{u}
    }
    var out []*Unit
    for _, c := range h.children[id] {
        out = append(out, h.BaseUnits(c.ID)...)
    }
    return out
}

// Subjects returns the tracked subjects.
func (h *Hierarchy) Subjects() []Subject { return h.subjects }

// Subject looks a subject up by name.
func (h *Hierarchy) Subject(name string) (Subject, bool) {
    for _, s := range h.subjects {
        if s.Name == name {
            return s, true
        }
    }
    return Subject{}, false
}

// Total returns the base-level sum for subject across the study area.
func (h *Hierarchy) Total(subject string) decimal.Decimal {
    return h.totals[subject]
}
