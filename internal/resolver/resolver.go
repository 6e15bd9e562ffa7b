// Package resolver classifies geounit selections against arbitrary boundary
// geometry, descending the level hierarchy only where a unit straddles the
// boundary. It is the single source of truth for which atomic units an edit
// touches.
package resolver

import (
    "context"
    "fmt"

    "github.com/peterstace/simplefeatures/geom"

    "distmap/internal/geo"
    "distmap/internal/hierarchy"
)

// Ref identifies one geounit at the resolution the descent stopped at.
type Ref struct {
    ID    string
    Level string
}

// Resolver holds the hierarchy and the containment slack.
type Resolver struct {
    h   *hierarchy.Hierarchy
    tol float64
}

// New returns a resolver over h using the default containment tolerance.
func New(h *hierarchy.Hierarchy) *Resolver {
    return &Resolver{h: h, tol: geo.DefaultTolerance}
}

// NewWithTolerance returns a resolver with an explicit containment slack.
func NewWithTolerance(h *hierarchy.Hierarchy, tol float64) *Resolver {
    if tol <= 0 {
        tol = geo.DefaultTolerance
    }
    return &Resolver{h: h, tol: tol}
}

// MixedGeounits resolves the selection ids at level against boundary. With
// inside true it returns the units fully within the boundary, with inside
// false the units fully outside, in both cases at the coarsest resolution
// that still honors the boundary: a unit that straddles is replaced by its
// children, and a base-level unit that still straddles is dropped from both
// sides. A boundary enclosing no area contains nothing, so every selected
// unit is outside. An empty selection resolves to an empty result.
func (r *Resolver) MixedGeounits(ctx context.Context, ids []string, level string, boundary geom.Geometry, inside bool) ([]Ref, error) {
    if _, ok := r.h.Level(level); !ok {
        return nil, fmt.Errorf("geolevel %q: %w", level, hierarchy.ErrNotFound)
    }
    units := make([]*hierarchy.Unit, 0, len(ids))
    for _, id := range ids {
        u, ok := r.h.Unit(id)
        if !ok || u.Level != level {
            return nil, fmt.Errorf("geounit %q at %s: %w", id, level, hierarchy.ErrNotFound)
        }
        units = append(units, u)
    }
    zero := geo.ZeroArea(boundary)
    var out []Ref
    for _, u := range units {
        if err := ctx.Err(); err != nil {
            return nil, err
        }
        if zero {
            if !inside {
                out = append(out, Ref{ID: u.ID, Level: u.Level})
            }
            continue
        }
        var err error
        out, err = r.classify(ctx, u, boundary, inside, out)
        if err != nil {
            return nil, err
        }
    }
    return out, nil
}

func (r *Resolver) classify(ctx context.Context, u *hierarchy.Unit, boundary geom.Geometry, inside bool, out []Ref) ([]Ref, error) {
    if err := ctx.Err(); err != nil {
        return nil, err
    }
    covered, err := geo.CoveredBy(u.Geom, boundary, r.tol)
    if err != nil {
        return nil, err
    }
    if covered {
        if inside {
            out = append(out, Ref{ID: u.ID, Level: u.Level})
        }
        return out, nil
    }
    overlaps, err := geo.Overlaps(u.Geom, boundary)
    if err != nil {
        return nil, err
    }
    if !overlaps {
        if !inside {
            out = append(out, Ref{ID: u.ID, Level: u.Level})
        }
        return out, nil
    }
    children := r.h.Children(u.ID)
    if len(children) == 0 {
        // Straddling atomic unit: excluded from both sides.
        return out, nil
    }
    for _, c := range children {
        out, err = r.classify(ctx, c, boundary, inside, out)
        if err != nil {
            return nil, err
        }
    }
    return out, nil
}

// FlattenBase expands refs to the set of base-level geounit ids they cover.
func (r *Resolver) FlattenBase(refs []Ref) map[string]struct{} {
    out := make(map[string]struct{})
    for _, ref := range refs {
        for _, u := range r.h.BaseUnits(ref.ID) {
            out[u.ID] = struct{}{}
        }
    }
    return out
}
