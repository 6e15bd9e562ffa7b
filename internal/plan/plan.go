// Package plan is the versioned redistricting core. A Plan owns districts
// whose rows are immutable (district, version) snapshots: every edit bumps
// the plan version and appends new rows for the districts it touched,
// leaving history queryable until purged.
package plan

import (
    "context"
    "fmt"
    "sort"
    "time"

    "github.com/peterstace/simplefeatures/geom"
    "github.com/shopspring/decimal"

    "distmap/internal/geo"
    "distmap/internal/hierarchy"
    "distmap/internal/model"
    "distmap/internal/resolver"
    "distmap/internal/score"
)

var hundred = decimal.NewFromInt(100)

// Characteristic is a district's aggregated number for one subject, with
// its share of the plan-wide total.
type Characteristic struct {
    Subject    string
    Number     decimal.Decimal
    Percentage decimal.Decimal
}

// DistrictVersion is one immutable district row. Geom is the union of the
// member geounits' geometry; Chars holds exact sums per subject.
type DistrictVersion struct {
    DistrictID string
    Version    int
    Members    map[string]struct{}
    Geom       geom.Geometry
    Simple     geom.Geometry
    Chars      []Characteristic
}

// Char returns the row's characteristic for subject.
func (d *DistrictVersion) Char(subject string) (Characteristic, bool) {
    for _, c := range d.Chars {
        if c.Subject == subject {
            return c, true
        }
    }
    return Characteristic{}, false
}

// BaseUnit is one atomic geounit in a snapshot, with its owning district
// (empty when unassigned) and its raw characteristic values.
type BaseUnit struct {
    GeounitID  string
    DistrictID string
    Chars      map[string]decimal.Decimal
}

// EditResult reports what an edit did.
type EditResult struct {
    Version int
    Changed []string
    NoOp    bool
}

// Plan is one redistricting plan. It is not safe for concurrent use; the
// store serializes access per plan.
type Plan struct {
    ID        string
    Name      string
    Owner     string
    Version   int
    CreatedAt time.Time

    h           *hierarchy.Hierarchy
    res         *resolver.Resolver
    rows        map[string][]*DistrictVersion // district -> rows, ascending version
    order       []string
    locked      map[string]bool
    simplifyTol float64
}

// New creates an empty plan at version 0 with the given districts.
func New(id, name, owner string, h *hierarchy.Hierarchy, districts []string) (*Plan, error) {
    p := Restore(id, name, owner, 0, h)
    p.CreatedAt = time.Now().UTC()
    for _, d := range districts {
        if err := p.AddDistrict(d); err != nil {
            return nil, err
        }
    }
    return p, nil
}

// Restore creates a plan shell for rehydration from storage. Rows and locks
// are added with RestoreDistrict and RestoreRow.
func Restore(id, name, owner string, version int, h *hierarchy.Hierarchy) *Plan {
    return &Plan{
        ID:          id,
        Name:        name,
        Owner:       owner,
        Version:     version,
        h:           h,
        res:         resolver.New(h),
        rows:        map[string][]*DistrictVersion{},
        locked:      map[string]bool{},
        simplifyTol: geo.DefaultTolerance,
    }
}

// AddDistrict registers a new empty district at the current version.
func (p *Plan) AddDistrict(districtID string) error {
    if districtID == "" {
        return fmt.Errorf("empty district id: %w", model.ErrInvalidArgument)
    }
    if _, ok := p.rows[districtID]; ok {
        return fmt.Errorf("district %q exists: %w", districtID, model.ErrInvalidArgument)
    }
    row, err := p.buildRow(districtID, p.Version, nil)
    if err != nil {
        return err
    }
    p.rows[districtID] = []*DistrictVersion{row}
    p.order = append(p.order, districtID)
    return nil
}

// RestoreDistrict registers a district without creating a row.
func (p *Plan) RestoreDistrict(districtID string, locked bool) {
    if _, ok := p.rows[districtID]; !ok {
        p.rows[districtID] = nil
        p.order = append(p.order, districtID)
    }
    p.locked[districtID] = locked
}

// RestoreRow appends a stored row, recomputing geometry and aggregates from
// the member set. Rows must arrive in ascending version order per district.
func (p *Plan) RestoreRow(districtID string, version int, memberIDs []string) error {
    if _, ok := p.rows[districtID]; !ok {
        p.RestoreDistrict(districtID, false)
    }
    members := make(map[string]struct{}, len(memberIDs))
    for _, id := range memberIDs {
        members[id] = struct{}{}
    }
    row, err := p.buildRow(districtID, version, members)
    if err != nil {
        return err
    }
    p.rows[districtID] = append(p.rows[districtID], row)
    return nil
}

// Districts returns the district ids in creation order.
func (p *Plan) Districts() []string {
    out := make([]string, len(p.order))
    copy(out, p.order)
    return out
}

// HasDistrict reports whether districtID exists in the plan.
func (p *Plan) HasDistrict(districtID string) bool {
    _, ok := p.rows[districtID]
    return ok
}

// IsLocked reports the district's current lock state.
func (p *Plan) IsLocked(districtID string) bool { return p.locked[districtID] }

// SetLocked flips the district's lock. Locks are current-scoped: they gate
// future edits, never rewrite history.
func (p *Plan) SetLocked(districtID string, locked bool) error {
    if _, ok := p.rows[districtID]; !ok {
        return fmt.Errorf("district %q: %w", districtID, model.ErrNotFound)
    }
    p.locked[districtID] = locked
    return nil
}

// current returns the district's latest row, nil when purged empty.
func (p *Plan) current(districtID string) *DistrictVersion {
    rs := p.rows[districtID]
    if len(rs) == 0 {
        return nil
    }
    return rs[len(rs)-1]
}

// rowAt returns the district's greatest row at or before version.
func (p *Plan) rowAt(districtID string, version int) *DistrictVersion {
    rs := p.rows[districtID]
    for i := len(rs) - 1; i >= 0; i-- {
        if rs[i].Version <= version {
            return rs[i]
        }
    }
    return nil
}

// District returns the district's row as of version.
func (p *Plan) District(districtID string, version int) (*DistrictVersion, error) {
    if _, ok := p.rows[districtID]; !ok {
        return nil, fmt.Errorf("district %q: %w", districtID, model.ErrNotFound)
    }
    row := p.rowAt(districtID, version)
    if row == nil {
        return nil, fmt.Errorf("district %q at version %d: %w", districtID, version, model.ErrNotFound)
    }
    return row, nil
}

// CurrentAt returns the rows current as of version, in district order.
// Districts with no row at or before version are omitted.
func (p *Plan) CurrentAt(version int) []*DistrictVersion {
    out := make([]*DistrictVersion, 0, len(p.order))
    for _, id := range p.order {
        if row := p.rowAt(id, version); row != nil {
            out = append(out, row)
        }
    }
    return out
}

// VersionRow returns the exact (district, version) row if one was written.
func (p *Plan) VersionRow(districtID string, version int) (*DistrictVersion, bool) {
    for _, r := range p.rows[districtID] {
        if r.Version == version {
            return r, true
        }
    }
    return nil, false
}

// AddGeounits assigns the selected geounits to districtID, stealing them
// from unlocked districts that currently hold them. One call bumps the plan
// version once and writes new rows only for the districts whose membership
// changed. Units held by locked districts stay put. baseVersion records the
// version the editor was looking at; the edit always applies to current
// state.
func (p *Plan) AddGeounits(ctx context.Context, districtID string, geounitIDs []string, geolevel string, baseVersion int) (EditResult, error) {
    if _, ok := p.rows[districtID]; !ok {
        return EditResult{}, fmt.Errorf("district %q: %w", districtID, model.ErrNotFound)
    }
    if p.locked[districtID] {
        return EditResult{}, fmt.Errorf("district %q: %w", districtID, model.ErrLocked)
    }
    _ = baseVersion

    target := p.current(districtID)
    if target == nil {
        return EditResult{}, fmt.Errorf("district %q has no current row: %w", districtID, model.ErrNotFound)
    }

    // Units owned by locked districts never move.
    lockedHeld := map[string]struct{}{}
    var boundaryParts []geom.Geometry
    for _, other := range p.order {
        if other == districtID {
            continue
        }
        row := p.current(other)
        if row == nil {
            continue
        }
        if p.locked[other] {
            for id := range row.Members {
                lockedHeld[id] = struct{}{}
            }
            continue
        }
        if !geo.ZeroArea(row.Geom) {
            boundaryParts = append(boundaryParts, row.Geom)
        }
    }
    boundary, err := geo.UnionAll(boundaryParts)
    if err != nil {
        return EditResult{}, err
    }

    insideRefs, err := p.res.MixedGeounits(ctx, geounitIDs, geolevel, boundary, true)
    if err != nil {
        return EditResult{}, err
    }
    outsideRefs, err := p.res.MixedGeounits(ctx, geounitIDs, geolevel, boundary, false)
    if err != nil {
        return EditResult{}, err
    }
    inside := p.res.FlattenBase(insideRefs)
    outside := p.res.FlattenBase(outsideRefs)

    gains := map[string]struct{}{}
    for _, set := range []map[string]struct{}{inside, outside} {
        for id := range set {
            if _, held := lockedHeld[id]; held {
                continue
            }
            if _, have := target.Members[id]; have {
                continue
            }
            gains[id] = struct{}{}
        }
    }

    losses := map[string][]string{}
    for _, other := range p.order {
        if other == districtID || p.locked[other] {
            continue
        }
        row := p.current(other)
        if row == nil {
            continue
        }
        var loss []string
        for id := range row.Members {
            if _, ok := inside[id]; ok {
                loss = append(loss, id)
            }
        }
        if len(loss) > 0 {
            losses[other] = loss
        }
    }

    if len(gains) == 0 && len(losses) == 0 {
        return EditResult{Version: p.Version, NoOp: true}, nil
    }

    p.Version++
    var changed []string

    members := cloneSet(target.Members)
    for id := range gains {
        members[id] = struct{}{}
    }
    row, err := p.buildRow(districtID, p.Version, members)
    if err != nil {
        p.Version--
        return EditResult{}, err
    }
    pending := []*DistrictVersion{row}
    changed = append(changed, districtID)

    for _, other := range p.order {
        loss, ok := losses[other]
        if !ok {
            continue
        }
        members := cloneSet(p.current(other).Members)
        for _, id := range loss {
            delete(members, id)
        }
        row, err := p.buildRow(other, p.Version, members)
        if err != nil {
            p.Version--
            return EditResult{}, err
        }
        pending = append(pending, row)
        changed = append(changed, other)
    }
    for _, r := range pending {
        p.rows[r.DistrictID] = append(p.rows[r.DistrictID], r)
    }
    return EditResult{Version: p.Version, Changed: changed}, nil
}

// buildRow computes a row's geometry, simplified geometry and aggregates
// from its member set.
func (p *Plan) buildRow(districtID string, version int, members map[string]struct{}) (*DistrictVersion, error) {
    if members == nil {
        members = map[string]struct{}{}
    }
    ids := make([]string, 0, len(members))
    for id := range members {
        ids = append(ids, id)
    }
    sort.Strings(ids)

    geoms := make([]geom.Geometry, 0, len(ids))
    for _, id := range ids {
        u, ok := p.h.Unit(id)
        if !ok {
            return nil, fmt.Errorf("geounit %q: %w", id, model.ErrNotFound)
        }
        geoms = append(geoms, u.Geom)
    }
    g, err := geo.UnionAll(geoms)
    if err != nil {
        return nil, err
    }

    row := &DistrictVersion{
        DistrictID: districtID,
        Version:    version,
        Members:    members,
        Geom:       g,
        Simple:     geo.Simplify(g, p.simplifyTol),
    }
    for _, s := range p.h.Subjects() {
        n := decimal.Zero
        for _, id := range ids {
            u, _ := p.h.Unit(id)
            n = n.Add(u.Characteristic(s.Name))
        }
        pct := decimal.Zero
        if total := p.h.Total(s.Name); !total.IsZero() {
            pct = n.Div(total).Mul(hundred)
        }
        row.Chars = append(row.Chars, Characteristic{Subject: s.Name, Number: n, Percentage: pct})
    }
    return row, nil
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
    out := make(map[string]struct{}, len(s))
    for k := range s {
        out[k] = struct{}{}
    }
    return out
}

// BaseGeounits returns the atomic units geometrically covered by the
// district's current geometry, in base-level load order.
func (p *Plan) BaseGeounits(districtID string) ([]BaseUnit, error) {
    if _, ok := p.rows[districtID]; !ok {
        return nil, fmt.Errorf("district %q: %w", districtID, model.ErrNotFound)
    }
    row := p.current(districtID)
    if row == nil || geo.ZeroArea(row.Geom) {
        return nil, nil
    }
    var out []BaseUnit
    for _, u := range p.h.UnitsAt(p.h.BaseLevel()) {
        ok, err := geo.CoveredBy(u.Geom, row.Geom, geo.DefaultTolerance)
        if err != nil {
            return nil, err
        }
        if ok {
            out = append(out, p.baseUnit(u, districtID))
        }
    }
    return out, nil
}

// AssignedGeounits returns every atomic unit held by some district, in
// district then unit order.
func (p *Plan) AssignedGeounits() ([]BaseUnit, error) {
    var out []BaseUnit
    for _, id := range p.order {
        units, err := p.BaseGeounits(id)
        if err != nil {
            return nil, err
        }
        out = append(out, units...)
    }
    return out, nil
}

// UnassignedGeounits returns the atomic units no district holds.
func (p *Plan) UnassignedGeounits() ([]BaseUnit, error) {
    assigned, err := p.AssignedGeounits()
    if err != nil {
        return nil, err
    }
    taken := make(map[string]struct{}, len(assigned))
    for _, b := range assigned {
        taken[b.GeounitID] = struct{}{}
    }
    var out []BaseUnit
    for _, u := range p.h.UnitsAt(p.h.BaseLevel()) {
        if _, ok := taken[u.ID]; ok {
            continue
        }
        out = append(out, p.baseUnit(u, ""))
    }
    return out, nil
}

func (p *Plan) baseUnit(u *hierarchy.Unit, districtID string) BaseUnit {
    chars := make(map[string]decimal.Decimal, len(p.h.Subjects()))
    for _, s := range p.h.Subjects() {
        chars[s.Name] = u.Characteristic(s.Name)
    }
    return BaseUnit{GeounitID: u.ID, DistrictID: districtID, Chars: chars}
}

// Purge deletes rows outside the retention window and returns how many were
// dropped. Purge(before=N) keeps, per district, the one row that was
// current at cut N plus everything at or after N; Purge(after=N) discards
// all rows beyond N. Out-of-range cuts are no-ops. The plan version never
// changes.
func (p *Plan) Purge(before, after *int) int {
    deleted := 0
    if after != nil {
        var keepOrder []string
        for _, id := range p.order {
            var kept []*DistrictVersion
            for _, r := range p.rows[id] {
                if r.Version > *after {
                    deleted++
                    continue
                }
                kept = append(kept, r)
            }
            if len(kept) == 0 {
                delete(p.rows, id)
                delete(p.locked, id)
                continue
            }
            p.rows[id] = kept
            keepOrder = append(keepOrder, id)
        }
        p.order = keepOrder
    }
    if before != nil {
        for _, id := range p.order {
            cut := p.rowAt(id, *before)
            if cut == nil {
                continue
            }
            var kept []*DistrictVersion
            for _, r := range p.rows[id] {
                if r.Version < cut.Version {
                    deleted++
                    continue
                }
                kept = append(kept, r)
            }
            p.rows[id] = kept
        }
    }
    return deleted
}

// NthPreviousVersion walks back steps distinct versions that still have
// rows, bottoming out at 0. Zero or negative steps return the current
// version.
func (p *Plan) NthPreviousVersion(steps int) int {
    if steps <= 0 {
        return p.Version
    }
    seen := map[int]struct{}{}
    for _, rs := range p.rows {
        for _, r := range rs {
            if r.Version < p.Version {
                seen[r.Version] = struct{}{}
            }
        }
    }
    versions := make([]int, 0, len(seen))
    for v := range seen {
        versions = append(versions, v)
    }
    sort.Sort(sort.Reverse(sort.IntSlice(versions)))
    if steps > len(versions) {
        return 0
    }
    return versions[steps-1]
}

// Copy clones the plan's current state into a fresh version-0 plan. History
// and locks do not carry over.
func (p *Plan) Copy(id, name, owner string) (*Plan, error) {
    out := Restore(id, name, owner, 0, p.h)
    out.CreatedAt = time.Now().UTC()
    for _, did := range p.order {
        out.RestoreDistrict(did, false)
        row := p.current(did)
        if row == nil {
            row = &DistrictVersion{Members: map[string]struct{}{}}
        }
        ids := make([]string, 0, len(row.Members))
        for id := range row.Members {
            ids = append(ids, id)
        }
        if err := out.RestoreRow(did, 0, ids); err != nil {
            return nil, err
        }
    }
    return out, nil
}

// ScoreSnapshot converts the plan state at version into the snapshot shape
// the calculators consume.
func (p *Plan) ScoreSnapshot(version int) score.Plan {
    out := score.Plan{ID: p.ID}
    for _, row := range p.CurrentAt(version) {
        d := score.District{
            ID:    row.DistrictID,
            Geom:  row.Geom,
            Chars: make(map[string]float64, len(row.Chars)),
        }
        for _, c := range row.Chars {
            d.Chars[c.Subject] = c.Number.InexactFloat64()
        }
        out.Districts = append(out.Districts, d)
    }
    return out
}

// AllRows iterates every stored row in district order then version order.
func (p *Plan) AllRows(fn func(*DistrictVersion)) {
    for _, id := range p.order {
        for _, r := range p.rows[id] {
            fn(r)
        }
    }
}
