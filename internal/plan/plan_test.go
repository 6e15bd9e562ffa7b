package plan

import (
    "context"
    "errors"
    "math"
    "testing"

    "distmap/internal/hierarchy"
    "distmap/internal/importer"
    "distmap/internal/model"
    "distmap/internal/score"
)

func gridHierarchy(t *testing.T) *hierarchy.Hierarchy {
    t.Helper()
    h, _, err := hierarchy.Load(importer.NewGridSource(1), hierarchy.Options{})
    if err != nil { t.Fatalf("Load: %v", err) }
    return h
}

func newTestPlan(t *testing.T, districts ...string) *Plan {
    t.Helper()
    p, err := New("p1", "Test Plan", "alice", gridHierarchy(t), districts)
    if err != nil { t.Fatalf("New: %v", err) }
    return p
}

func edit(t *testing.T, p *Plan, did string, level string, ids ...string) EditResult {
    t.Helper()
    res, err := p.AddGeounits(context.Background(), did, ids, level, p.Version)
    if err != nil { t.Fatalf("AddGeounits(%s): %v", did, err) }
    return res
}

func memberCount(t *testing.T, p *Plan, did string) int {
    t.Helper()
    row, err := p.District(did, p.Version)
    if err != nil { t.Fatalf("District(%s): %v", did, err) }
    return len(row.Members)
}

func TestNewPlanStartsEmpty(t *testing.T) {
    p := newTestPlan(t, "d1", "d2")
    if p.Version != 0 { t.Fatalf("version: got %d", p.Version) }
    if got := p.Districts(); len(got) != 2 || got[0] != "d1" || got[1] != "d2" {
        t.Fatalf("districts: %v", got)
    }
    if memberCount(t, p, "d1") != 0 { t.Fatal("new district should be empty") }
    if err := p.AddDistrict("d1"); !errors.Is(err, model.ErrInvalidArgument) {
        t.Fatalf("duplicate district: %v", err)
    }
}

func TestAddGeounitsBumpsOncePerEdit(t *testing.T) {
    p := newTestPlan(t, "d1", "d2")
    // One edit moving three tracts writes one new version.
    res := edit(t, p, "d1", "tract", "tract-0000", "tract-0001", "tract-0002")
    if res.Version != 1 || res.NoOp { t.Fatalf("edit 1: %+v", res) }
    if len(res.Changed) != 1 || res.Changed[0] != "d1" { t.Fatalf("changed: %v", res.Changed) }
    if memberCount(t, p, "d1") != 27 { t.Fatalf("d1 members: %d", memberCount(t, p, "d1")) }

    // The untouched district keeps its version-0 row.
    if _, ok := p.VersionRow("d2", 1); ok { t.Fatal("d2 should have no version-1 row") }
    if _, ok := p.VersionRow("d1", 1); !ok { t.Fatal("d1 should have a version-1 row") }

    // History stays queryable: d1 at version 0 is still empty.
    row, err := p.District("d1", 0)
    if err != nil { t.Fatalf("District at 0: %v", err) }
    if len(row.Members) != 0 { t.Fatal("version-0 row should be empty") }
}

func TestAddGeounitsStealsFromUnlocked(t *testing.T) {
    p := newTestPlan(t, "d1", "d2")
    edit(t, p, "d1", "tract", "tract-0000", "tract-0001", "tract-0002")

    // d2 takes one of d1's tracts: both districts get new rows under one
    // version bump.
    res := edit(t, p, "d2", "tract", "tract-0000")
    if res.Version != 2 { t.Fatalf("version: %+v", res) }
    if len(res.Changed) != 2 { t.Fatalf("changed: %v", res.Changed) }
    if memberCount(t, p, "d1") != 18 { t.Fatalf("d1: %d", memberCount(t, p, "d1")) }
    if memberCount(t, p, "d2") != 9 { t.Fatalf("d2: %d", memberCount(t, p, "d2")) }

    // No unit sits in two districts.
    d1, _ := p.District("d1", p.Version)
    d2, _ := p.District("d2", p.Version)
    for id := range d2.Members {
        if _, dup := d1.Members[id]; dup { t.Fatalf("unit %s in both districts", id) }
    }
}

func TestAddGeounitsNoOp(t *testing.T) {
    p := newTestPlan(t, "d1", "d2")
    edit(t, p, "d2", "tract", "tract-0000")
    // Re-adding what the target already holds changes nothing and burns no
    // version.
    res := edit(t, p, "d2", "tract", "tract-0000")
    if !res.NoOp || res.Version != 1 { t.Fatalf("noop: %+v", res) }
    if p.Version != 1 { t.Fatalf("version bumped on noop: %d", p.Version) }
}

func TestAddGeounitsEmptySelection(t *testing.T) {
    p := newTestPlan(t, "d1")
    res := edit(t, p, "d1", "tract")
    if !res.NoOp { t.Fatalf("empty selection should be a noop: %+v", res) }
}

func TestLockedDistricts(t *testing.T) {
    p := newTestPlan(t, "d1", "d2")
    edit(t, p, "d1", "tract", "tract-0001")
    if err := p.SetLocked("d1", true); err != nil { t.Fatalf("lock: %v", err) }

    // Editing a locked district is refused outright.
    _, err := p.AddGeounits(context.Background(), "d1", []string{"tract-0002"}, "tract", p.Version)
    if !errors.Is(err, model.ErrLocked) { t.Fatalf("locked target: %v", err) }

    // Units held by a locked district never move; selecting only those is a
    // noop.
    res := edit(t, p, "d2", "tract", "tract-0001")
    if !res.NoOp { t.Fatalf("locked-held steal should noop: %+v", res) }
    if memberCount(t, p, "d1") != 9 { t.Fatalf("d1 lost units: %d", memberCount(t, p, "d1")) }

    // A mixed selection moves only the unheld units.
    res = edit(t, p, "d2", "tract", "tract-0001", "tract-0003")
    if res.NoOp { t.Fatalf("mixed selection: %+v", res) }
    if memberCount(t, p, "d1") != 9 || memberCount(t, p, "d2") != 9 {
        t.Fatalf("after mixed: d1=%d d2=%d", memberCount(t, p, "d1"), memberCount(t, p, "d2"))
    }

    // Unlock and the steal goes through.
    if err := p.SetLocked("d1", false); err != nil { t.Fatalf("unlock: %v", err) }
    res = edit(t, p, "d2", "tract", "tract-0001")
    if res.NoOp { t.Fatalf("post-unlock steal: %+v", res) }
    if memberCount(t, p, "d1") != 0 || memberCount(t, p, "d2") != 18 {
        t.Fatalf("after unlock: d1=%d d2=%d", memberCount(t, p, "d1"), memberCount(t, p, "d2"))
    }
}

func TestCharacteristics(t *testing.T) {
    p := newTestPlan(t, "d1")
    edit(t, p, "d1", "tract", "tract-0000")
    row, _ := p.District("d1", p.Version)
    pop, ok := row.Char("population")
    if !ok { t.Fatal("population characteristic missing") }
    if pop.Number.String() != "9" { t.Fatalf("population: %s", pop.Number) }
    // Nine of 81 atomic units.
    if pop.Percentage.IsZero() { t.Fatal("percentage should be set") }
    // The west column blocks lean democratic 2:1.
    dem, _ := row.Char("dem")
    rep, _ := row.Char("rep")
    if dem.Number.String() != "18" || rep.Number.String() != "9" {
        t.Fatalf("votes: dem=%s rep=%s", dem.Number, rep.Number)
    }
}

func restoredPlan(t *testing.T) *Plan {
    t.Helper()
    h := gridHierarchy(t)
    p := Restore("p1", "Restored", "alice", 9, h)
    rows := []struct {
        did     string
        version int
        members []string
    }{
        {"d1", 0, nil},
        {"d1", 2, []string{"block-0000"}},
        {"d1", 5, []string{"block-0000", "block-0001"}},
        {"d1", 9, []string{"block-0000", "block-0001", "block-0002"}},
        {"d2", 0, nil},
        {"d2", 3, []string{"block-0010"}},
        {"d3", 7, []string{"block-0020"}},
    }
    p.RestoreDistrict("d1", false)
    p.RestoreDistrict("d2", false)
    p.RestoreDistrict("d3", false)
    for _, r := range rows {
        if err := p.RestoreRow(r.did, r.version, r.members); err != nil {
            t.Fatalf("RestoreRow: %v", err)
        }
    }
    return p
}

func TestPurgeAfter(t *testing.T) {
    p := restoredPlan(t)
    deleted := p.Purge(nil, intp(5))
    // d1 loses version 9; d3 loses its only row and disappears entirely.
    if deleted != 2 { t.Fatalf("deleted: %d", deleted) }
    if p.HasDistrict("d3") { t.Fatal("d3 should be gone") }
    if got := p.Districts(); len(got) != 2 { t.Fatalf("districts: %v", got) }
    if _, ok := p.VersionRow("d1", 9); ok { t.Fatal("d1 v9 should be gone") }
    if _, ok := p.VersionRow("d1", 5); !ok { t.Fatal("d1 v5 should remain") }
    if p.Version != 9 { t.Fatalf("plan version changed: %d", p.Version) }
}

func TestPurgeBefore(t *testing.T) {
    p := restoredPlan(t)
    deleted := p.Purge(intp(3), nil)
    // d1's row current at cut 3 is v2, so v0 goes; d2 keeps v3, drops v0;
    // d3's v7 is after the cut and survives.
    if deleted != 2 { t.Fatalf("deleted: %d", deleted) }
    if _, ok := p.VersionRow("d1", 0); ok { t.Fatal("d1 v0 should be gone") }
    if _, ok := p.VersionRow("d1", 2); !ok { t.Fatal("d1 v2 should remain") }
    if _, ok := p.VersionRow("d2", 3); !ok { t.Fatal("d2 v3 should remain") }
    if _, ok := p.VersionRow("d3", 7); !ok { t.Fatal("d3 v7 should remain") }
    // Reads at old versions now resolve to the kept rows.
    row, err := p.District("d1", 3)
    if err != nil { t.Fatalf("District: %v", err) }
    if row.Version != 2 { t.Fatalf("cut row: v%d", row.Version) }
}

func TestNthPreviousVersion(t *testing.T) {
    p := restoredPlan(t)
    // Distinct archived versions below current (9): 7, 5, 3, 2, 0.
    cases := []struct{ steps, want int }{
        {0, 9}, {-1, 9}, {1, 7}, {2, 5}, {3, 3}, {4, 2}, {5, 0}, {6, 0}, {99, 0},
    }
    for _, c := range cases {
        if got := p.NthPreviousVersion(c.steps); got != c.want {
            t.Fatalf("steps %d: got %d, want %d", c.steps, got, c.want)
        }
    }
}

func TestCopy(t *testing.T) {
    p := newTestPlan(t, "d1", "d2")
    edit(t, p, "d1", "tract", "tract-0000")
    p.SetLocked("d1", true)

    cp, err := p.Copy("p2", "Copy", "bob")
    if err != nil { t.Fatalf("Copy: %v", err) }
    if cp.Version != 0 { t.Fatalf("copy version: %d", cp.Version) }
    if cp.IsLocked("d1") { t.Fatal("locks should not carry over") }
    if memberCount(t, cp, "d1") != 9 { t.Fatalf("copy members: %d", memberCount(t, cp, "d1")) }
    // The copy is detached: editing it leaves the original alone.
    edit(t, cp, "d2", "tract", "tract-0004")
    if p.Version != 1 { t.Fatalf("original version moved: %d", p.Version) }
    if memberCount(t, p, "d2") != 0 { t.Fatal("original d2 gained members") }
}

func TestBaseAssignedUnassigned(t *testing.T) {
    p := newTestPlan(t, "d1", "d2")
    edit(t, p, "d1", "tract", "tract-0000", "tract-0001", "tract-0002")
    edit(t, p, "d2", "tract", "tract-0003")

    base, err := p.BaseGeounits("d1")
    if err != nil { t.Fatalf("BaseGeounits: %v", err) }
    if len(base) != 27 { t.Fatalf("d1 base units: %d", len(base)) }
    for _, b := range base {
        if b.DistrictID != "d1" { t.Fatalf("unit %s owner %q", b.GeounitID, b.DistrictID) }
    }

    assigned, err := p.AssignedGeounits()
    if err != nil { t.Fatalf("Assigned: %v", err) }
    unassigned, err := p.UnassignedGeounits()
    if err != nil { t.Fatalf("Unassigned: %v", err) }
    if len(assigned) != 36 || len(unassigned) != 45 {
        t.Fatalf("assigned=%d unassigned=%d", len(assigned), len(unassigned))
    }
    for _, b := range unassigned {
        if b.DistrictID != "" { t.Fatalf("unassigned unit %s has owner", b.GeounitID) }
    }
}

func TestNestedGridAssignment(t *testing.T) {
    h, _, err := hierarchy.Load(importer.NewGridSource(3), hierarchy.Options{})
    if err != nil { t.Fatalf("Load: %v", err) }
    p, err := New("p1", "Nested", "alice", h, []string{"a"})
    if err != nil { t.Fatalf("New: %v", err) }

    // Two adjacent rows of three tracts each: a 1/3 x 2/9 band.
    tracts := []string{
        "tract-0000", "tract-0001", "tract-0002",
        "tract-0009", "tract-0010", "tract-0011",
    }
    res, err := p.AddGeounits(context.Background(), "a", tracts, "tract", 0)
    if err != nil { t.Fatalf("AddGeounits: %v", err) }
    if res.NoOp { t.Fatal("edit should apply") }

    base, err := p.BaseGeounits("a")
    if err != nil { t.Fatalf("BaseGeounits: %v", err) }
    if len(base) != 54 { t.Fatalf("base units: %d", len(base)) }

    snap := p.ScoreSnapshot(p.Version)
    fn := score.Function{Name: "compact", Calculator: "Schwartzberg"}
    got, err := fn.ScoreDistrict(&snap.Districts[0], "")
    if err != nil { t.Fatalf("ScoreDistrict: %v", err) }
    want := 0.86832150547
    if v := got.(float64); math.Abs(v-want) > 1e-9 {
        t.Fatalf("schwartzberg: got %.11f, want %.11f", v, want)
    }
}

func TestScoreSnapshot(t *testing.T) {
    p := newTestPlan(t, "d1", "d2")
    edit(t, p, "d1", "tract", "tract-0000")
    snap := p.ScoreSnapshot(p.Version)
    if len(snap.Districts) != 2 { t.Fatalf("districts: %d", len(snap.Districts)) }
    if snap.Districts[0].Chars["population"] != 9 {
        t.Fatalf("population: %v", snap.Districts[0].Chars["population"])
    }
    // Historic snapshot: both districts empty at version 0.
    snap = p.ScoreSnapshot(0)
    if snap.Districts[0].Chars["population"] != 0 { t.Fatal("version-0 snapshot should be empty") }
}

func intp(v int) *int { return &v }
