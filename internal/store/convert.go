package store

import (
    "time"

    "distmap/internal/model"
    "distmap/internal/plan"
)

func planOut(p *plan.Plan) model.PlanOut {
    out := model.PlanOut{
        ID:        p.ID,
        Name:      p.Name,
        Owner:     p.Owner,
        Version:   p.Version,
        Districts: p.Districts(),
    }
    if !p.CreatedAt.IsZero() {
        out.CreatedAt = p.CreatedAt.Format(time.RFC3339)
    }
    return out
}

func districtOut(p *plan.Plan, row *plan.DistrictVersion) model.DistrictOut {
    out := model.DistrictOut{
        DistrictID: row.DistrictID,
        Version:    row.Version,
        IsLocked:   p.IsLocked(row.DistrictID),
        UnitCount:  len(row.Members),
    }
    if !row.Geom.IsEmpty() {
        out.Geom = row.Geom.AsText()
        out.Simple = row.Simple.AsText()
    }
    for _, c := range row.Chars {
        out.Chars = append(out.Chars, model.CharacteristicOut{
            Subject:    c.Subject,
            Number:     c.Number.String(),
            Percentage: c.Percentage.String(),
        })
    }
    return out
}

func baseUnitsOut(units []plan.BaseUnit) []model.BaseUnitOut {
    out := []model.BaseUnitOut{}
    for _, u := range units {
        item := model.BaseUnitOut{GeounitID: u.GeounitID, DistrictID: u.DistrictID, Chars: map[string]string{}}
        for s, n := range u.Chars {
            item.Chars[s] = n.String()
        }
        out = append(out, item)
    }
    return out
}
