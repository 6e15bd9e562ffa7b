package score

// Function binds a registered calculator to a fixed argument dictionary.
// PlanScore marks calculators that aggregate across a whole plan; for the
// rest a plan-level score is the ordered sequence of per-district results.
type Function struct {
    Name       string `json:"name"`
    Calculator string `json:"calculator"`
    PlanScore  bool   `json:"planScore"`
    Args       Args   `json:"args"`
}

// instantiate resolves the calculator name against the registry. Resolution
// happens here, at score time, so a bad name surfaces only when scored.
func (f Function) instantiate() (Calculator, error) {
    c, err := New(f.Calculator)
    if err != nil {
        return nil, err
    }
    c.SetArgs(f.Args)
    return c, nil
}

// ScoreDistrict evaluates the function against one district and renders the
// result in format.
func (f Function) ScoreDistrict(d *District, format string) (any, error) {
    c, err := f.instantiate()
    if err != nil {
        return nil, err
    }
    if err := c.ComputeDistrict(d); err != nil {
        return nil, err
    }
    return Format(c.Result(), format)
}

// ScorePlan evaluates the function against a plan snapshot. Non-aggregating
// functions yield one result per district, in district order.
func (f Function) ScorePlan(p *Plan, format string) (any, error) {
    c, err := f.instantiate()
    if err != nil {
        return nil, err
    }
    if f.PlanScore {
        if err := c.ComputePlan(p); err != nil {
            return nil, err
        }
        return Format(c.Result(), format)
    }
    out := make([]any, 0, len(p.Districts))
    for i := range p.Districts {
        if err := c.ComputeDistrict(&p.Districts[i]); err != nil {
            return nil, err
        }
        v, err := Format(c.Result(), format)
        if err != nil {
            return nil, err
        }
        out = append(out, v)
    }
    return out, nil
}

// ScorePlans evaluates the function against several plans, one result per
// plan in input order.
func (f Function) ScorePlans(ps []*Plan, format string) ([]any, error) {
    out := make([]any, 0, len(ps))
    for _, p := range ps {
        v, err := f.ScorePlan(p, format)
        if err != nil {
            return nil, err
        }
        out = append(out, v)
    }
    return out, nil
}
