package score

import (
    "distmap/internal/geo"
)

func init() {
    Register("Sum", func() Calculator { return &SumCalc{} })
    Register("Percent", func() Calculator { return &PercentCalc{} })
    Register("Threshold", func() Calculator { return &ThresholdCalc{} })
    Register("Range", func() Calculator { return &RangeCalc{} })
    Register("Equivalence", func() Calculator { return &EquivalenceCalc{} })
    Register("Schwartzberg", func() Calculator { return &SchwartzbergCalc{} })
    Register("Contiguity", func() Calculator { return &ContiguityCalc{} })
    Register("PartisanDifferential", func() Calculator { return &PartisanDifferentialCalc{} })
    Register("RepresentationalFairness", func() Calculator { return &FairnessCalc{} })
}

// SumCalc adds every argument. Against a plan it sums the per-district sum
// over all districts, so literal arguments count once per district.
type SumCalc struct{ base }

func (c *SumCalc) districtSum(d *District) (float64, error) {
    total := 0.0
    for _, name := range c.argNames() {
        v, _, err := c.number(name, d)
        if err != nil {
            return 0, err
        }
        total += v
    }
    return total, nil
}

func (c *SumCalc) ComputeDistrict(d *District) error {
    v, err := c.districtSum(d)
    if err != nil {
        return err
    }
    c.result = v
    return nil
}

func (c *SumCalc) ComputePlan(p *Plan) error {
    total := 0.0
    for i := range p.Districts {
        v, err := c.districtSum(&p.Districts[i])
        if err != nil {
            return err
        }
        total += v
    }
    c.result = total
    return nil
}

// PercentCalc divides numerator by denominator. Against a plan both sides
// are summed across districts before dividing.
type PercentCalc struct{ base }

func (c *PercentCalc) ComputeDistrict(d *District) error {
    num, err := c.require("numerator", d)
    if err != nil {
        return err
    }
    den, err := c.require("denominator", d)
    if err != nil {
        return err
    }
    if den == 0 {
        return ErrDivisionByZero
    }
    c.result = num / den
    return nil
}

func (c *PercentCalc) ComputePlan(p *Plan) error {
    var num, den float64
    for i := range p.Districts {
        d := &p.Districts[i]
        n, err := c.require("numerator", d)
        if err != nil {
            return err
        }
        dv, err := c.require("denominator", d)
        if err != nil {
            return err
        }
        num += n
        den += dv
    }
    if den == 0 {
        return ErrDivisionByZero
    }
    c.result = num / den
    return nil
}

// ThresholdCalc reports whether value strictly exceeds threshold. Against a
// plan it yields one verdict per district.
type ThresholdCalc struct{ base }

func (c *ThresholdCalc) ComputeDistrict(d *District) error {
    v, err := c.require("value", d)
    if err != nil {
        return err
    }
    t, err := c.require("threshold", d)
    if err != nil {
        return err
    }
    c.result = v > t
    return nil
}

func (c *ThresholdCalc) ComputePlan(p *Plan) error {
    out := make([]any, 0, len(p.Districts))
    for i := range p.Districts {
        if err := c.ComputeDistrict(&p.Districts[i]); err != nil {
            return err
        }
        out = append(out, c.result)
    }
    c.result = out
    return nil
}

// RangeCalc reports whether min < value < max, both bounds exclusive.
type RangeCalc struct{ base }

func (c *RangeCalc) ComputeDistrict(d *District) error {
    v, err := c.require("value", d)
    if err != nil {
        return err
    }
    lo, err := c.require("min", d)
    if err != nil {
        return err
    }
    hi, err := c.require("max", d)
    if err != nil {
        return err
    }
    c.result = lo < v && v < hi
    return nil
}

func (c *RangeCalc) ComputePlan(p *Plan) error {
    out := make([]any, 0, len(p.Districts))
    for i := range p.Districts {
        if err := c.ComputeDistrict(&p.Districts[i]); err != nil {
            return err
        }
        out = append(out, c.result)
    }
    c.result = out
    return nil
}

// EquivalenceCalc measures how evenly value is spread across a plan's
// districts: the spread between the largest and smallest district value.
// Zero means perfectly even.
type EquivalenceCalc struct{ base }

func (c *EquivalenceCalc) ComputeDistrict(_ *District) error {
    return errPlanOnly("Equivalence")
}

func (c *EquivalenceCalc) ComputePlan(p *Plan) error {
    if len(p.Districts) == 0 {
        c.result = 0.0
        return nil
    }
    var lo, hi float64
    for i := range p.Districts {
        v, err := c.require("value", &p.Districts[i])
        if err != nil {
            return err
        }
        if i == 0 || v < lo {
            lo = v
        }
        if i == 0 || v > hi {
            hi = v
        }
    }
    c.result = hi - lo
    return nil
}

// SchwartzbergCalc scores compactness: the ratio of the circumference of
// the equal-area circle to the district perimeter, 1.0 being a circle.
// Against a plan it averages over districts that enclose area.
type SchwartzbergCalc struct{ base }

func (c *SchwartzbergCalc) ComputeDistrict(d *District) error {
    c.result = geo.Schwartzberg(d.Geom)
    return nil
}

func (c *SchwartzbergCalc) ComputePlan(p *Plan) error {
    var sum float64
    n := 0
    for i := range p.Districts {
        if geo.ZeroArea(p.Districts[i].Geom) {
            continue
        }
        sum += geo.Schwartzberg(p.Districts[i].Geom)
        n++
    }
    if n == 0 {
        c.result = 0.0
        return nil
    }
    c.result = sum / float64(n)
    return nil
}

// ContiguityCalc reports whether a district is one connected piece.
type ContiguityCalc struct{ base }

func (c *ContiguityCalc) ComputeDistrict(d *District) error {
    c.result = geo.IsContiguous(d.Geom)
    return nil
}

func (c *ContiguityCalc) ComputePlan(p *Plan) error {
    out := make([]any, 0, len(p.Districts))
    for i := range p.Districts {
        if err := c.ComputeDistrict(&p.Districts[i]); err != nil {
            return err
        }
        out = append(out, c.result)
    }
    c.result = out
    return nil
}

// PartisanDifferentialCalc scores how lopsided a district is: the majority
// party's share of the two-party vote, 0.5 being a dead heat and 1.0 a
// sweep. Districts with no votes score zero. Against a plan it averages
// over districts with votes.
type PartisanDifferentialCalc struct{ base }

func (c *PartisanDifferentialCalc) share(d *District) (float64, bool, error) {
    dem, err := c.require("democratic", d)
    if err != nil {
        return 0, false, err
    }
    rep, err := c.require("republican", d)
    if err != nil {
        return 0, false, err
    }
    if dem+rep == 0 {
        return 0, false, nil
    }
    maj := dem
    if rep > maj {
        maj = rep
    }
    return maj / (dem + rep), true, nil
}

func (c *PartisanDifferentialCalc) ComputeDistrict(d *District) error {
    v, _, err := c.share(d)
    if err != nil {
        return err
    }
    c.result = v
    return nil
}

func (c *PartisanDifferentialCalc) ComputePlan(p *Plan) error {
    var sum float64
    n := 0
    for i := range p.Districts {
        v, ok, err := c.share(&p.Districts[i])
        if err != nil {
            return err
        }
        if !ok {
            continue
        }
        sum += v
        n++
    }
    if n == 0 {
        c.result = 0.0
        return nil
    }
    c.result = sum / float64(n)
    return nil
}

// FairnessCalc measures representational fairness across a plan: the share
// of contested districts favoring the democratic side minus the 0.5
// expected under an even seat split. Positive values favor the democratic
// side; zero is even.
type FairnessCalc struct{ base }

func (c *FairnessCalc) ComputeDistrict(_ *District) error {
    return errPlanOnly("RepresentationalFairness")
}

func (c *FairnessCalc) ComputePlan(p *Plan) error {
    seats, demSeats := 0, 0
    for i := range p.Districts {
        d := &p.Districts[i]
        dem, err := c.require("democratic", d)
        if err != nil {
            return err
        }
        rep, err := c.require("republican", d)
        if err != nil {
            return err
        }
        if dem+rep == 0 {
            continue
        }
        seats++
        if dem > rep {
            demSeats++
        }
    }
    if seats == 0 {
        c.result = 0.0
        return nil
    }
    c.result = float64(demSeats)/float64(seats) - 0.5
    return nil
}
