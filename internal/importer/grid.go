package importer

import (
    "fmt"
    "strconv"
)

// GridSource is a deterministic in-process Source covering the unit square
// with three nested levels of square cells. Each level subdivides the one
// above it 3x3, so a side of 3 yields 9 counties, 81 tracts and 729 blocks.
// It backs the dev server when no database is configured, and the tests.
type GridSource struct {
    side int
}

// NewGridSource returns a grid fixture with side top-level cells per axis.
func NewGridSource(side int) *GridSource {
    if side < 1 {
        side = 1
    }
    return &GridSource{side: side}
}

func (s *GridSource) Name() string { return "grid" }

func (s *GridSource) Levels() ([]LevelSpec, error) {
    return []LevelSpec{
        {Name: "county", Rank: 0},
        {Name: "tract", Rank: 1},
        {Name: "block", Rank: 2},
    }, nil
}

func (s *GridSource) Subjects() ([]SubjectSpec, error) {
    return []SubjectSpec{
        {Name: "population", Display: "Total Population"},
        {Name: "dem", Display: "Democratic Votes"},
        {Name: "rep", Display: "Republican Votes"},
    }, nil
}

func (s *GridSource) dim(level string) int {
    switch level {
    case "county":
        return s.side
    case "tract":
        return s.side * 3
    case "block":
        return s.side * 9
    }
    return 0
}

func (s *GridSource) Units(level string) ([]UnitFeature, error) {
    dim := s.dim(level)
    if dim == 0 {
        return nil, fmt.Errorf("unknown level %q", level)
    }
    out := make([]UnitFeature, 0, dim*dim)
    for row := 0; row < dim; row++ {
        for col := 0; col < dim; col++ {
            f := UnitFeature{
                ID:   fmt.Sprintf("%s-%04d", level, row*dim+col),
                Name: fmt.Sprintf("%s %d,%d", level, col, row),
                WKT:  cellWKT(col, row, dim),
            }
            if level == "block" {
                f.Values = s.blockValues(col)
            }
            out = append(out, f)
        }
    }
    return out, nil
}

// blockValues skews the western half of the grid toward one party so the
// partisan scores have something to measure.
func (s *GridSource) blockValues(col int) map[string]string {
    dem, rep := "1", "2"
    if col < s.dim("block")/2 {
        dem, rep = "2", "1"
    }
    return map[string]string{"population": "1", "dem": dem, "rep": rep}
}

func cellWKT(col, row, dim int) string {
    x0 := coord(col, dim)
    x1 := coord(col+1, dim)
    y0 := coord(row, dim)
    y1 := coord(row+1, dim)
    return fmt.Sprintf("POLYGON((%s %s,%s %s,%s %s,%s %s,%s %s))",
        x0, y0, x1, y0, x1, y1, x0, y1, x0, y0)
}

func coord(i, dim int) string {
    return strconv.FormatFloat(float64(i)/float64(dim), 'f', -1, 64)
}
