// Package importer defines the boundary between the redistricting core and
// the offline geodata pipeline. The core never authors geounit geometry or
// demographics; an external ETL produces them and the hierarchy loader
// consumes them through the Source interface.
package importer

// LevelSpec describes one geographic level, coarsest first.
type LevelSpec struct {
    Name string `json:"name"`
    Rank int    `json:"rank"`
}

// SubjectSpec describes one numeric attribute tracked per geounit.
type SubjectSpec struct {
    Name    string `json:"name"`
    Display string `json:"display"`
}

// UnitFeature is one geounit emitted by a Source. Values holds the raw
// per-subject numbers as strings; the loader parses them and substitutes
// zero for anything unparseable.
type UnitFeature struct {
    ID     string            `json:"id"`
    Name   string            `json:"name"`
    WKT    string            `json:"wkt"`
    Values map[string]string `json:"values"`
}

// Source supplies the static reference data for one study area.
type Source interface {
    Name() string
    Levels() ([]LevelSpec, error)
    Subjects() ([]SubjectSpec, error)
    Units(level string) ([]UnitFeature, error)
}
