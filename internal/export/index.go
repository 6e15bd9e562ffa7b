// Package export renders plan snapshots for download.
package export

import (
    "archive/zip"
    "encoding/csv"
    "fmt"
    "io"
    "strings"
)

// WriteIndex writes a zip archive holding <planName>.csv: one row per base
// geounit in load order, mapping geounit id to its assigned district id,
// "NA" where unassigned.
func WriteIndex(w io.Writer, planName string, baseIDs []string, assigned map[string]string) error {
    zw := zip.NewWriter(w)
    f, err := zw.Create(safeName(planName) + ".csv")
    if err != nil {
        return err
    }
    cw := csv.NewWriter(f)
    for _, id := range baseIDs {
        district := assigned[id]
        if district == "" {
            district = "NA"
        }
        if err := cw.Write([]string{id, district}); err != nil {
            return err
        }
    }
    cw.Flush()
    if err := cw.Error(); err != nil {
        return err
    }
    if err := zw.Close(); err != nil {
        return fmt.Errorf("close archive: %w", err)
    }
    return nil
}

// safeName strips path separators and spaces from a plan name so it can be
// used as an archive member name.
func safeName(name string) string {
    r := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
    out := r.Replace(strings.TrimSpace(name))
    if out == "" {
        out = "plan"
    }
    return out
}
