//go:build postgres_integration

package store

import (
    "os"
    "testing"

    "distmap/internal/hierarchy"
    "distmap/internal/importer"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(dsn)
    if err != nil { t.Fatalf("NewPostgres: %v", err) }
    if err := p.Ping(t.Context()); err != nil { t.Fatalf("Ping: %v", err) }
    if err := p.MigrateDir("../../db/migrations"); err != nil { t.Fatalf("MigrateDir: %v", err) }
    if err := p.SeedFrom(t.Context(), importer.NewGridSource(1)); err != nil { t.Fatalf("SeedFrom: %v", err) }
    if _, err := p.LoadHierarchy(hierarchy.Options{}); err != nil { t.Fatalf("LoadHierarchy: %v", err) }
    if _, _, err := p.ListPlans(t.Context(), "", 1); err != nil { t.Fatalf("ListPlans: %v", err) }
}
