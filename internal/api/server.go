package api

import (
    "context"
    "fmt"
    "os"
    "strings"

    "distmap/internal/auth"
    "distmap/internal/hierarchy"
    "distmap/internal/importer"
    "distmap/internal/store"
    "distmap/internal/webhooks"
)

type Server struct {
    Store  store.Store
    Pub    *webhooks.Publisher
    Auth   *auth.Verifier
    Broker EventBroker
    limits *editLimiter
}

// NewServer creates a Server. If DATABASE_URL is unset, uses an in-memory
// store seeded from the demo grid source.
func NewServer() (*Server, error) {
    cfg := hierarchyConfig()
    opts := cfg.Options()
    dsn := os.Getenv("DATABASE_URL")
    var s store.Store
    if strings.TrimSpace(dsn) == "" {
        h, _, err := hierarchy.Load(importer.NewGridSource(3), opts)
        if err != nil {
            return nil, fmt.Errorf("load demo hierarchy: %w", err)
        }
        s = store.NewMemory(h)
    } else {
        sp, err := store.NewPostgres(dsn)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        if os.Getenv("DB_MIGRATE") != "false" {
            _ = sp.MigrateDir("db/migrations")
        }
        if os.Getenv("DB_SEED") == "true" {
            if err := sp.SeedFrom(context.Background(), importer.NewGridSource(3)); err != nil {
                return nil, fmt.Errorf("seed reference tables: %w", err)
            }
        }
        if _, err := sp.LoadHierarchy(opts); err != nil {
            return nil, fmt.Errorf("load hierarchy: %w", err)
        }
        s = sp
    }
    s.Hierarchy().ApplyDisplayOverrides(cfg.DisplayOverrides)
    // Broker selection
    var broker EventBroker
    if os.Getenv("REDIS_URL") != "" {
        if rb, err := NewRedisBroker(); err == nil { broker = rb } else { broker = NewBroker() }
    } else {
        broker = NewBroker()
    }
    return &Server{
        Store:  s,
        Pub:    webhooks.NewPublisher(s),
        Auth:   auth.NewVerifierFromEnv(),
        Broker: broker,
        limits: newEditLimiter(),
    }, nil
}

func hierarchyConfig() hierarchy.Config {
    path := os.Getenv("HIERARCHY_CONFIG")
    if path == "" { return hierarchy.Config{} }
    cfg, err := hierarchy.LoadConfig(path)
    if err != nil { return hierarchy.Config{} }
    return cfg
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store)
}
