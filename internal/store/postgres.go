package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "distmap/internal/hierarchy"
    "distmap/internal/importer"
    "distmap/internal/model"
    "distmap/internal/plan"
    "distmap/internal/score"
)

// Postgres persists plans as immutable district rows plus a denormalized
// aggregate table. Mutations load the plan, run the engine, and write back
// only the rows the edit produced, inside one transaction.
type Postgres struct {
    db *sql.DB
    h  *hierarchy.Hierarchy
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

// Ping checks database connectivity for readiness probes.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in name order.
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil {
        return err
    }
    var files []string
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
            files = append(files, e.Name())
        }
    }
    sort.Strings(files)
    for _, f := range files {
        b, err := os.ReadFile(filepath.Join(dir, f))
        if err != nil {
            return err
        }
        if _, err := p.db.Exec(string(b)); err != nil {
            return fmt.Errorf("migrate %s: %w", f, err)
        }
    }
    return nil
}

// SeedFrom loads reference data from src into empty reference tables. A
// feature with unusable geometry is skipped, not fatal.
func (p *Postgres) SeedFrom(ctx context.Context, src importer.Source) error {
    var n int
    if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM geolevels`).Scan(&n); err != nil {
        return err
    }
    if n > 0 {
        return nil
    }
    levels, err := src.Levels()
    if err != nil { return err }
    subjects, err := src.Subjects()
    if err != nil { return err }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    for _, l := range levels {
        if _, err := tx.ExecContext(ctx, `INSERT INTO geolevels (name, rank) VALUES ($1,$2) ON CONFLICT DO NOTHING`, l.Name, l.Rank); err != nil {
            return err
        }
    }
    for _, s := range subjects {
        if _, err := tx.ExecContext(ctx, `INSERT INTO subjects (name, display) VALUES ($1,$2) ON CONFLICT DO NOTHING`, s.Name, s.Display); err != nil {
            return err
        }
    }
    for _, l := range levels {
        feats, err := src.Units(l.Name)
        if err != nil { return err }
        for seq, f := range feats {
            if _, err := tx.ExecContext(ctx, `INSERT INTO geounits (id, level, name, seq, geom_wkt) VALUES ($1,$2,$3,$4,$5) ON CONFLICT DO NOTHING`,
                f.ID, l.Name, f.Name, seq, f.WKT); err != nil {
                return err
            }
            for sub, val := range f.Values {
                if _, err := tx.ExecContext(ctx, `INSERT INTO characteristics (geounit_id, subject, number) VALUES ($1,$2,$3::numeric) ON CONFLICT DO NOTHING`,
                    f.ID, sub, val); err != nil {
                    return err
                }
            }
        }
    }
    return tx.Commit()
}

// LoadHierarchy reads the reference tables into the in-process hierarchy
// the engine and resolver work against. Call once at startup.
func (p *Postgres) LoadHierarchy(opts hierarchy.Options) (*hierarchy.Report, error) {
    h, rep, err := hierarchy.Load(&dbSource{db: p.db}, opts)
    if err != nil {
        return nil, err
    }
    p.h = h
    return rep, nil
}

// Hierarchy exposes the loaded reference data.
func (p *Postgres) Hierarchy() *hierarchy.Hierarchy { return p.h }

// dbSource adapts the reference tables to the importer contract.
type dbSource struct {
    db *sql.DB
}

func (s *dbSource) Name() string { return "postgres" }

func (s *dbSource) Levels() ([]importer.LevelSpec, error) {
    rows, err := s.db.Query(`SELECT name, rank FROM geolevels ORDER BY rank`)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []importer.LevelSpec
    for rows.Next() {
        var l importer.LevelSpec
        if err := rows.Scan(&l.Name, &l.Rank); err != nil { return nil, err }
        out = append(out, l)
    }
    return out, rows.Err()
}

func (s *dbSource) Subjects() ([]importer.SubjectSpec, error) {
    rows, err := s.db.Query(`SELECT name, display FROM subjects ORDER BY name`)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []importer.SubjectSpec
    for rows.Next() {
        var sp importer.SubjectSpec
        if err := rows.Scan(&sp.Name, &sp.Display); err != nil { return nil, err }
        out = append(out, sp)
    }
    return out, rows.Err()
}

func (s *dbSource) Units(level string) ([]importer.UnitFeature, error) {
    rows, err := s.db.Query(`SELECT g.id, g.name, g.geom_wkt FROM geounits g WHERE g.level=$1 ORDER BY g.seq`, level)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []importer.UnitFeature
    for rows.Next() {
        var f importer.UnitFeature
        if err := rows.Scan(&f.ID, &f.Name, &f.WKT); err != nil { return nil, err }
        out = append(out, f)
    }
    if err := rows.Err(); err != nil { return nil, err }
    for i := range out {
        vals, err := s.values(out[i].ID)
        if err != nil { return nil, err }
        out[i].Values = vals
    }
    return out, nil
}

func (s *dbSource) values(geounitID string) (map[string]string, error) {
    rows, err := s.db.Query(`SELECT subject, number::text FROM characteristics WHERE geounit_id=$1`, geounitID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := map[string]string{}
    for rows.Next() {
        var sub, num string
        if err := rows.Scan(&sub, &num); err != nil { return nil, err }
        out[sub] = num
    }
    return out, rows.Err()
}

// loadPlan rehydrates a plan from its stored rows.
func (p *Postgres) loadPlan(ctx context.Context, planID string) (*plan.Plan, error) {
    var name, owner string
    var version int
    var createdAt time.Time
    err := p.db.QueryRowContext(ctx, `SELECT name, owner, version, created_at FROM plans WHERE id=$1`, planID).Scan(&name, &owner, &version, &createdAt)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, fmt.Errorf("plan %q: %w", planID, ErrNotFound)
    }
    if err != nil {
        return nil, err
    }
    pl := plan.Restore(planID, name, owner, version, p.h)
    pl.CreatedAt = createdAt

    rows, err := p.db.QueryContext(ctx, `SELECT district_id, locked FROM plan_districts WHERE plan_id=$1 ORDER BY seq`, planID)
    if err != nil { return nil, err }
    defer rows.Close()
    for rows.Next() {
        var did string
        var locked bool
        if err := rows.Scan(&did, &locked); err != nil { return nil, err }
        pl.RestoreDistrict(did, locked)
    }
    if err := rows.Err(); err != nil { return nil, err }

    vrows, err := p.db.QueryContext(ctx, `SELECT district_id, version, members FROM districts WHERE plan_id=$1 ORDER BY version`, planID)
    if err != nil { return nil, err }
    defer vrows.Close()
    for vrows.Next() {
        var did string
        var v int
        var members []byte
        if err := vrows.Scan(&did, &v, &members); err != nil { return nil, err }
        var ids []string
        if err := json.Unmarshal(members, &ids); err != nil { return nil, err }
        if err := pl.RestoreRow(did, v, ids); err != nil { return nil, err }
    }
    return pl, vrows.Err()
}

// insertRow writes one district row and its aggregates.
func insertRow(ctx context.Context, tx *sql.Tx, planID string, row *plan.DistrictVersion) error {
    ids := make([]string, 0, len(row.Members))
    for id := range row.Members {
        ids = append(ids, id)
    }
    sort.Strings(ids)
    members, _ := json.Marshal(ids)
    if _, err := tx.ExecContext(ctx, `INSERT INTO districts (plan_id, district_id, version, members) VALUES ($1,$2,$3,$4)`,
        planID, row.DistrictID, row.Version, members); err != nil {
        return err
    }
    for _, c := range row.Chars {
        if _, err := tx.ExecContext(ctx, `INSERT INTO computed_characteristics (plan_id, district_id, version, subject, number, percentage)
            VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric)`,
            planID, row.DistrictID, row.Version, c.Subject, c.Number.String(), c.Percentage.String()); err != nil {
            return err
        }
    }
    return nil
}

// insertPlan writes a whole plan: header, district registry and every row.
func (p *Postgres) insertPlan(ctx context.Context, pl *plan.Plan) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `INSERT INTO plans (id, name, owner, version, created_at) VALUES ($1,$2,$3,$4,$5)`,
        pl.ID, pl.Name, pl.Owner, pl.Version, pl.CreatedAt); err != nil {
        return err
    }
    for seq, did := range pl.Districts() {
        if _, err := tx.ExecContext(ctx, `INSERT INTO plan_districts (plan_id, district_id, seq, locked) VALUES ($1,$2,$3,$4)`,
            pl.ID, did, seq, pl.IsLocked(did)); err != nil {
            return err
        }
    }
    var insertErr error
    pl.AllRows(func(row *plan.DistrictVersion) {
        if insertErr == nil {
            insertErr = insertRow(ctx, tx, pl.ID, row)
        }
    })
    if insertErr != nil {
        return insertErr
    }
    return tx.Commit()
}

func (p *Postgres) CreatePlan(ctx context.Context, req model.PlanCreate) (model.PlanOut, error) {
    if req.Name == "" {
        return model.PlanOut{}, fmt.Errorf("plan name required: %w", model.ErrInvalidArgument)
    }
    id := uuid.New().String()
    pl, err := plan.New(id, req.Name, req.Owner, p.h, req.Districts)
    if err != nil {
        return model.PlanOut{}, err
    }
    if err := p.insertPlan(ctx, pl); err != nil {
        return model.PlanOut{}, err
    }
    return planOut(pl), nil
}

func (p *Postgres) GetPlan(ctx context.Context, planID string) (model.PlanOut, error) {
    pl, err := p.loadPlan(ctx, planID)
    if err != nil {
        return model.PlanOut{}, err
    }
    return planOut(pl), nil
}

func (p *Postgres) ListPlans(ctx context.Context, cursor string, limit int) ([]model.PlanOut, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text FROM plans WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text FROM plans ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var ids []string
    for rows.Next() {
        var id string
        if err := rows.Scan(&id); err != nil { return nil, "", err }
        ids = append(ids, id)
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    out := []model.PlanOut{}
    for _, id := range ids {
        pl, err := p.loadPlan(ctx, id)
        if err != nil { return nil, "", err }
        out = append(out, planOut(pl))
    }
    next := ""
    if len(out) == limit { next = ids[len(ids)-1] }
    return out, next, nil
}

func (p *Postgres) CopyPlan(ctx context.Context, planID string, req model.CopyRequest) (model.PlanOut, error) {
    pl, err := p.loadPlan(ctx, planID)
    if err != nil {
        return model.PlanOut{}, err
    }
    name := req.Name
    if name == "" { name = pl.Name + " (copy)" }
    owner := req.Owner
    if owner == "" { owner = pl.Owner }
    cp, err := pl.Copy(uuid.New().String(), name, owner)
    if err != nil {
        return model.PlanOut{}, err
    }
    if err := p.insertPlan(ctx, cp); err != nil {
        return model.PlanOut{}, err
    }
    return planOut(cp), nil
}

func (p *Postgres) PurgePlan(ctx context.Context, planID string, before, after *int) (model.PurgeResult, error) {
    if _, err := p.GetPlan(ctx, planID); err != nil {
        return model.PurgeResult{}, err
    }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.PurgeResult{}, err }
    defer func() { _ = tx.Rollback() }()
    deleted := int64(0)
    if after != nil {
        res, err := tx.ExecContext(ctx, `DELETE FROM districts WHERE plan_id=$1 AND version > $2`, planID, *after)
        if err != nil { return model.PurgeResult{}, err }
        n, _ := res.RowsAffected()
        deleted += n
        if _, err := tx.ExecContext(ctx, `DELETE FROM plan_districts pd WHERE pd.plan_id=$1
            AND NOT EXISTS (SELECT 1 FROM districts d WHERE d.plan_id=pd.plan_id AND d.district_id=pd.district_id)`, planID); err != nil {
            return model.PurgeResult{}, err
        }
    }
    if before != nil {
        // Keep, per district, the row that was current at the cut.
        res, err := tx.ExecContext(ctx, `DELETE FROM districts d WHERE d.plan_id=$1
            AND d.version < (SELECT max(m.version) FROM districts m
                WHERE m.plan_id=d.plan_id AND m.district_id=d.district_id AND m.version <= $2)`, planID, *before)
        if err != nil { return model.PurgeResult{}, err }
        n, _ := res.RowsAffected()
        deleted += n
    }
    if err := tx.Commit(); err != nil {
        return model.PurgeResult{}, err
    }
    return model.PurgeResult{PlanID: planID, Deleted: int(deleted)}, nil
}

func (p *Postgres) NthPreviousVersion(ctx context.Context, planID string, steps int) (int, error) {
    pl, err := p.loadPlan(ctx, planID)
    if err != nil {
        return 0, err
    }
    return pl.NthPreviousVersion(steps), nil
}

func (p *Postgres) AddDistrict(ctx context.Context, planID, districtID string) (model.PlanOut, error) {
    pl, err := p.loadPlan(ctx, planID)
    if err != nil {
        return model.PlanOut{}, err
    }
    if err := pl.AddDistrict(districtID); err != nil {
        return model.PlanOut{}, err
    }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.PlanOut{}, err }
    defer func() { _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `INSERT INTO plan_districts (plan_id, district_id, seq, locked) VALUES ($1,$2,$3,false)`,
        planID, districtID, len(pl.Districts())-1); err != nil {
        return model.PlanOut{}, err
    }
    row, _ := pl.VersionRow(districtID, pl.Version)
    if err := insertRow(ctx, tx, planID, row); err != nil {
        return model.PlanOut{}, err
    }
    if err := tx.Commit(); err != nil {
        return model.PlanOut{}, err
    }
    return planOut(pl), nil
}

func (p *Postgres) DistrictsAt(ctx context.Context, planID string, version int) ([]model.DistrictOut, error) {
    pl, err := p.loadPlan(ctx, planID)
    if err != nil {
        return nil, err
    }
    if version < 0 {
        version = pl.Version
    }
    out := []model.DistrictOut{}
    for _, row := range pl.CurrentAt(version) {
        out = append(out, districtOut(pl, row))
    }
    return out, nil
}

func (p *Postgres) GetDistrict(ctx context.Context, planID, districtID string, version int) (model.DistrictOut, error) {
    pl, err := p.loadPlan(ctx, planID)
    if err != nil {
        return model.DistrictOut{}, err
    }
    if version < 0 {
        version = pl.Version
    }
    row, err := pl.District(districtID, version)
    if err != nil {
        return model.DistrictOut{}, err
    }
    return districtOut(pl, row), nil
}

func (p *Postgres) SetDistrictLock(ctx context.Context, planID, districtID string, locked bool) (model.DistrictOut, error) {
    res, err := p.db.ExecContext(ctx, `UPDATE plan_districts SET locked=$3 WHERE plan_id=$1 AND district_id=$2`, planID, districtID, locked)
    if err != nil {
        return model.DistrictOut{}, err
    }
    if n, _ := res.RowsAffected(); n == 0 {
        return model.DistrictOut{}, fmt.Errorf("district %q: %w", districtID, ErrNotFound)
    }
    return p.GetDistrict(ctx, planID, districtID, -1)
}

func (p *Postgres) AddGeounits(ctx context.Context, planID, districtID string, req model.EditRequest) (model.EditResult, error) {
    pl, err := p.loadPlan(ctx, planID)
    if err != nil {
        return model.EditResult{}, err
    }
    res, err := pl.AddGeounits(ctx, districtID, req.GeounitIDs, req.Geolevel, req.Version)
    if err != nil {
        return model.EditResult{}, err
    }
    if res.NoOp {
        return model.EditResult{PlanID: planID, Version: res.Version, NoOp: true}, nil
    }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.EditResult{}, err }
    defer func() { _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `UPDATE plans SET version=$2 WHERE id=$1`, planID, res.Version); err != nil {
        return model.EditResult{}, err
    }
    for _, did := range res.Changed {
        row, ok := pl.VersionRow(did, res.Version)
        if !ok {
            return model.EditResult{}, fmt.Errorf("missing row for %s@%d", did, res.Version)
        }
        if err := insertRow(ctx, tx, planID, row); err != nil {
            return model.EditResult{}, err
        }
    }
    if err := tx.Commit(); err != nil {
        return model.EditResult{}, err
    }
    return model.EditResult{PlanID: planID, Version: res.Version, Changed: res.Changed}, nil
}

func (p *Postgres) BaseGeounits(ctx context.Context, planID, districtID string) ([]model.BaseUnitOut, error) {
    pl, err := p.loadPlan(ctx, planID)
    if err != nil {
        return nil, err
    }
    units, err := pl.BaseGeounits(districtID)
    if err != nil {
        return nil, err
    }
    return baseUnitsOut(units), nil
}

func (p *Postgres) AssignedGeounits(ctx context.Context, planID string) ([]model.BaseUnitOut, error) {
    pl, err := p.loadPlan(ctx, planID)
    if err != nil {
        return nil, err
    }
    units, err := pl.AssignedGeounits()
    if err != nil {
        return nil, err
    }
    return baseUnitsOut(units), nil
}

func (p *Postgres) UnassignedGeounits(ctx context.Context, planID string) ([]model.BaseUnitOut, error) {
    pl, err := p.loadPlan(ctx, planID)
    if err != nil {
        return nil, err
    }
    units, err := pl.UnassignedGeounits()
    if err != nil {
        return nil, err
    }
    return baseUnitsOut(units), nil
}

func (p *Postgres) ScoreSnapshot(ctx context.Context, planID string, version int) (score.Plan, int, error) {
    pl, err := p.loadPlan(ctx, planID)
    if err != nil {
        return score.Plan{}, 0, err
    }
    if version < 0 {
        version = pl.Version
    }
    return pl.ScoreSnapshot(version), version, nil
}

func (p *Postgres) Geolevels(ctx context.Context) ([]model.GeolevelOut, error) {
    out := []model.GeolevelOut{}
    for _, l := range p.h.Levels() {
        out = append(out, model.GeolevelOut{Name: l.Name, Rank: l.Rank, Units: len(p.h.UnitsAt(l.Name))})
    }
    return out, nil
}

func (p *Postgres) Subjects(ctx context.Context) ([]model.SubjectOut, error) {
    out := []model.SubjectOut{}
    for _, s := range p.h.Subjects() {
        out = append(out, model.SubjectOut{Name: s.Name, Display: s.Display, Total: p.h.Total(s.Name).String()})
    }
    return out, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, owner, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.Owner, req.URL, ev, req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, Owner: req.Owner, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, owner, url, secret, events FROM subscriptions WHERE events @> $1::jsonb OR events @> '["*"]'::jsonb`,
        fmt.Sprintf("[%q]", eventType))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.Owner, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, owner, url, events FROM subscriptions WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, owner, url, events FROM subscriptions ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.Owner, &s.URL, &ev); err != nil { return nil, "", err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now())`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
            id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO webhook_dlq (id, delivery_id, event_type, url, secret, payload, attempts, last_error)
        SELECT gen_random_uuid(), id, event_type, url, secret, payload, attempts+1, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError))
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries`
    var rows *sql.Rows
    var err error
    if status != "" {
        q += ` WHERE status=$1 ORDER BY id LIMIT $2`
        rows, err = p.db.QueryContext(ctx, q, status, limit)
    } else {
        q += ` ORDER BY id LIMIT $1`
        rows, err = p.db.QueryContext(ctx, q, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, typ, st, lastErr, url string
        var attempts int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
        m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
        if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { m["lastError"] = lastErr }
        out = append(out, m)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE id=$1`, id)
    return err
}

func nullIfEmpty(s string) any {
    if s == "" { return nil }
    return s
}
