package store

import (
    "context"
    "fmt"
    "sync"
    "time"

    "github.com/google/uuid"

    "distmap/internal/hierarchy"
    "distmap/internal/model"
    "distmap/internal/plan"
    "distmap/internal/score"
)

// Memory is the in-memory store used when no DATABASE_URL is set. The
// single mutex serializes edits per the single-writer-per-plan contract.
type Memory struct {
    mu    sync.Mutex
    h     *hierarchy.Hierarchy
    plans map[string]*plan.Plan
    order []string

    subs      map[string]model.Subscription
    subOrder  []string
    delivs    map[string]*memDelivery
    delivIDs  []string
    dlq       []map[string]any
}

type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

// NewMemory returns a store over the given reference hierarchy.
func NewMemory(h *hierarchy.Hierarchy) *Memory {
    return &Memory{
        h:      h,
        plans:  map[string]*plan.Plan{},
        subs:   map[string]model.Subscription{},
        delivs: map[string]*memDelivery{},
    }
}

// Hierarchy exposes the reference data for handlers that need it directly.
func (m *Memory) Hierarchy() *hierarchy.Hierarchy { return m.h }

func (m *Memory) plan(planID string) (*plan.Plan, error) {
    p, ok := m.plans[planID]
    if !ok {
        return nil, fmt.Errorf("plan %q: %w", planID, ErrNotFound)
    }
    return p, nil
}

func (m *Memory) CreatePlan(ctx context.Context, req model.PlanCreate) (model.PlanOut, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if req.Name == "" {
        return model.PlanOut{}, fmt.Errorf("plan name required: %w", model.ErrInvalidArgument)
    }
    id := uuid.New().String()
    p, err := plan.New(id, req.Name, req.Owner, m.h, req.Districts)
    if err != nil {
        return model.PlanOut{}, err
    }
    m.plans[id] = p
    m.order = append(m.order, id)
    return planOut(p), nil
}

func (m *Memory) GetPlan(ctx context.Context, planID string) (model.PlanOut, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return model.PlanOut{}, err
    }
    return planOut(p), nil
}

func (m *Memory) ListPlans(ctx context.Context, cursor string, limit int) ([]model.PlanOut, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    start := 0
    if cursor != "" {
        for i, id := range m.order {
            if id == cursor { start = i + 1; break }
        }
    }
    out := []model.PlanOut{}
    next := ""
    for i := start; i < len(m.order); i++ {
        out = append(out, planOut(m.plans[m.order[i]]))
        if limit > 0 && len(out) >= limit {
            if i+1 < len(m.order) { next = m.order[i] }
            break
        }
    }
    return out, next, nil
}

func (m *Memory) CopyPlan(ctx context.Context, planID string, req model.CopyRequest) (model.PlanOut, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return model.PlanOut{}, err
    }
    name := req.Name
    if name == "" {
        name = p.Name + " (copy)"
    }
    owner := req.Owner
    if owner == "" {
        owner = p.Owner
    }
    id := uuid.New().String()
    cp, err := p.Copy(id, name, owner)
    if err != nil {
        return model.PlanOut{}, err
    }
    m.plans[id] = cp
    m.order = append(m.order, id)
    return planOut(cp), nil
}

func (m *Memory) PurgePlan(ctx context.Context, planID string, before, after *int) (model.PurgeResult, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return model.PurgeResult{}, err
    }
    deleted := p.Purge(before, after)
    return model.PurgeResult{PlanID: planID, Deleted: deleted}, nil
}

func (m *Memory) NthPreviousVersion(ctx context.Context, planID string, steps int) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return 0, err
    }
    return p.NthPreviousVersion(steps), nil
}

func (m *Memory) AddDistrict(ctx context.Context, planID, districtID string) (model.PlanOut, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return model.PlanOut{}, err
    }
    if err := p.AddDistrict(districtID); err != nil {
        return model.PlanOut{}, err
    }
    return planOut(p), nil
}

func (m *Memory) DistrictsAt(ctx context.Context, planID string, version int) ([]model.DistrictOut, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return nil, err
    }
    if version < 0 {
        version = p.Version
    }
    out := []model.DistrictOut{}
    for _, row := range p.CurrentAt(version) {
        out = append(out, districtOut(p, row))
    }
    return out, nil
}

func (m *Memory) GetDistrict(ctx context.Context, planID, districtID string, version int) (model.DistrictOut, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return model.DistrictOut{}, err
    }
    if version < 0 {
        version = p.Version
    }
    row, err := p.District(districtID, version)
    if err != nil {
        return model.DistrictOut{}, err
    }
    return districtOut(p, row), nil
}

func (m *Memory) SetDistrictLock(ctx context.Context, planID, districtID string, locked bool) (model.DistrictOut, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return model.DistrictOut{}, err
    }
    if err := p.SetLocked(districtID, locked); err != nil {
        return model.DistrictOut{}, err
    }
    row, err := p.District(districtID, p.Version)
    if err != nil {
        return model.DistrictOut{}, err
    }
    return districtOut(p, row), nil
}

func (m *Memory) AddGeounits(ctx context.Context, planID, districtID string, req model.EditRequest) (model.EditResult, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return model.EditResult{}, err
    }
    res, err := p.AddGeounits(ctx, districtID, req.GeounitIDs, req.Geolevel, req.Version)
    if err != nil {
        return model.EditResult{}, err
    }
    return model.EditResult{PlanID: planID, Version: res.Version, Changed: res.Changed, NoOp: res.NoOp}, nil
}

func (m *Memory) BaseGeounits(ctx context.Context, planID, districtID string) ([]model.BaseUnitOut, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return nil, err
    }
    units, err := p.BaseGeounits(districtID)
    if err != nil {
        return nil, err
    }
    return baseUnitsOut(units), nil
}

func (m *Memory) AssignedGeounits(ctx context.Context, planID string) ([]model.BaseUnitOut, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return nil, err
    }
    units, err := p.AssignedGeounits()
    if err != nil {
        return nil, err
    }
    return baseUnitsOut(units), nil
}

func (m *Memory) UnassignedGeounits(ctx context.Context, planID string) ([]model.BaseUnitOut, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return nil, err
    }
    units, err := p.UnassignedGeounits()
    if err != nil {
        return nil, err
    }
    return baseUnitsOut(units), nil
}

func (m *Memory) ScoreSnapshot(ctx context.Context, planID string, version int) (score.Plan, int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, err := m.plan(planID)
    if err != nil {
        return score.Plan{}, 0, err
    }
    if version < 0 {
        version = p.Version
    }
    return p.ScoreSnapshot(version), version, nil
}

func (m *Memory) Geolevels(ctx context.Context) ([]model.GeolevelOut, error) {
    out := []model.GeolevelOut{}
    for _, l := range m.h.Levels() {
        out = append(out, model.GeolevelOut{Name: l.Name, Rank: l.Rank, Units: len(m.h.UnitsAt(l.Name))})
    }
    return out, nil
}

func (m *Memory) Subjects(ctx context.Context) ([]model.SubjectOut, error) {
    out := []model.SubjectOut{}
    for _, s := range m.h.Subjects() {
        out = append(out, model.SubjectOut{Name: s.Name, Display: s.Display, Total: m.h.Total(s.Name).String()})
    }
    return out, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    sub := model.Subscription{ID: uuid.New().String(), Owner: req.Owner, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[sub.ID] = sub
    m.subOrder = append(m.subOrder, sub.ID)
    return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Subscription{}
    for _, id := range m.subOrder {
        sub, ok := m.subs[id]
        if !ok { continue }
        for _, ev := range sub.Events {
            if ev == eventType || ev == "*" {
                out = append(out, sub)
                break
            }
        }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    start := 0
    if cursor != "" {
        for i, id := range m.subOrder {
            if id == cursor { start = i + 1; break }
        }
    }
    out := []model.Subscription{}
    for i := start; i < len(m.subOrder); i++ {
        if sub, ok := m.subs[m.subOrder[i]]; ok {
            sub.Secret = ""
            out = append(out, sub)
        }
        if limit > 0 && len(out) >= limit { break }
    }
    return out, "", nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.subs[id]; !ok {
        return ErrNotFound
    }
    delete(m.subs, id)
    return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
    m.delivs[id] = d
    m.delivIDs = append(m.delivIDs, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.delivIDs {
        d := m.delivs[id]
        if d == nil { continue }
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.delivs[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.delivs[id]
    if d != nil { d.Status = "failed" }
    m.dlq = append(m.dlq, map[string]any{"id": id, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    for _, id := range m.delivIDs {
        d := m.delivs[id]
        if d == nil { continue }
        if status == "" || d.Status == status {
            item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
            if d.LastError != "" { item["lastError"] = d.LastError }
            out = append(out, item)
        }
    }
    return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.delivs[id]
    if d == nil { return ErrNotFound }
    d.Status = "retry"
    d.NextAttemptAt = time.Now()
    return nil
}
