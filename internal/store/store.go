package store

import (
    "context"
    "time"

    "distmap/internal/hierarchy"
    "distmap/internal/model"
    "distmap/internal/score"
)

// Store is the persistence interface used by the API server. Per-plan
// operations are serialized by the implementation; reads of a committed
// version always observe a consistent snapshot.
type Store interface {
    // Plans
    CreatePlan(ctx context.Context, req model.PlanCreate) (model.PlanOut, error)
    GetPlan(ctx context.Context, planID string) (model.PlanOut, error)
    ListPlans(ctx context.Context, cursor string, limit int) ([]model.PlanOut, string, error)
    CopyPlan(ctx context.Context, planID string, req model.CopyRequest) (model.PlanOut, error)
    PurgePlan(ctx context.Context, planID string, before, after *int) (model.PurgeResult, error)
    NthPreviousVersion(ctx context.Context, planID string, steps int) (int, error)

    // Districts
    AddDistrict(ctx context.Context, planID, districtID string) (model.PlanOut, error)
    DistrictsAt(ctx context.Context, planID string, version int) ([]model.DistrictOut, error)
    GetDistrict(ctx context.Context, planID, districtID string, version int) (model.DistrictOut, error)
    SetDistrictLock(ctx context.Context, planID, districtID string, locked bool) (model.DistrictOut, error)
    AddGeounits(ctx context.Context, planID, districtID string, req model.EditRequest) (model.EditResult, error)

    // Snapshots
    BaseGeounits(ctx context.Context, planID, districtID string) ([]model.BaseUnitOut, error)
    AssignedGeounits(ctx context.Context, planID string) ([]model.BaseUnitOut, error)
    UnassignedGeounits(ctx context.Context, planID string) ([]model.BaseUnitOut, error)
    ScoreSnapshot(ctx context.Context, planID string, version int) (score.Plan, int, error)

    // Reference data
    Hierarchy() *hierarchy.Hierarchy
    Geolevels(ctx context.Context) ([]model.GeolevelOut, error)
    Subjects(ctx context.Context) ([]model.SubjectOut, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error)
    RetryWebhookDelivery(ctx context.Context, id string) error
}

// ErrNotFound aliases the shared sentinel so call sites can keep matching
// on the store package.
var ErrNotFound = model.ErrNotFound
