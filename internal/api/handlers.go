package api

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "distmap/internal/export"
    "distmap/internal/metrics"
    "distmap/internal/model"
    "distmap/internal/score"
    "distmap/internal/webhooks"
)

// PlansHandler handles POST/GET /v1/plans
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        pr := s.getPrincipal(r)
        if !pr.CanEdit() { writeProblem(w, 403, "Forbidden", "editor or admin required", r.URL.Path); return }
        var req model.PlanCreate
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.Owner == "" { req.Owner = pr.User }
        out, err := s.Store.CreatePlan(r.Context(), req)
        if err != nil {
            writeError(w, r, err)
            return
        }
        s.Pub.Emit(r.Context(), webhooks.EventPlanCreated, out.ID, map[string]any{"planId": out.ID, "name": out.Name})
        writeJSON(w, http.StatusCreated, out)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListPlans(r.Context(), cursor, limit)
        if err != nil {
            writeError(w, r, err)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// PlanByIDHandler handles everything under /v1/plans/{id}: the plan itself,
// copy/purge, districts and their edit/lock subresources, snapshot listings,
// scoring, the assignment export, and the live event streams.
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
    path := r.URL.Path
    rest := strings.TrimPrefix(path, "/v1/plans/")
    if rest == path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]
    if len(parts) == 1 {
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        out, err := s.Store.GetPlan(r.Context(), id)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, out)
        return
    }
    switch parts[1] {
    case "copy":
        s.planCopy(w, r, id)
    case "purge":
        s.planPurge(w, r, id)
    case "previous-version":
        s.planPreviousVersion(w, r, id)
    case "districts":
        s.planDistricts(w, r, id, parts[2:])
    case "assigned":
        s.planBaseUnits(w, r, id, true)
    case "unassigned":
        s.planBaseUnits(w, r, id, false)
    case "scores":
        s.planScores(w, r, id)
    case "export":
        s.planExport(w, r, id, parts[2:])
    case "events":
        if len(parts) > 2 && parts[2] == "stream" {
            s.planEventsSSE(w, r, id)
            return
        }
        if len(parts) > 2 && parts[2] == "ws" {
            s.EventsWSHandler(w, r, id)
            return
        }
        writeProblem(w, http.StatusNotFound, "Not Found", "", path)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", path)
    }
}

func (s *Server) planCopy(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    pr := s.getPrincipal(r)
    if !pr.CanEdit() { writeProblem(w, 403, "Forbidden", "editor or admin required", r.URL.Path); return }
    var req model.CopyRequest
    if r.Body != nil { _ = json.NewDecoder(r.Body).Decode(&req) }
    if req.Owner == "" { req.Owner = pr.User }
    out, err := s.Store.CopyPlan(r.Context(), id, req)
    if err != nil { writeError(w, r, err); return }
    s.Pub.Emit(r.Context(), webhooks.EventPlanCopied, out.ID, map[string]any{"planId": out.ID, "sourcePlanId": id})
    writeJSON(w, http.StatusCreated, out)
}

func (s *Server) planPurge(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    pr := s.getPrincipal(r)
    pl, err := s.Store.GetPlan(r.Context(), id)
    if err != nil { writeError(w, r, err); return }
    if !canEditPlan(pr, pl.Owner) { writeProblem(w, 403, "Forbidden", "not plan owner", r.URL.Path); return }
    var req model.PurgeRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validatePurgeRequest(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid purge request", err.Error(), r.URL.Path)
        return
    }
    out, err := s.Store.PurgePlan(r.Context(), id, req.Before, req.After)
    if err != nil { writeError(w, r, err); return }
    if out.Deleted > 0 {
        s.Pub.Emit(r.Context(), webhooks.EventPlanPurged, id, map[string]any{"planId": id, "deleted": out.Deleted})
        s.Broker.Publish(id, PlanEvent{Type: webhooks.EventPlanPurged, Data: map[string]any{"planId": id, "deleted": out.Deleted}})
    }
    writeJSON(w, http.StatusOK, out)
}

func (s *Server) planPreviousVersion(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    steps := 1
    if v := r.URL.Query().Get("steps"); v != "" { fmt.Sscanf(v, "%d", &steps) }
    ver, err := s.Store.NthPreviousVersion(r.Context(), id, steps)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"planId": id, "version": ver, "steps": steps})
}

func (s *Server) planDistricts(w http.ResponseWriter, r *http.Request, id string, parts []string) {
    if len(parts) == 0 {
        switch r.Method {
        case http.MethodPost:
            pr := s.getPrincipal(r)
            pl, err := s.Store.GetPlan(r.Context(), id)
            if err != nil { writeError(w, r, err); return }
            if !canEditPlan(pr, pl.Owner) { writeProblem(w, 403, "Forbidden", "not plan owner", r.URL.Path); return }
            var req struct {
                DistrictID string `json:"districtId"`
            }
            if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
                writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
                return
            }
            if req.DistrictID == "" { writeProblem(w, 400, "Missing districtId", "", r.URL.Path); return }
            out, err := s.Store.AddDistrict(r.Context(), id, req.DistrictID)
            if err != nil { writeError(w, r, err); return }
            writeJSON(w, http.StatusCreated, out)
        case http.MethodGet:
            version := -1
            if v := r.URL.Query().Get("version"); v != "" { fmt.Sscanf(v, "%d", &version) }
            items, err := s.Store.DistrictsAt(r.Context(), id, version)
            if err != nil { writeError(w, r, err); return }
            writeJSON(w, http.StatusOK, map[string]any{"items": items})
        default:
            w.WriteHeader(http.StatusMethodNotAllowed)
        }
        return
    }
    did := parts[0]
    if len(parts) == 1 {
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        version := -1
        if v := r.URL.Query().Get("version"); v != "" { fmt.Sscanf(v, "%d", &version) }
        out, err := s.Store.GetDistrict(r.Context(), id, did, version)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, out)
        return
    }
    switch parts[1] {
    case "edit":
        s.districtEdit(w, r, id, did)
    case "lock":
        s.districtLock(w, r, id, did)
    case "base-geounits":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        items, err := s.Store.BaseGeounits(r.Context(), id, did)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}

func (s *Server) districtEdit(w http.ResponseWriter, r *http.Request, id, did string) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    pr := s.getPrincipal(r)
    pl, err := s.Store.GetPlan(r.Context(), id)
    if err != nil { writeError(w, r, err); return }
    if !canEditPlan(pr, pl.Owner) { writeProblem(w, 403, "Forbidden", "not plan owner", r.URL.Path); return }
    if !s.limits.Allow(id) { writeProblem(w, http.StatusTooManyRequests, "Rate Limited", "too many edits for plan", r.URL.Path); return }
    var req model.EditRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateEditRequest(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid edit request", err.Error(), r.URL.Path)
        return
    }
    start := time.Now()
    out, err := s.Store.AddGeounits(r.Context(), id, did, req)
    metrics.EditDuration.Observe(time.Since(start).Seconds())
    if err != nil {
        metrics.EditOps.WithLabelValues("error").Inc()
        writeError(w, r, err)
        return
    }
    if out.NoOp {
        metrics.EditOps.WithLabelValues("noop").Inc()
    } else {
        metrics.EditOps.WithLabelValues("applied").Inc()
        data := map[string]any{"planId": id, "districtId": did, "version": out.Version, "changed": out.Changed}
        s.Pub.Emit(r.Context(), webhooks.EventDistrictUpdated, id, data)
        s.Broker.Publish(id, PlanEvent{Type: webhooks.EventDistrictUpdated, Data: data})
    }
    writeJSON(w, http.StatusOK, out)
}

func (s *Server) districtLock(w http.ResponseWriter, r *http.Request, id, did string) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    pr := s.getPrincipal(r)
    pl, err := s.Store.GetPlan(r.Context(), id)
    if err != nil { writeError(w, r, err); return }
    if !canEditPlan(pr, pl.Owner) { writeProblem(w, 403, "Forbidden", "not plan owner", r.URL.Path); return }
    var req model.LockRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    out, err := s.Store.SetDistrictLock(r.Context(), id, did, req.Locked)
    if err != nil { writeError(w, r, err); return }
    data := map[string]any{"planId": id, "districtId": did, "locked": req.Locked}
    s.Pub.Emit(r.Context(), webhooks.EventDistrictLocked, id, data)
    s.Broker.Publish(id, PlanEvent{Type: webhooks.EventDistrictLocked, Data: data})
    writeJSON(w, http.StatusOK, out)
}

func (s *Server) planBaseUnits(w http.ResponseWriter, r *http.Request, id string, assigned bool) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var items []model.BaseUnitOut
    var err error
    if assigned {
        items, err = s.Store.AssignedGeounits(r.Context(), id)
    } else {
        items, err = s.Store.UnassignedGeounits(r.Context(), id)
    }
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) planScores(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var req model.ScoreRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateScoreRequest(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid score request", err.Error(), r.URL.Path)
        return
    }
    version := -1
    if req.Version != nil { version = *req.Version }
    snap, resolved, err := s.Store.ScoreSnapshot(r.Context(), id, version)
    if err != nil { writeError(w, r, err); return }
    fn := score.Function{
        Name:       req.Calculator,
        Calculator: req.Calculator,
        PlanScore:  req.PlanScore,
        Args:       scoreArgs(req.Args),
    }
    start := time.Now()
    var result any
    if req.DistrictID != "" {
        var target *score.District
        for i := range snap.Districts {
            if snap.Districts[i].ID == req.DistrictID {
                target = &snap.Districts[i]
                break
            }
        }
        if target == nil { writeError(w, r, model.ErrNotFound); return }
        result, err = fn.ScoreDistrict(target, req.Format)
    } else {
        result, err = fn.ScorePlan(&snap, req.Format)
    }
    metrics.ScoreDuration.WithLabelValues(req.Calculator).Observe(time.Since(start).Seconds())
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, model.ScoreResult{
        Calculator: req.Calculator,
        Version:    resolved,
        DistrictID: req.DistrictID,
        Result:     result,
    })
}

// planExport serves GET /v1/plans/{id}/export/index: a zip holding the
// base-geounit assignment index as CSV.
func (s *Server) planExport(w http.ResponseWriter, r *http.Request, id string, parts []string) {
    if len(parts) == 0 || parts[0] != "index" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    pl, err := s.Store.GetPlan(r.Context(), id)
    if err != nil { writeError(w, r, err); return }
    assignedUnits, err := s.Store.AssignedGeounits(r.Context(), id)
    if err != nil { writeError(w, r, err); return }
    unassignedUnits, err := s.Store.UnassignedGeounits(r.Context(), id)
    if err != nil { writeError(w, r, err); return }
    assigned := map[string]string{}
    baseIDs := make([]string, 0, len(assignedUnits)+len(unassignedUnits))
    for _, u := range assignedUnits {
        assigned[u.GeounitID] = u.DistrictID
        baseIDs = append(baseIDs, u.GeounitID)
    }
    for _, u := range unassignedUnits {
        baseIDs = append(baseIDs, u.GeounitID)
    }
    w.Header().Set("Content-Type", "application/zip")
    w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "index-"+id+".zip"))
    if err := export.WriteIndex(w, pl.Name, baseIDs, assigned); err != nil {
        writeProblem(w, 500, "Export failed", err.Error(), r.URL.Path)
    }
}

func (s *Server) planEventsSSE(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    if _, err := s.Store.GetPlan(r.Context(), id); err != nil { writeError(w, r, err); return }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)
    // initial heartbeat
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"planId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
    flusher.Flush()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt := <-ch:
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"planId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}

// GeolevelsHandler handles GET /v1/geolevels
func (s *Server) GeolevelsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/geolevels" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    items, err := s.Store.Geolevels(r.Context())
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, 200, map[string]any{"items": items})
}

// SubjectsHandler handles GET /v1/subjects
func (s *Server) SubjectsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/subjects" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    items, err := s.Store.Subjects(r.Context())
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, 200, map[string]any{"items": items})
}

// CalculatorsHandler handles GET /v1/calculators: registered calculator names
func (s *Server) CalculatorsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/calculators" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": score.Names()})
}

func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        pr := s.getPrincipal(r)
        if !pr.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.URL == "" { writeProblem(w, 400, "Missing url", "", r.URL.Path); return }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        pr := s.getPrincipal(r)
        if !pr.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), cursor, limit)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Subscription delete (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    pr := s.getPrincipal(r)
    if !pr.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), id); err != nil { writeError(w, r, err); return }
    w.WriteHeader(204)
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    pr := s.getPrincipal(r)
    if !pr.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), status, cursor, limit)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    pr := s.getPrincipal(r)
    if !pr.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
    if err := s.Store.RetryWebhookDelivery(r.Context(), id); err != nil { writeError(w, r, err); return }
    writeJSON(w, 202, map[string]int{"accepted": 1})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
