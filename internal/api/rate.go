package api

import (
    "os"
    "strconv"
    "sync"

    "golang.org/x/time/rate"
)

// editLimiter throttles mutation traffic per plan so one client hammering
// edits cannot starve everyone else's version history.
type editLimiter struct {
    mu       sync.Mutex
    limiters map[string]*rate.Limiter
    rps      rate.Limit
    burst    int
}

func newEditLimiter() *editLimiter {
    rps := 10.0
    if v := os.Getenv("RATE_RPS"); v != "" {
        if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 { rps = f }
    }
    burst := 20
    if v := os.Getenv("RATE_BURST"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { burst = n }
    }
    return &editLimiter{limiters: map[string]*rate.Limiter{}, rps: rate.Limit(rps), burst: burst}
}

func (l *editLimiter) Allow(planID string) bool {
    l.mu.Lock()
    lim := l.limiters[planID]
    if lim == nil {
        lim = rate.NewLimiter(l.rps, l.burst)
        l.limiters[planID] = lim
    }
    l.mu.Unlock()
    return lim.Allow()
}
