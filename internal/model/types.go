package model

import "errors"

// Sentinel errors shared across the store and API layers.
var (
    ErrNotFound        = errors.New("not found")
    ErrInvalidArgument = errors.New("invalid argument")
    ErrLocked          = errors.New("district is locked")
    ErrForbidden       = errors.New("forbidden")
)

type PlanCreate struct {
    Name      string   `json:"name"`
    Owner     string   `json:"owner,omitempty"`
    Districts []string `json:"districts,omitempty"`
}

type PlanOut struct {
    ID        string   `json:"id"`
    Name      string   `json:"name"`
    Owner     string   `json:"owner"`
    Version   int      `json:"version"`
    Districts []string `json:"districts"`
    CreatedAt string   `json:"createdAt,omitempty"`
}

type CopyRequest struct {
    Name  string `json:"name"`
    Owner string `json:"owner,omitempty"`
}

type DistrictOut struct {
    DistrictID string              `json:"districtId"`
    Version    int                 `json:"version"`
    IsLocked   bool                `json:"isLocked"`
    Geom       string              `json:"geom,omitempty"`
    Simple     string              `json:"simple,omitempty"`
    Chars      []CharacteristicOut `json:"characteristics,omitempty"`
    UnitCount  int                 `json:"unitCount"`
}

// CharacteristicOut carries the aggregated subject numbers as exact decimal
// strings.
type CharacteristicOut struct {
    Subject    string `json:"subject"`
    Number     string `json:"number"`
    Percentage string `json:"percentage"`
}

type BaseUnitOut struct {
    GeounitID  string            `json:"geounitId"`
    DistrictID string            `json:"districtId,omitempty"`
    Chars      map[string]string `json:"characteristics,omitempty"`
}

type EditRequest struct {
    GeounitIDs []string `json:"geounitIds"`
    Geolevel   string   `json:"geolevel"`
    Version    int      `json:"version,omitempty"`
}

type EditResult struct {
    PlanID  string   `json:"planId"`
    Version int      `json:"version"`
    Changed []string `json:"changed,omitempty"`
    NoOp    bool     `json:"noOp,omitempty"`
}

type LockRequest struct {
    Locked bool `json:"locked"`
}

type PurgeRequest struct {
    Before *int `json:"before,omitempty"`
    After  *int `json:"after,omitempty"`
}

type PurgeResult struct {
    PlanID  string `json:"planId"`
    Deleted int    `json:"deleted"`
}

type ScoreArg struct {
    Kind  string `json:"kind"` // literal, subject
    Value string `json:"value"`
}

type ScoreRequest struct {
    Calculator string              `json:"calculator"`
    Args       map[string]ScoreArg `json:"args,omitempty"`
    PlanScore  bool                `json:"planScore,omitempty"`
    DistrictID string              `json:"districtId,omitempty"`
    Version    *int                `json:"version,omitempty"`
    Format     string              `json:"format,omitempty"`
}

type ScoreResult struct {
    Calculator string `json:"calculator"`
    Version    int    `json:"version"`
    DistrictID string `json:"districtId,omitempty"`
    Result     any    `json:"result"`
}

type GeolevelOut struct {
    Name  string `json:"name"`
    Rank  int    `json:"rank"`
    Units int    `json:"units"`
}

type SubjectOut struct {
    Name    string `json:"name"`
    Display string `json:"display"`
    Total   string `json:"total"`
}

type SubscriptionRequest struct {
    Owner  string   `json:"owner,omitempty"`
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret"`
}

type Subscription struct {
    ID     string   `json:"id"`
    Owner  string   `json:"owner,omitempty"`
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret,omitempty"`
}
