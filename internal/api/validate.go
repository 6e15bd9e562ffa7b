package api

import (
	"fmt"
	"strings"

	"distmap/internal/model"
	"distmap/internal/score"
)

func validateEditRequest(req *model.EditRequest) error {
	if req.Geolevel == "" {
		return fmt.Errorf("geolevel is required")
	}
	if req.Version < 0 {
		return fmt.Errorf("version must be >= 0")
	}
	for _, id := range req.GeounitIDs {
		if id == "" {
			return fmt.Errorf("geounitIds must not contain empty ids")
		}
	}
	return nil
}

func validateScoreRequest(req *model.ScoreRequest) error {
	if req.Calculator == "" {
		return fmt.Errorf("calculator is required")
	}
	if req.Version != nil && *req.Version < 0 {
		return fmt.Errorf("version must be >= 0")
	}
	switch strings.ToLower(req.Format) {
	case "", "raw", "html", "json":
	default:
		return fmt.Errorf("unknown format: %s (allowed: raw,html,json)", req.Format)
	}
	for name, a := range req.Args {
		switch a.Kind {
		case "literal", "subject":
		default:
			return fmt.Errorf("arg %s: kind must be literal or subject", name)
		}
		if a.Value == "" {
			return fmt.Errorf("arg %s: value is required", name)
		}
	}
	return nil
}

func validatePurgeRequest(req *model.PurgeRequest) error {
	if req.Before == nil && req.After == nil {
		return fmt.Errorf("one of before or after is required")
	}
	if req.Before != nil && req.After != nil {
		return fmt.Errorf("before and after are mutually exclusive")
	}
	if req.Before != nil && *req.Before < 0 {
		return fmt.Errorf("before must be >= 0")
	}
	if req.After != nil && *req.After < 0 {
		return fmt.Errorf("after must be >= 0")
	}
	return nil
}

func scoreArgs(in map[string]model.ScoreArg) score.Args {
	out := score.Args{}
	for name, a := range in {
		if a.Kind == "subject" {
			out[name] = score.Subject(a.Value)
		} else {
			out[name] = score.Literal(a.Value)
		}
	}
	return out
}
