package api

import (
	"github.com/phrazzld/prism-api/internal/coordinator"
	"github.com/phrazzld/prism-api/internal/domain"
)

// RunRequest defines the payload for POST /api/runs and /api/runs/queued.
type RunRequest struct {
	Input       string   `json:"input"        validate:"required,max=20000"`
	Mode        string   `json:"mode"         validate:"omitempty,oneof=parallel sequential"`
	Strategy    string   `json:"strategy"     validate:"omitempty,oneof=best_of_all weighted_merge ensemble voting confidence_weighted"`
	Workers     []string `json:"workers"      validate:"omitempty,dive,required"`
	Hints       []string `json:"hints"`
	Examples    []string `json:"examples"`
	Constraints []string `json:"constraints"`
	Target      string   `json:"target"`
	Techniques  []string `json:"techniques"`
	MaxVariants int      `json:"max_variants" validate:"gte=0,lte=20"`

	// Priority is only used by queued runs.
	Priority int `json:"priority"`
}

// Options converts the request into coordinator run options.
func (r RunRequest) Options() coordinator.RunOptions {
	return coordinator.RunOptions{
		Mode:        coordinator.Mode(r.Mode),
		Workers:     r.Workers,
		Strategy:    domain.Strategy(r.Strategy),
		MaxVariants: r.MaxVariants,
		Hints:       r.Hints,
		Examples:    r.Examples,
		Constraints: r.Constraints,
		Target:      r.Target,
		Techniques:  r.Techniques,
		Priority:    r.Priority,
	}
}

// WorkerRequest defines the payload for POST /api/workers/{name}.
type WorkerRequest struct {
	Input       string   `json:"input"        validate:"required,max=20000"`
	Hints       []string `json:"hints"`
	Examples    []string `json:"examples"`
	Constraints []string `json:"constraints"`
	Target      string   `json:"target"`
	Techniques  []string `json:"techniques"`
	MaxVariants int      `json:"max_variants" validate:"gte=0,lte=20"`
}

// Options converts the request into coordinator run options.
func (r WorkerRequest) Options() coordinator.RunOptions {
	return coordinator.RunOptions{
		MaxVariants: r.MaxVariants,
		Hints:       r.Hints,
		Examples:    r.Examples,
		Constraints: r.Constraints,
		Target:      r.Target,
		Techniques:  r.Techniques,
	}
}

// CompareRequest defines the payload for POST /api/compare.
type CompareRequest struct {
	InputA string `json:"input_a" validate:"required,max=20000"`
	InputB string `json:"input_b" validate:"required,max=20000"`
}

// StatsResponse is returned by GET /api/stats.
type StatsResponse struct {
	Coordinator coordinator.Stats `json:"coordinator"`
	Clients     int               `json:"stream_clients"`
}
