package budget

import (
	"errors"
	"fmt"

	"github.com/pario-ai/ladder/pkg/models"
)

// ErrBudgetExceeded is returned when an escalation would exceed the run's cost ceiling.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrEscalationDeclined is returned when an escalation needed approval and did not get it.
var ErrEscalationDeclined = errors.New("escalation not approved")

// ConfirmFunc asks whether to escalate from the current cost to the projected total.
type ConfirmFunc func(currentCost, projectedCost float64) bool

// Guard decides whether a run may spend more.
type Guard struct {
	cfg     models.EscalationConfig
	confirm ConfirmFunc
}

// NewGuard creates a Guard. A nil confirm declines every escalation that needs approval.
func NewGuard(cfg models.EscalationConfig, confirm ConfirmFunc) *Guard {
	return &Guard{cfg: cfg, confirm: confirm}
}

// Check returns nil when spending estimate on top of current is allowed.
// It returns an error wrapping ErrBudgetExceeded when the ceiling would be
// crossed, or ErrEscalationDeclined when the projected total is above the
// auto-approve limit and the confirmation hook is absent or says no.
func (g *Guard) Check(current, estimate float64) error {
	projected := current + estimate
	if g.cfg.MaxCost <= 0 {
		return fmt.Errorf("%w: max cost is %.4f", ErrBudgetExceeded, g.cfg.MaxCost)
	}
	if projected > g.cfg.MaxCost {
		return fmt.Errorf("%w: projected $%.4f above max $%.4f", ErrBudgetExceeded, projected, g.cfg.MaxCost)
	}
	if projected > g.cfg.AutoApproveUnder {
		if g.confirm == nil || !g.confirm(current, projected) {
			return fmt.Errorf("%w: projected $%.4f above auto-approve $%.4f", ErrEscalationDeclined, projected, g.cfg.AutoApproveUnder)
		}
	}
	return nil
}

// Status reports spend against the ceiling.
type Status struct {
	MaxCost   float64 `json:"max_cost"`
	Spent     float64 `json:"spent"`
	Remaining float64 `json:"remaining"`
}

// Status returns the budget status after spending current.
func (g *Guard) Status(current float64) Status {
	remaining := g.cfg.MaxCost - current
	if remaining < 0 {
		remaining = 0
	}
	return Status{MaxCost: g.cfg.MaxCost, Spent: current, Remaining: remaining}
}
