// Package budget enforces per-model token spend policies against the usage
// journal.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/tracker"
)

// ErrBudgetExceeded is returned when a model call would exceed a policy.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Enforcer checks token usage against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	tracker  tracker.Tracker
	now      func() time.Time
}

// New creates an Enforcer with the given policies and tracker.
func New(policies []models.BudgetPolicy, t tracker.Tracker) *Enforcer {
	return &Enforcer{policies: policies, tracker: t, now: time.Now}
}

// Check returns a budget_exceeded error wrapping ErrBudgetExceeded if any
// policy covering model is used up.
func (e *Enforcer) Check(ctx context.Context, model string) error {
	for _, p := range e.policies {
		if !covers(p, model) {
			continue
		}
		used, err := e.used(ctx, p)
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if used >= p.MaxTokens {
			return errs.Wrap(
				fmt.Errorf("%w: %s %s limit of %d tokens reached", ErrBudgetExceeded, policyScope(p), p.Period, p.MaxTokens),
				errs.CategoryBudgetExceeded, "budget_exceeded", false)
		}
	}
	return nil
}

// Status returns usage against every policy.
func (e *Enforcer) Status(ctx context.Context) ([]models.BudgetStatus, error) {
	statuses := make([]models.BudgetStatus, 0, len(e.policies))
	for _, p := range e.policies {
		used, err := e.used(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		remaining := p.MaxTokens - used
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Used:      used,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

func (e *Enforcer) used(ctx context.Context, p models.BudgetPolicy) (int64, error) {
	since := periodStart(p.Period, e.now())
	if isWildcard(p) {
		return e.tracker.Total(ctx, since)
	}
	return e.tracker.TotalByModel(ctx, p.Model, since)
}

func covers(p models.BudgetPolicy, model string) bool {
	return isWildcard(p) || p.Model == model
}

func isWildcard(p models.BudgetPolicy) bool {
	return p.Model == "" || p.Model == "*"
}

func policyScope(p models.BudgetPolicy) string {
	if isWildcard(p) {
		return "all models"
	}
	return p.Model
}

func periodStart(period models.BudgetPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
