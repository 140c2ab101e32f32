// Package ledger tracks cumulative token spend for the current calendar
// month against a budget, survives restarts through a single JSON state
// file, and fires one-time threshold warnings.
//
// DESIGN: One Ledger instance per deployment owns the persisted state.
// Every exported operation takes the ledger mutex and first applies a lazy
// rollover when the wall-clock month no longer matches the stored period,
// so counters always belong to the current period. Budget gating is a
// gate-and-reserve step: Reserve atomically checks headroom and holds a
// provisional worst-case cost until the real usage is committed or the
// reservation is released, which closes the check-then-act race between
// concurrent requests.
package ledger

import (
	"fmt"
	"time"
)

// DefaultWarningThresholds are the percent-of-budget levels at which a
// warning fires, ascending.
var DefaultWarningThresholds = []int{50, 75, 90}

// periodKey formats t as the "YYYY-MM" billing period identifier. The string
// form is stable and sortable, and drives rollover detection.
func periodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// state is the persisted ledger record. The file holds exactly one of these,
// rewritten in full on every mutation.
type state struct {
	CurrentPeriod string           `json:"current_month"`
	TotalCost     float64          `json:"total_cost"`
	InputTokens   int64            `json:"input_tokens"`
	OutputTokens  int64            `json:"output_tokens"`
	RequestCount  int64            `json:"request_count"`
	History       []PeriodSnapshot `json:"history"`
}

// PeriodSnapshot archives one closed billing period.
type PeriodSnapshot struct {
	Period       string  `json:"month"`
	TotalCost    float64 `json:"total_cost"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	RequestCount int64   `json:"request_count"`
}

// Receipt reports one recorded request.
type Receipt struct {
	RequestCost     float64
	TotalCost       float64
	BudgetUsedPct   float64
	RemainingBudget float64
	InputTokens     int
	OutputTokens    int
}

// Warning is a one-time-per-period threshold crossing.
type Warning struct {
	Threshold int
	Stats     UsageStats
}

// Message renders the admin notification text.
func (w Warning) Message() string {
	s := w.Stats
	return fmt.Sprintf(
		"Budget alert: %d%% threshold reached\n\n"+
			"Period %s: spent $%.4f of $%.2f (%.1f%% used, $%.4f remaining)\n"+
			"Tokens: %d in / %d out across %d requests\n"+
			"Budget resets in %d day(s)\nStatus: %s",
		w.Threshold, s.Period, s.TotalCost, s.MonthlyBudget, s.BudgetUsedPct,
		s.RemainingBudget, s.InputTokens, s.OutputTokens, s.RequestCount,
		s.DaysUntilReset, s.Status)
}

// UsageStats is a read-only view of the current period.
type UsageStats struct {
	Period          string
	TotalCost       float64
	MonthlyBudget   float64
	BudgetUsedPct   float64
	RemainingBudget float64
	InputTokens     int64
	OutputTokens    int64
	RequestCount    int64
	DaysUntilReset  int
	Status          string
	History         []PeriodSnapshot
}

// BudgetError is the gate denial. It carries everything the user-facing
// message needs: current spend, the budget, and when it resets.
type BudgetError struct {
	CurrentCost    float64
	ProjectedCost  float64
	MonthlyBudget  float64
	DaysUntilReset int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf(
		"monthly budget limit reached: spent $%.4f of $%.2f, projected request cost $%.4f would exceed the cap; budget resets in %d day(s)",
		e.CurrentCost, e.MonthlyBudget, e.ProjectedCost, e.DaysUntilReset)
}

// budgetStatus is a coarse label for reports.
func budgetStatus(usedPct float64) string {
	switch {
	case usedPct >= 100:
		return "EXCEEDED"
	case usedPct >= 90:
		return "CRITICAL"
	case usedPct >= 75:
		return "HIGH"
	case usedPct >= 50:
		return "MODERATE"
	default:
		return "HEALTHY"
	}
}
