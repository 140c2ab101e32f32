package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures a Ledger.
type Config struct {
	// MonthlyBudget is the spending cap in USD for one calendar month.
	MonthlyBudget float64

	// Pricing holds the per-token rates resolved for the summarization model.
	Pricing Pricing

	// Path is the JSON state file. Empty disables persistence.
	Path string

	// WarningThresholds are ascending percent-of-budget levels
	// (DefaultWarningThresholds when nil).
	WarningThresholds []int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validate checks the ledger configuration.
func (c *Config) Validate() error {
	if c.MonthlyBudget <= 0 {
		return fmt.Errorf("budget.monthly_usd must be > 0, got %f", c.MonthlyBudget)
	}
	if c.Pricing.InputPerMTok < 0 || c.Pricing.OutputPerMTok <= 0 {
		return fmt.Errorf("invalid pricing: input=%f output=%f", c.Pricing.InputPerMTok, c.Pricing.OutputPerMTok)
	}
	prev := 0
	for _, th := range c.WarningThresholds {
		if th <= prev || th > 100 {
			return fmt.Errorf("budget.warning_thresholds must be ascending percentages, got %v", c.WarningThresholds)
		}
		prev = th
	}
	return nil
}

// maxHistory caps the archived period list; oldest entries are evicted.
const maxHistory = 12

// Ledger is the process-wide cost ledger. All exported methods are safe for
// concurrent use.
type Ledger struct {
	cfg        Config
	thresholds []int
	now        func() time.Time

	mu       sync.Mutex
	st       state
	reserved float64 // provisional cost held by open reservations

	// warningsFired is intentionally not persisted: it resets on restart
	// as well as on period rollover.
	warningsFired map[int]bool

	persistDisabled bool
}

// New creates a Ledger, loading prior state from cfg.Path when the file
// exists. A missing or unreadable file means first run, never a fatal error.
func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	thresholds := cfg.WarningThresholds
	if thresholds == nil {
		thresholds = DefaultWarningThresholds
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &Ledger{
		cfg:           cfg,
		thresholds:    thresholds,
		now:           now,
		warningsFired: make(map[int]bool),
	}
	l.st = l.loadState()

	l.mu.Lock()
	l.rolloverLocked()
	l.mu.Unlock()

	log.Info().
		Float64("budget_usd", cfg.MonthlyBudget).
		Str("period", l.st.CurrentPeriod).
		Float64("spent_usd", l.st.TotalCost).
		Msg("ledger: initialized")
	return l, nil
}

// loadState reads the state file, falling back to a zeroed current period.
func (l *Ledger) loadState() state {
	fresh := state{CurrentPeriod: periodKey(l.now()), History: []PeriodSnapshot{}}
	if l.cfg.Path == "" {
		return fresh
	}

	data, err := os.ReadFile(l.cfg.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Str("path", l.cfg.Path).Msg("ledger: state file unreadable, starting from zero")
		}
		return fresh
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		log.Error().Err(err).Str("path", l.cfg.Path).Msg("ledger: state file corrupt, starting from zero")
		return fresh
	}
	if st.CurrentPeriod == "" {
		return fresh
	}
	if st.History == nil {
		st.History = []PeriodSnapshot{}
	}
	return st
}

// persistLocked rewrites the whole state file atomically (temp + rename).
// A failure degrades the ledger to memory-only for this process; it never
// blocks the request.
func (l *Ledger) persistLocked() {
	if l.cfg.Path == "" || l.persistDisabled {
		return
	}

	data, err := json.MarshalIndent(l.st, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("ledger: marshal state failed")
		return
	}

	dir := filepath.Dir(l.cfg.Path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		l.disablePersistLocked(err)
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		l.disablePersistLocked(err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		l.disablePersistLocked(err)
		return
	}
	if err := os.Rename(tmpName, l.cfg.Path); err != nil {
		os.Remove(tmpName)
		l.disablePersistLocked(err)
		return
	}
}

func (l *Ledger) disablePersistLocked(err error) {
	l.persistDisabled = true
	log.Error().Err(err).Str("path", l.cfg.Path).
		Msg("ledger: persistence failed, continuing memory-only for this process")
}

// rolloverLocked archives the stored period and zeroes counters when the
// wall-clock month has moved on. Checked once at the top of every exported
// operation so counters always belong to the current period.
func (l *Ledger) rolloverLocked() {
	current := periodKey(l.now())
	if l.st.CurrentPeriod == current {
		return
	}

	log.Info().
		Str("from", l.st.CurrentPeriod).
		Str("to", current).
		Float64("archived_cost", l.st.TotalCost).
		Msg("ledger: new billing period, rolling over")

	l.archiveLocked()
	l.st.CurrentPeriod = current
	l.persistLocked()
}

// archiveLocked pushes the current counters into history and zeroes them.
func (l *Ledger) archiveLocked() {
	l.st.History = append(l.st.History, PeriodSnapshot{
		Period:       l.st.CurrentPeriod,
		TotalCost:    l.st.TotalCost,
		InputTokens:  l.st.InputTokens,
		OutputTokens: l.st.OutputTokens,
		RequestCount: l.st.RequestCount,
	})
	if len(l.st.History) > maxHistory {
		l.st.History = l.st.History[len(l.st.History)-maxHistory:]
	}

	l.st.TotalCost = 0
	l.st.InputTokens = 0
	l.st.OutputTokens = 0
	l.st.RequestCount = 0
	l.warningsFired = make(map[int]bool)
}

// Reservation is a provisional budget hold returned by Reserve. Exactly one
// of Commit or Release must be called.
type Reservation struct {
	ledger *Ledger
	hold   float64
	done   bool
}

// ProjectCost returns the worst-case cost projection for estimatedTokens,
// billed entirely at the output rate. This is the same projection Reserve
// gates on.
func (l *Ledger) ProjectCost(estimatedTokens int) float64 {
	return float64(estimatedTokens) * l.cfg.Pricing.OutputRate()
}

// Reserve projects the request cost from estimatedTokens billed entirely at
// the output rate (deliberately conservative) and atomically reserves that
// amount against the budget. Denial returns a *BudgetError and leaves all
// counters unchanged.
func (l *Ledger) Reserve(estimatedTokens int) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	projection := float64(estimatedTokens) * l.cfg.Pricing.OutputRate()
	if l.st.TotalCost+l.reserved+projection > l.cfg.MonthlyBudget {
		return nil, &BudgetError{
			CurrentCost:    l.st.TotalCost,
			ProjectedCost:  projection,
			MonthlyBudget:  l.cfg.MonthlyBudget,
			DaysUntilReset: l.daysUntilResetLocked(),
		}
	}

	l.reserved += projection
	return &Reservation{ledger: l, hold: projection}, nil
}

// Commit replaces the provisional hold with the actual cost computed from
// real token usage, updates cumulative counters, and persists the state.
func (r *Reservation) Commit(inputTokens, outputTokens int) Receipt {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	r.settleLocked()

	cost := l.cfg.Pricing.Cost(inputTokens, outputTokens)
	l.st.TotalCost += cost
	l.st.InputTokens += int64(inputTokens)
	l.st.OutputTokens += int64(outputTokens)
	l.st.RequestCount++
	l.persistLocked()

	usedPct := l.st.TotalCost / l.cfg.MonthlyBudget * 100
	log.Info().
		Int("input_tokens", inputTokens).
		Int("output_tokens", outputTokens).
		Float64("request_cost_usd", cost).
		Float64("total_cost_usd", l.st.TotalCost).
		Float64("budget_used_pct", usedPct).
		Msg("ledger: recorded request")

	return Receipt{
		RequestCost:     cost,
		TotalCost:       l.st.TotalCost,
		BudgetUsedPct:   usedPct,
		RemainingBudget: l.cfg.MonthlyBudget - l.st.TotalCost,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
	}
}

// Release drops the hold without recording anything. Safe to call after
// Commit; the first settle wins.
func (r *Reservation) Release() {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	r.settleLocked()
}

func (r *Reservation) settleLocked() {
	if r.done {
		return
	}
	r.done = true
	r.ledger.reserved -= r.hold
	if r.ledger.reserved < 0 {
		r.ledger.reserved = 0
	}
}

// CheckWarnings reports the highest warning threshold newly crossed this
// period, or nil. Each threshold fires at most once per period; thresholds
// skipped over by a single large request are marked fired as well.
func (l *Ledger) CheckWarnings() *Warning {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	usedPct := l.st.TotalCost / l.cfg.MonthlyBudget * 100

	crossed := make([]int, 0, len(l.thresholds))
	for _, th := range l.thresholds {
		if usedPct >= float64(th) && !l.warningsFired[th] {
			crossed = append(crossed, th)
		}
	}
	if len(crossed) == 0 {
		return nil
	}

	sort.Ints(crossed)
	for _, th := range crossed {
		l.warningsFired[th] = true
	}

	top := crossed[len(crossed)-1]
	log.Warn().Int("threshold_pct", top).Float64("budget_used_pct", usedPct).
		Msg("ledger: budget warning threshold crossed")
	return &Warning{Threshold: top, Stats: l.statsLocked()}
}

// Reset manually archives and zeroes the current period (admin trigger),
// independent of the lazy rollover.
func (l *Ledger) Reset() PeriodSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	prev := PeriodSnapshot{
		Period:       l.st.CurrentPeriod,
		TotalCost:    l.st.TotalCost,
		InputTokens:  l.st.InputTokens,
		OutputTokens: l.st.OutputTokens,
		RequestCount: l.st.RequestCount,
	}

	l.archiveLocked()
	l.st.CurrentPeriod = periodKey(l.now())
	l.persistLocked()

	log.Warn().Float64("archived_cost_usd", prev.TotalCost).Msg("ledger: usage manually reset")
	return prev
}

// Stats returns a snapshot of the current period for reporting.
func (l *Ledger) Stats() UsageStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.statsLocked()
}

func (l *Ledger) statsLocked() UsageStats {
	usedPct := l.st.TotalCost / l.cfg.MonthlyBudget * 100
	history := make([]PeriodSnapshot, len(l.st.History))
	copy(history, l.st.History)

	return UsageStats{
		Period:          l.st.CurrentPeriod,
		TotalCost:       l.st.TotalCost,
		MonthlyBudget:   l.cfg.MonthlyBudget,
		BudgetUsedPct:   usedPct,
		RemainingBudget: l.cfg.MonthlyBudget - l.st.TotalCost,
		InputTokens:     l.st.InputTokens,
		OutputTokens:    l.st.OutputTokens,
		RequestCount:    l.st.RequestCount,
		DaysUntilReset:  l.daysUntilResetLocked(),
		Status:          budgetStatus(usedPct),
		History:         history,
	}
}

// daysUntilResetLocked counts days to the first of next month, at least 1.
func (l *Ledger) daysUntilResetLocked() int {
	now := l.now().UTC()
	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	days := int(firstOfNext.Sub(now).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days
}
