package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// haiku pricing keeps the arithmetic in tests easy to follow:
// $0.25/MTok in, $1.25/MTok out.
var testPricing = Pricing{InputPerMTok: 0.25, OutputPerMTok: 1.25}

func newTestLedger(t *testing.T, budget float64, opts ...func(*Config)) *Ledger {
	t.Helper()
	cfg := Config{
		MonthlyBudget: budget,
		Pricing:       testPricing,
		Path:          filepath.Join(t.TempDir(), "cost_data.json"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	l, err := New(cfg)
	require.NoError(t, err)
	return l
}

func TestPricing_Cost(t *testing.T) {
	// 1M input + 1M output tokens at haiku rates.
	assert.InDelta(t, 1.5, testPricing.Cost(1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.25, testPricing.Cost(1_000_000, 0), 1e-9)
	assert.InDelta(t, 1.25, testPricing.Cost(0, 1_000_000), 1e-9)
}

func TestPricingForModel(t *testing.T) {
	assert.Equal(t, Pricing{InputPerMTok: 0.25, OutputPerMTok: 1.25}, PricingForModel("claude-3-haiku-20240307"))
	// Family prefix match.
	assert.Equal(t, Pricing{InputPerMTok: 3, OutputPerMTok: 15}, PricingForModel("claude-3-5-sonnet-20260101"))
	// Unknown model gets the conservative default.
	assert.Equal(t, defaultPricing, PricingForModel("mystery-model"))
}

func TestConfig_Validate(t *testing.T) {
	bad := Config{MonthlyBudget: 0, Pricing: testPricing}
	assert.Error(t, bad.Validate())

	bad = Config{MonthlyBudget: 10, Pricing: testPricing, WarningThresholds: []int{75, 50}}
	assert.Error(t, bad.Validate())

	good := Config{MonthlyBudget: 10, Pricing: testPricing, WarningThresholds: []int{50, 75, 90}}
	assert.NoError(t, good.Validate())
}

func TestLedger_ReserveAndCommit(t *testing.T) {
	l := newTestLedger(t, 10.0)

	res, err := l.Reserve(2000)
	require.NoError(t, err)

	receipt := res.Commit(100_000, 50_000)
	assert.InDelta(t, 0.025+0.0625, receipt.RequestCost, 1e-9)
	assert.InDelta(t, receipt.RequestCost, receipt.TotalCost, 1e-9)
	assert.Greater(t, receipt.BudgetUsedPct, 0.0)

	stats := l.Stats()
	assert.Equal(t, int64(100_000), stats.InputTokens)
	assert.Equal(t, int64(50_000), stats.OutputTokens)
	assert.Equal(t, int64(1), stats.RequestCount)
}

func TestLedger_SequenceUnderBudgetNeverDenied(t *testing.T) {
	l := newTestLedger(t, 10.0)

	// 50 requests of ~$0.0875 each stay well under $10.
	for i := 0; i < 50; i++ {
		res, err := l.Reserve(2000)
		require.NoError(t, err, "request %d", i)
		res.Commit(100_000, 50_000)
	}
	assert.Less(t, l.Stats().TotalCost, 10.0)
}

func TestLedger_SingleOversizedRequestDenied(t *testing.T) {
	l := newTestLedger(t, 0.001)

	// Projection at the output rate: 2000 * 1.25/1M = $0.0025 > $0.001.
	res, err := l.Reserve(2000)
	require.Error(t, err)
	assert.Nil(t, res)

	var be *BudgetError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 0.001, be.MonthlyBudget)
	assert.GreaterOrEqual(t, be.DaysUntilReset, 1)

	// Denial leaves counters unchanged.
	stats := l.Stats()
	assert.Zero(t, stats.TotalCost)
	assert.Zero(t, stats.RequestCount)
}

func TestLedger_ProjectionUsesOutputRate(t *testing.T) {
	// Budget fits the estimate at the input rate but not at the output rate;
	// the gate must be conservative and deny.
	l := newTestLedger(t, 0.001)

	// 1000 tokens: input rate $0.00025, output rate $0.00125.
	_, err := l.Reserve(1000)
	require.Error(t, err)
}

func TestLedger_ReservationHoldsHeadroom(t *testing.T) {
	l := newTestLedger(t, 0.004)

	// Each reservation projects 2000 * 1.25/1M = $0.0025.
	res1, err := l.Reserve(2000)
	require.NoError(t, err)

	// Second reservation would project past the budget including the hold.
	_, err = l.Reserve(2000)
	require.Error(t, err)

	// Releasing the first restores headroom.
	res1.Release()
	res2, err := l.Reserve(2000)
	require.NoError(t, err)
	res2.Release()
}

func TestLedger_ReleaseAfterCommitIsNoOp(t *testing.T) {
	l := newTestLedger(t, 10.0)

	res, err := l.Reserve(2000)
	require.NoError(t, err)
	res.Commit(1000, 500)
	res.Release()

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.RequestCount)

	// Headroom is fully restored after settle.
	res2, err := l.Reserve(2000)
	require.NoError(t, err)
	res2.Release()
}

func TestLedger_WarningsFireOncePerThreshold(t *testing.T) {
	l := newTestLedger(t, 1.0)

	// Spend to 60% of budget: $0.60 = 480k output tokens at $1.25/MTok.
	res, _ := l.Reserve(0)
	res.Commit(0, 480_000)

	w := l.CheckWarnings()
	require.NotNil(t, w)
	assert.Equal(t, 50, w.Threshold)
	assert.NotEmpty(t, w.Message())

	// Same level again: nothing new fires.
	assert.Nil(t, l.CheckWarnings())

	// Cross 75%.
	res, _ = l.Reserve(0)
	res.Commit(0, 160_000) // +$0.20 -> 80%
	w = l.CheckWarnings()
	require.NotNil(t, w)
	assert.Equal(t, 75, w.Threshold)
	assert.Nil(t, l.CheckWarnings())
}

func TestLedger_SkippedThresholdsMarkedFired(t *testing.T) {
	l := newTestLedger(t, 1.0)

	// One large request jumps straight past 50, 75 and 90.
	res, _ := l.Reserve(0)
	res.Commit(0, 760_000) // $0.95 -> 95%

	w := l.CheckWarnings()
	require.NotNil(t, w)
	assert.Equal(t, 90, w.Threshold)

	// 50 and 75 were skipped over but must not fire later.
	assert.Nil(t, l.CheckWarnings())
}

func TestLedger_Rollover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cost_data.json")

	jan := time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)
	clock := &jan

	cfg := Config{
		MonthlyBudget: 10.0,
		Pricing:       testPricing,
		Path:          path,
		Now:           func() time.Time { return *clock },
	}
	l, err := New(cfg)
	require.NoError(t, err)

	res, _ := l.Reserve(2000)
	res.Commit(100_000, 50_000)
	janCost := l.Stats().TotalCost
	require.Greater(t, janCost, 0.0)
	require.Equal(t, "2024-01", l.Stats().Period)

	// Move the wall clock into February; any access rolls over.
	feb := time.Date(2024, 2, 1, 0, 30, 0, 0, time.UTC)
	*clock = feb

	stats := l.Stats()
	assert.Equal(t, "2024-02", stats.Period)
	assert.Zero(t, stats.TotalCost)
	assert.Zero(t, stats.RequestCount)
	require.Len(t, stats.History, 1)
	assert.Equal(t, "2024-01", stats.History[0].Period)
	assert.InDelta(t, janCost, stats.History[0].TotalCost, 1e-9)
}

func TestLedger_RolloverResetsWarnings(t *testing.T) {
	clock := time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(t, 1.0, func(c *Config) {
		c.Now = func() time.Time { return clock }
	})

	res, _ := l.Reserve(0)
	res.Commit(0, 480_000) // 60%
	require.NotNil(t, l.CheckWarnings())

	clock = time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC)
	require.Nil(t, l.CheckWarnings(), "fresh period starts with no warnings")

	res, _ = l.Reserve(0)
	res.Commit(0, 480_000)
	w := l.CheckWarnings()
	require.NotNil(t, w, "thresholds can fire again in the new period")
	assert.Equal(t, 50, w.Threshold)
}

func TestLedger_HistoryCappedAtTwelve(t *testing.T) {
	l := newTestLedger(t, 10.0)

	for i := 0; i < 15; i++ {
		res, _ := l.Reserve(100)
		res.Commit(1000, 500)
		l.Reset()
	}

	stats := l.Stats()
	assert.Len(t, stats.History, 12)
}

func TestLedger_Reset(t *testing.T) {
	l := newTestLedger(t, 10.0)

	res, _ := l.Reserve(2000)
	res.Commit(100_000, 50_000)

	prev := l.Reset()
	assert.Greater(t, prev.TotalCost, 0.0)
	assert.Equal(t, int64(1), prev.RequestCount)

	stats := l.Stats()
	assert.Zero(t, stats.TotalCost)
	assert.Zero(t, stats.RequestCount)
	require.NotEmpty(t, stats.History)
	assert.Equal(t, prev.TotalCost, stats.History[len(stats.History)-1].TotalCost)
}

func TestLedger_PersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cost_data.json")

	cfg := Config{MonthlyBudget: 10.0, Pricing: testPricing, Path: path}
	l, err := New(cfg)
	require.NoError(t, err)

	res, _ := l.Reserve(2000)
	receipt := res.Commit(100_000, 50_000)

	// File on disk is complete JSON after every commit.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st state
	require.NoError(t, json.Unmarshal(data, &st))
	assert.InDelta(t, receipt.TotalCost, st.TotalCost, 1e-9)

	// A fresh ledger picks the state back up.
	l2, err := New(cfg)
	require.NoError(t, err)
	stats := l2.Stats()
	assert.InDelta(t, receipt.TotalCost, stats.TotalCost, 1e-9)
	assert.Equal(t, int64(1), stats.RequestCount)
}

func TestLedger_CorruptFileIsFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cost_data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l, err := New(Config{MonthlyBudget: 10.0, Pricing: testPricing, Path: path})
	require.NoError(t, err)
	assert.Zero(t, l.Stats().TotalCost)
}

func TestLedger_MissingFileIsFirstRun(t *testing.T) {
	l, err := New(Config{
		MonthlyBudget: 10.0,
		Pricing:       testPricing,
		Path:          filepath.Join(t.TempDir(), "nope", "cost_data.json"),
	})
	require.NoError(t, err)
	assert.Zero(t, l.Stats().TotalCost)

	// The directory does not exist, so persistence degrades to memory-only
	// without failing the request.
	res, reserveErr := l.Reserve(2000)
	require.NoError(t, reserveErr)
	receipt := res.Commit(1000, 500)
	assert.Greater(t, receipt.RequestCost, 0.0)
}

func TestLedger_StoredJanuaryWallClockFebruary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cost_data.json")

	stored := state{
		CurrentPeriod: "2024-01",
		TotalCost:     1.5,
		InputTokens:   10,
		OutputTokens:  20,
		RequestCount:  3,
		History:       []PeriodSnapshot{},
	}
	data, err := json.Marshal(stored)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	l, err := New(Config{
		MonthlyBudget: 10.0,
		Pricing:       testPricing,
		Path:          path,
		Now:           func() time.Time { return time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	stats := l.Stats()
	assert.Equal(t, "2024-02", stats.Period)
	assert.Zero(t, stats.TotalCost)
	require.Len(t, stats.History, 1)
	assert.Equal(t, "2024-01", stats.History[0].Period)
	assert.InDelta(t, 1.5, stats.History[0].TotalCost, 1e-9)
}

func TestBudgetStatusLabels(t *testing.T) {
	assert.Equal(t, "HEALTHY", budgetStatus(10))
	assert.Equal(t, "MODERATE", budgetStatus(55))
	assert.Equal(t, "HIGH", budgetStatus(80))
	assert.Equal(t, "CRITICAL", budgetStatus(92))
	assert.Equal(t, "EXCEEDED", budgetStatus(101))
}
