// Package pipeline runs a summary request end to end: resolve the
// timeframe, retrieve messages, govern the sample size, gate the spend,
// call the provider, and record the cost. Each stage either advances or
// stops the request with a categorized failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/recaplabs/chat-recap/internal/ledger"
	"github.com/recaplabs/chat-recap/internal/sampling"
	"github.com/recaplabs/chat-recap/internal/store"
	"github.com/recaplabs/chat-recap/internal/summarize"
	"github.com/recaplabs/chat-recap/internal/timeframe"
)

// Defaults for plain requests with no timeframe argument.
const (
	DefaultMessageLimit = 75
	DefaultMaxAge       = 24 * time.Hour
)

// Kind categorizes a stopped request.
type Kind string

const (
	KindInvalidTimeframe Kind = "invalid_timeframe"
	KindEmptyHistory     Kind = "empty_history"
	KindBudgetDenied     Kind = "budget_denied"
	KindProvider         Kind = "provider"
)

// Failure is a request stopped at a known stage. The wrapped error keeps
// stage-specific detail (a *ledger.BudgetError, a *summarize.ProviderError).
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Summarizer is the provider collaborator.
type Summarizer interface {
	Summarize(ctx context.Context, formatted string) (*summarize.Result, error)
	Model() string
	MaxOutputTokens() int
}

// Estimator projects token counts before spend is gated.
type Estimator interface {
	Estimate(model, text string) int
}

// Estimate is the pre-request cost projection for one pending summary.
// Advisory marks a projection above the configured advisory threshold; it
// never blocks the request.
type Estimate struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
	Advisory     bool
}

// Outcome is a completed summary request.
type Outcome struct {
	RequestID string
	Summary   string

	// Timeframe is nil for plain recency requests.
	Timeframe *timeframe.Timeframe

	OriginalCount int
	SampledCount  int
	SamplingNote  string

	Estimate Estimate
	Receipt  ledger.Receipt

	// Warning is non-nil when this request newly crossed a budget
	// threshold. Fires once per threshold per period.
	Warning *ledger.Warning

	Duration time.Duration
}

// Pipeline owns the request flow. All fields except Scorer are required.
type Pipeline struct {
	Store      store.Store
	Ledger     *ledger.Ledger
	Governor   sampling.Governor
	Summarizer Summarizer
	Estimator  Estimator
	Scorer     sampling.Scorer

	// MessageLimit and MaxAge bound plain requests. Zero values take the
	// package defaults.
	MessageLimit int
	MaxAge       time.Duration

	// AdvisoryCost flags estimates projected to cost more than this many
	// USD. Zero disables the advisory.
	AdvisoryCost float64

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Run executes one summary request. args is the free-text tail of the
// command; empty means the most recent messages. A *Failure return means
// the request stopped at a known stage; any other error is internal.
func (p *Pipeline) Run(ctx context.Context, chatID int64, args string) (*Outcome, error) {
	start := p.now()
	requestID := uuid.NewString()[:8]
	args = strings.TrimSpace(args)

	logger := log.With().Str("request_id", requestID).Int64("chat_id", chatID).Logger()

	var (
		tf   *timeframe.Timeframe
		msgs []store.Message
		err  error
	)
	if args == "" {
		limit := p.MessageLimit
		if limit <= 0 {
			limit = DefaultMessageLimit
		}
		maxAge := p.MaxAge
		if maxAge <= 0 {
			maxAge = DefaultMaxAge
		}
		msgs, err = p.Store.ByCount(ctx, chatID, limit, maxAge)
		if err != nil {
			return nil, fmt.Errorf("retrieve recent messages: %w", err)
		}
	} else {
		parsed, perr := timeframe.ParseAt(args, start)
		if perr != nil {
			logger.Debug().Str("args", args).Err(perr).Msg("pipeline: timeframe rejected")
			return nil, &Failure{Kind: KindInvalidTimeframe, Err: perr}
		}
		tf = &parsed
		msgs, err = p.Store.ByTimeframe(ctx, chatID, parsed.Start, parsed.EffectiveEnd(start))
		if err != nil {
			return nil, fmt.Errorf("retrieve messages by timeframe: %w", err)
		}
	}

	if len(msgs) == 0 {
		return nil, &Failure{Kind: KindEmptyHistory}
	}

	originalCount := len(msgs)
	decision := p.Governor.Check(originalCount)
	var note string
	if decision.ShouldSample() {
		msgs = sampling.Sample(msgs, decision.TargetSize, p.Scorer)
		note = sampling.Explanation(originalCount, len(msgs))
		logger.Info().
			Int("original", originalCount).
			Int("sampled", len(msgs)).
			Str("status", string(decision.Status)).
			Msg("pipeline: sampled transcript")
	}

	formatted := summarize.FormatMessages(msgs)
	estimated := p.Estimator.Estimate(p.Summarizer.Model(), formatted)
	est := Estimate{
		InputTokens:  estimated,
		OutputTokens: p.Summarizer.MaxOutputTokens(),
		Cost:         p.Ledger.ProjectCost(estimated),
	}
	if p.AdvisoryCost > 0 && est.Cost > p.AdvisoryCost {
		est.Advisory = true
		logger.Warn().
			Float64("projected_cost_usd", est.Cost).
			Float64("advisory_threshold_usd", p.AdvisoryCost).
			Msg("pipeline: projected cost above advisory threshold")
	}

	reservation, err := p.Ledger.Reserve(estimated)
	if err != nil {
		var berr *ledger.BudgetError
		if errors.As(err, &berr) {
			logger.Warn().
				Float64("current_cost_usd", berr.CurrentCost).
				Float64("projected_cost_usd", berr.ProjectedCost).
				Msg("pipeline: budget gate denied request")
			return nil, &Failure{Kind: KindBudgetDenied, Err: berr}
		}
		return nil, fmt.Errorf("reserve budget: %w", err)
	}

	result, err := p.Summarizer.Summarize(ctx, formatted)
	if err != nil {
		reservation.Release()
		return nil, &Failure{Kind: KindProvider, Err: err}
	}

	receipt := reservation.Commit(result.InputTokens, result.OutputTokens)
	warning := p.Ledger.CheckWarnings()

	logger.Info().
		Int("messages", len(msgs)).
		Int("estimated_tokens", estimated).
		Int("input_tokens", result.InputTokens).
		Int("output_tokens", result.OutputTokens).
		Float64("cost_usd", receipt.RequestCost).
		Dur("duration", p.now().Sub(start)).
		Msg("pipeline: request complete")

	return &Outcome{
		RequestID:     requestID,
		Summary:       result.Summary,
		Timeframe:     tf,
		OriginalCount: originalCount,
		SampledCount:  len(msgs),
		SamplingNote:  note,
		Estimate:      est,
		Receipt:       receipt,
		Warning:       warning,
		Duration:      p.now().Sub(start),
	}, nil
}
