// Package sampling bounds how many messages reach the summarizer.
//
// DESIGN: Large message sets are reduced with a deterministic, content-biased
// stratified sample: the input is partitioned into contiguous time-ordered
// segments, each segment contributes its highest-scoring messages, and the
// union is re-sorted chronologically. This keeps temporal coverage while
// preferring substantive utterances; it is not a uniform random sample.
package sampling

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/recaplabs/chat-recap/internal/store"
)

// Default ceilings for message sets per request.
const (
	DefaultSafeLimit = 500
	DefaultHardLimit = 1000
)

// Status classifies a candidate message count against the ceilings.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSuggest Status = "suggest"
	StatusRequire Status = "require"
)

// Decision is the result of governing a candidate set.
// TargetSize never exceeds OriginalCount and equals it when Status is ok.
type Decision struct {
	Status        Status
	OriginalCount int
	TargetSize    int
	Advisory      string
}

// ShouldSample reports whether the caller must reduce the set before
// summarizing.
func (d Decision) ShouldSample() bool {
	return d.Status != StatusOK
}

// Scorer ranks a message for within-segment selection; higher wins.
// Pluggable so future relevance heuristics can replace length.
type Scorer func(store.Message) float64

// LengthScorer prefers longer message bodies, a proxy for substantive
// content.
func LengthScorer(m store.Message) float64 {
	return float64(len(m.Text))
}

// Governor decides when sampling applies and how far to cut.
type Governor struct {
	Safe int // ceiling above which sampling is suggested
	Hard int // ceiling above which sampling is mandatory
}

// NewGovernor builds a Governor, substituting defaults for non-positive
// ceilings.
func NewGovernor(safe, hard int) Governor {
	if safe <= 0 {
		safe = DefaultSafeLimit
	}
	if hard <= 0 {
		hard = DefaultHardLimit
	}
	return Governor{Safe: safe, Hard: hard}
}

// Check classifies a message count against the configured ceilings.
func (g Governor) Check(count int) Decision {
	d := Decision{Status: StatusOK, OriginalCount: count, TargetSize: count}

	switch {
	case count > g.Hard:
		d.Status = StatusRequire
		d.TargetSize = g.Hard
		d.Advisory = fmt.Sprintf(
			"Found %d messages but the maximum per summary is %d. "+
				"Smart sampling will pick %d representative messages spread across the timeframe.",
			count, g.Hard, g.Hard)
	case count > g.Safe:
		d.Status = StatusSuggest
		d.TargetSize = g.Safe
		d.Advisory = fmt.Sprintf(
			"Found %d messages in this timeframe. "+
				"Sampling down to %d representative messages for a better summary.",
			count, g.Safe)
	}
	return d
}

// Sample reduces msgs to at most target messages. Input must be
// chronologically ordered; output is chronologically ordered. A nil scorer
// selects evenly spaced positions within each segment instead of scoring.
//
// target >= len(msgs) returns the input unchanged; target <= 0 returns an
// empty slice.
func Sample(msgs []store.Message, target int, scorer Scorer) []store.Message {
	if len(msgs) <= target {
		return msgs
	}
	if target <= 0 {
		return []store.Message{}
	}

	// One segment per sampled message for maximum temporal spread; segment
	// count never exceeds input length.
	numSegments := target
	if numSegments > len(msgs) {
		numSegments = len(msgs)
	}
	perSegment := target / numSegments
	remainder := target % numSegments

	sampled := make([]store.Message, 0, target)
	for i := 0; i < numSegments; i++ {
		// Balanced boundaries keep segment lengths within one of each other.
		startIdx := i * len(msgs) / numSegments
		endIdx := (i + 1) * len(msgs) / numSegments
		segment := msgs[startIdx:endIdx]

		take := perSegment
		if remainder > 0 {
			take++
			remainder--
		}

		sampled = append(sampled, pickFromSegment(segment, take, scorer)...)
	}

	sort.SliceStable(sampled, func(i, j int) bool {
		return sampled[i].SentAt.Before(sampled[j].SentAt)
	})

	log.Debug().
		Int("original", len(msgs)).
		Int("sampled", len(sampled)).
		Int("segments", numSegments).
		Msg("sampling: reduced message set")

	return sampled
}

func pickFromSegment(segment []store.Message, take int, scorer Scorer) []store.Message {
	if len(segment) <= take {
		out := make([]store.Message, len(segment))
		copy(out, segment)
		return out
	}

	if scorer != nil {
		ranked := make([]store.Message, len(segment))
		copy(ranked, segment)
		sort.SliceStable(ranked, func(i, j int) bool {
			return scorer(ranked[i]) > scorer(ranked[j])
		})
		return ranked[:take]
	}

	// Evenly spaced positions across the segment.
	out := make([]store.Message, 0, take)
	step := float64(len(segment)) / float64(take)
	for j := 0; j < take; j++ {
		out = append(out, segment[int(float64(j)*step)])
	}
	return out
}

// Explanation renders a user-facing note about an applied sample.
func Explanation(original, sampled int) string {
	if original <= 0 {
		return ""
	}
	pct := float64(sampled) / float64(original) * 100
	return fmt.Sprintf(
		"Smart sampling applied: analyzed %d of %d messages (%.1f%%), evenly distributed across the timeframe.",
		sampled, original, pct)
}
