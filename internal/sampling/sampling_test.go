package sampling

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaplabs/chat-recap/internal/store"
)

func genMessages(n int, base time.Time) []store.Message {
	msgs := make([]store.Message, n)
	for i := 0; i < n; i++ {
		msgs[i] = store.Message{
			ID:     int64(i + 1),
			ChatID: 1,
			Sender: fmt.Sprintf("user%d", i%5),
			Text:   strings.Repeat("x", 1+(i*7)%40),
			SentAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

func assertChronological(t *testing.T, msgs []store.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].SentAt.Before(msgs[i-1].SentAt),
			"message %d out of order", i)
	}
}

func TestGovernor_Check(t *testing.T) {
	g := NewGovernor(500, 1000)

	cases := []struct {
		count      int
		wantStatus Status
		wantTarget int
	}{
		{0, StatusOK, 0},
		{100, StatusOK, 100},
		{500, StatusOK, 500},
		{501, StatusSuggest, 500},
		{600, StatusSuggest, 500},
		{1000, StatusSuggest, 500},
		{1001, StatusRequire, 1000},
		{1500, StatusRequire, 1000},
	}

	for _, tc := range cases {
		d := g.Check(tc.count)
		assert.Equal(t, tc.wantStatus, d.Status, "count=%d", tc.count)
		assert.Equal(t, tc.wantTarget, d.TargetSize, "count=%d", tc.count)
		assert.Equal(t, tc.count, d.OriginalCount, "count=%d", tc.count)
		assert.LessOrEqual(t, d.TargetSize, d.OriginalCount, "count=%d", tc.count)
		if d.Status == StatusOK {
			assert.Empty(t, d.Advisory)
			assert.False(t, d.ShouldSample())
		} else {
			assert.NotEmpty(t, d.Advisory)
			assert.True(t, d.ShouldSample())
		}
	}
}

func TestGovernor_Defaults(t *testing.T) {
	g := NewGovernor(0, 0)
	assert.Equal(t, DefaultSafeLimit, g.Safe)
	assert.Equal(t, DefaultHardLimit, g.Hard)
}

func TestSample_NoOpAtOrBelowTarget(t *testing.T) {
	msgs := genMessages(50, time.Now().UTC())

	same := Sample(msgs, 50, LengthScorer)
	assert.Equal(t, msgs, same)

	same = Sample(msgs, 100, LengthScorer)
	assert.Equal(t, msgs, same)
}

func TestSample_ZeroOrNegativeTarget(t *testing.T) {
	msgs := genMessages(10, time.Now().UTC())
	assert.Empty(t, Sample(msgs, 0, LengthScorer))
	assert.Empty(t, Sample(msgs, -5, nil))
}

func TestSample_ExactTargetSize(t *testing.T) {
	msgs := genMessages(1200, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	out := Sample(msgs, 1000, LengthScorer)
	assert.Len(t, out, 1000)
	assertChronological(t, out)
}

func TestSample_NeverIncreasesCountAndKeepsOrder(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, n := range []int{1, 7, 99, 250, 777} {
		for _, target := range []int{1, 10, 50, 300} {
			msgs := genMessages(n, base)
			out := Sample(msgs, target, LengthScorer)
			if target < n {
				assert.LessOrEqual(t, len(out), target, "n=%d target=%d", n, target)
				assert.NotEmpty(t, out, "n=%d target=%d", n, target)
			} else {
				assert.Len(t, out, n, "n=%d target=%d", n, target)
			}
			assertChronological(t, out)
		}
	}
}

func TestSample_SpansFullTimeRange(t *testing.T) {
	// End-to-end property: 1200 messages sampled to 1000 must still cover
	// the original range; the first and last original timestamps fall within
	// one segment width of the sample's extremes.
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	msgs := genMessages(1200, base)

	out := Sample(msgs, 1000, LengthScorer)
	require.Len(t, out, 1000)

	// Segments are balanced, so each covers at most ceil(1200/1000) = 2 slots.
	segmentWidth := 2 * time.Minute
	assert.LessOrEqual(t, out[0].SentAt.Sub(msgs[0].SentAt), segmentWidth)
	assert.LessOrEqual(t, msgs[len(msgs)-1].SentAt.Sub(out[len(out)-1].SentAt), segmentWidth)
}

func TestSample_LengthBias(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]store.Message, 10)
	for i := range msgs {
		text := "short"
		if i == 3 {
			text = strings.Repeat("long message body ", 20)
		}
		msgs[i] = store.Message{ID: int64(i + 1), Text: text, SentAt: base.Add(time.Duration(i) * time.Minute)}
	}

	// One segment covering everything: the scorer must pick the long one.
	out := Sample(msgs, 1, LengthScorer)
	require.Len(t, out, 1)
	assert.Equal(t, int64(4), out[0].ID)
}

func TestSample_NilScorerEvenlySpaced(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	msgs := genMessages(100, base)

	out := Sample(msgs, 10, nil)
	require.Len(t, out, 10)
	assertChronological(t, out)

	// Evenly spaced selection is deterministic.
	again := Sample(msgs, 10, nil)
	assert.Equal(t, out, again)
}

func TestExplanation(t *testing.T) {
	s := Explanation(1200, 1000)
	assert.Contains(t, s, "1000")
	assert.Contains(t, s, "1200")
	assert.Empty(t, Explanation(0, 0))
}
