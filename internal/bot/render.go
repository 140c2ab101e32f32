package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/recaplabs/chat-recap/internal/ledger"
	"github.com/recaplabs/chat-recap/internal/pipeline"
	"github.com/recaplabs/chat-recap/internal/summarize"
	"github.com/recaplabs/chat-recap/internal/timeframe"
)

// maxChunkLen keeps each outgoing message under Telegram's 4096 limit with
// headroom.
const maxChunkLen = 4000

func welcomeMessage(username string) string {
	if username == "" {
		username = "bot"
	}
	return fmt.Sprintf(`Welcome to the Message Summarizer Bot!

I can help summarize conversations in your group chats.

How to use me:
1. Add me to your Telegram group
2. Give me permission to read messages
3. Mention me with @%s or use /summary
4. I'll summarize the recent messages in bullet points!

Commands:
/start - Show this welcome message
/help - Get help on how to use the bot
/summary [timeframe] - Summarize recent messages, optionally for a timeframe
/usage - Show monthly budget usage

Examples:
"@%s what did I miss?" or "/summary last 6 hours"`, username, username)
}

func helpMessage(username string, messageLimit, maxAgeHours int) string {
	if username == "" {
		username = "bot"
	}
	return fmt.Sprintf(`Message Summarizer Bot - Help

How it works:
When you mention me in a group chat, I'll read the last %d messages and create a brief summary with key points.

Ways to use:
- Mention me: @%s
- Use the command: /summary
- Add a timeframe: /summary %s

Tips:
- I work best in active group discussions
- Plain requests cover messages from the last %d hours
- The summary comes back in bullet points for easy reading

Privacy:
- I only read messages when explicitly asked
- Summaries are generated in real time`,
		messageLimit, username, strings.Join(timeframe.Examples(), " | /summary "), maxAgeHours)
}

// outcomeMessage renders a completed summary with its footer.
func outcomeMessage(out *pipeline.Outcome, maxAgeHours int) string {
	var sb strings.Builder
	sb.WriteString(out.Summary)
	sb.WriteString("\n\n")
	if out.Timeframe != nil {
		sb.WriteString(fmt.Sprintf("Summarized %d messages from %s to %s UTC.",
			out.SampledCount,
			out.Timeframe.Start.Format("2006-01-02 15:04"),
			out.Timeframe.End.Format("2006-01-02 15:04")))
	} else {
		sb.WriteString(fmt.Sprintf("Summarized %d messages from the last %d hours.",
			out.SampledCount, maxAgeHours))
	}
	if out.SamplingNote != "" {
		sb.WriteString("\n")
		sb.WriteString(out.SamplingNote)
	}
	if out.Estimate.Advisory {
		sb.WriteString(fmt.Sprintf("\nNote: this was a large request, projected at $%.4f before sending.",
			out.Estimate.Cost))
	}
	return sb.String()
}

// failureMessage maps a pipeline error to user guidance.
func failureMessage(err error, maxAgeHours int) string {
	var f *pipeline.Failure
	if !errors.As(err, &f) {
		return "Sorry, something went wrong while preparing the summary. Please try again later."
	}

	switch f.Kind {
	case pipeline.KindInvalidTimeframe:
		return fmt.Sprintf(
			"I couldn't understand that timeframe. Try one of:\n- %s",
			strings.Join(timeframe.Examples(), "\n- "))

	case pipeline.KindEmptyHistory:
		return fmt.Sprintf(
			"I don't have enough message history to create a summary yet.\n\n"+
				"I can only see messages sent after I was added to this group, "+
				"and plain requests cover the last %d hours. "+
				"Once there's more conversation, ask me again!", maxAgeHours)

	case pipeline.KindBudgetDenied:
		var berr *ledger.BudgetError
		if errors.As(f.Err, &berr) {
			return fmt.Sprintf(
				"Monthly budget limit reached.\n\n"+
					"Current usage: $%.4f of $%.2f. This request would exceed the cap.\n"+
					"The budget resets in %d day(s). Please check back after the reset "+
					"or contact the bot administrator.",
				berr.CurrentCost, berr.MonthlyBudget, berr.DaysUntilReset)
		}
		return "Monthly budget limit reached. Please try again after the budget resets."

	case pipeline.KindProvider:
		return providerFailureMessage(f.Err)
	}

	return "Sorry, I encountered an error. Please try again later."
}

func providerFailureMessage(err error) string {
	var perr *summarize.ProviderError
	if !errors.As(err, &perr) {
		return "Sorry, the summarization service is unavailable right now. Please try again later."
	}
	switch perr.Category {
	case summarize.CategoryModel:
		return "The configured summarization model is unavailable. Please contact the bot administrator."
	case summarize.CategoryAuth:
		return "The summarization service rejected the bot's credentials. Please contact the bot administrator."
	case summarize.CategoryRateLimit:
		return "The summarization service is rate limiting requests. Please wait a minute and try again."
	case summarize.CategoryServer:
		return "The summarization service is having trouble right now. Please try again in a few minutes."
	}
	return "Sorry, I encountered an error while generating the summary. Please try again later."
}

// usageMessage renders the /usage report.
func usageMessage(stats ledger.UsageStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Monthly Budget Usage Report\n\n")
	fmt.Fprintf(&sb, "Period: %s\nStatus: %s\n\n", stats.Period, stats.Status)
	fmt.Fprintf(&sb, "Budget:\n")
	fmt.Fprintf(&sb, "- Spent: $%.4f\n", stats.TotalCost)
	fmt.Fprintf(&sb, "- Limit: $%.2f\n", stats.MonthlyBudget)
	fmt.Fprintf(&sb, "- Remaining: $%.4f\n", stats.RemainingBudget)
	fmt.Fprintf(&sb, "- Used: %.1f%%\n\n", stats.BudgetUsedPct)
	fmt.Fprintf(&sb, "%s\n\n", progressBar(stats.BudgetUsedPct, 20))
	fmt.Fprintf(&sb, "Token Usage:\n")
	fmt.Fprintf(&sb, "- Input: %d tokens\n", stats.InputTokens)
	fmt.Fprintf(&sb, "- Output: %d tokens\n\n", stats.OutputTokens)
	fmt.Fprintf(&sb, "Activity:\n")
	fmt.Fprintf(&sb, "- API requests: %d\n", stats.RequestCount)
	if stats.RequestCount > 0 {
		fmt.Fprintf(&sb, "- Avg cost/request: $%.6f\n", stats.TotalCost/float64(stats.RequestCount))
	}
	fmt.Fprintf(&sb, "\nBudget resets in %d day(s)", stats.DaysUntilReset)
	return sb.String()
}

func resetMessage(prev ledger.PeriodSnapshot) string {
	return fmt.Sprintf(
		"Usage reset.\n\nPrevious period %s: $%.4f across %d request(s) archived to history.",
		prev.Period, prev.TotalCost, prev.RequestCount)
}

// progressBar renders usage as a fixed-width text bar.
func progressBar(percentage float64, length int) string {
	filled := int(percentage / 100 * float64(length))
	if filled > length {
		filled = length
	}
	if filled < 0 {
		filled = 0
	}
	return fmt.Sprintf("[%s%s] %.1f%%",
		strings.Repeat("█", filled), strings.Repeat("░", length-filled), percentage)
}

// chunkMessage splits text into pieces under Telegram's length limit,
// preferring newline boundaries.
func chunkMessage(text string) []string {
	if len(text) <= maxChunkLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxChunkLen {
			chunk = chunk[:maxChunkLen]
			if idx := strings.LastIndex(chunk, "\n"); idx > 0 {
				chunk = chunk[:idx]
			}
		}
		text = text[len(chunk):]
		text = strings.TrimPrefix(text, "\n")
		chunks = append(chunks, chunk)
	}
	return chunks
}
