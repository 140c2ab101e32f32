// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// BUDGET DEFAULTS
// =============================================================================

// DefaultMonthlyBudgetUSD caps provider spend per calendar month.
const DefaultMonthlyBudgetUSD = 10.0

// DefaultLedgerPath is where the budget ledger is persisted.
const DefaultLedgerPath = "cost_data.json"

// DefaultAdvisoryCostUSD flags single requests projected to cost more than
// this; advisory only, never blocking.
const DefaultAdvisoryCostUSD = 0.10

// =============================================================================
// SAMPLING DEFAULTS
// =============================================================================

// DefaultSafeLimit is the message count above which sampling kicks in.
const DefaultSafeLimit = 500

// DefaultHardLimit is the absolute message ceiling per summary request.
const DefaultHardLimit = 1000

// =============================================================================
// FETCH DEFAULTS
// =============================================================================

// DefaultMessageLimit bounds plain summary requests with no timeframe.
const DefaultMessageLimit = 75

// DefaultMaxMessageAge excludes stale messages from plain requests.
const DefaultMaxMessageAge = 24 * time.Hour

// =============================================================================
// STORE DEFAULTS
// =============================================================================

// DefaultStoreBackend selects the message store implementation.
const DefaultStoreBackend = "memory"

// DefaultStorePath is the SQLite database location.
const DefaultStorePath = "messages.db"

// DefaultMaxStoredPerChat bounds the in-memory store per chat.
const DefaultMaxStoredPerChat = 100

// DefaultRetention is how long the SQLite store keeps messages.
const DefaultRetention = 7 * 24 * time.Hour

// DefaultCleanupInterval is the frequency for the background cleanup
// goroutine.
const DefaultCleanupInterval = 1 * time.Hour

// =============================================================================
// SUMMARIZER DEFAULTS
// =============================================================================

// DefaultModel is the summarization model.
const DefaultModel = "claude-3-5-haiku-20241022"

// DefaultMaxOutputTokens caps the summary length requested from the provider.
const DefaultMaxOutputTokens = 500

// DefaultTemperature is the sampling temperature for summaries.
const DefaultTemperature = 0.7

// DefaultRequestTimeout bounds one provider round trip.
const DefaultRequestTimeout = 60 * time.Second
