package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/recaplabs/chat-recap/internal/bot"
	"github.com/recaplabs/chat-recap/internal/config"
	"github.com/recaplabs/chat-recap/internal/ledger"
	"github.com/recaplabs/chat-recap/internal/pipeline"
	"github.com/recaplabs/chat-recap/internal/sampling"
	"github.com/recaplabs/chat-recap/internal/store"
	"github.com/recaplabs/chat-recap/internal/summarize"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "recap",
	Short: "recap - Telegram chat summarizer with monthly budget enforcement",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot",
	RunE:  runBot,
}

var checkCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config file and exit",
	RunE:  runCheck,
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Print the current monthly budget usage",
	RunE:  runUsage,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.AddCommand(runCmd, checkCmd, usageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	// Optional .env next to the binary; real env wins.
	_ = godotenv.Load()

	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("Config OK: provider=%s model=%s budget=$%.2f/month store=%s\n",
		cfg.Summarizer.Provider, cfg.Summarizer.Model, cfg.Budget.MonthlyUSD, cfg.Store.Backend)
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l, err := newLedger(cfg)
	if err != nil {
		return err
	}
	stats := l.Stats()
	fmt.Printf("Period:    %s (%s)\n", stats.Period, stats.Status)
	fmt.Printf("Spent:     $%.4f of $%.2f (%.1f%%)\n", stats.TotalCost, stats.MonthlyBudget, stats.BudgetUsedPct)
	fmt.Printf("Remaining: $%.4f, resets in %d day(s)\n", stats.RemainingBudget, stats.DaysUntilReset)
	fmt.Printf("Tokens:    %d in / %d out across %d request(s)\n",
		stats.InputTokens, stats.OutputTokens, stats.RequestCount)
	for _, h := range stats.History {
		fmt.Printf("  %s: $%.4f (%d requests)\n", h.Period, h.TotalCost, h.RequestCount)
	}
	return nil
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	if cfg.Summarizer.Provider == summarize.ProviderAnthropic && cfg.Summarizer.APIKey == "" {
		key, err := promptSecret("Anthropic API key: ")
		if err != nil {
			return fmt.Errorf("summarizer.api_key is not set and could not be read interactively: %w", err)
		}
		cfg.Summarizer.APIKey = key
	}

	st, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	l, err := newLedger(cfg)
	if err != nil {
		return err
	}

	client, err := summarize.NewClient(cfg.Summarizer)
	if err != nil {
		return err
	}

	pipe := &pipeline.Pipeline{
		Store:        st,
		Ledger:       l,
		Governor:     sampling.NewGovernor(cfg.Sampling.SafeLimit, cfg.Sampling.HardLimit),
		Summarizer:   client,
		Estimator:    summarize.NewEstimator(),
		Scorer:       sampling.LengthScorer,
		MessageLimit: cfg.Fetch.MessageLimit,
		MaxAge:       cfg.Fetch.MaxAge,
		AdvisoryCost: cfg.Budget.AdvisoryUSD,
	}

	b, err := bot.New(cfg.Telegram, st, l, pipe)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Store.Backend == "sqlite" {
		go cleanupLoop(ctx, st, cfg.Store.Retention, cfg.Store.CleanupInterval)
	}

	log.Info().
		Str("model", cfg.Summarizer.Model).
		Float64("monthly_budget_usd", cfg.Budget.MonthlyUSD).
		Str("store", cfg.Store.Backend).
		Msg("starting bot")

	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.Path)
	default:
		return store.NewMemoryStore(cfg.Store.MaxPerChat), nil
	}
}

func newLedger(cfg *config.Config) (*ledger.Ledger, error) {
	return ledger.New(ledger.Config{
		MonthlyBudget:     cfg.Budget.MonthlyUSD,
		Pricing:           ledger.PricingForModel(cfg.Summarizer.Model),
		Path:              cfg.Budget.Path,
		WarningThresholds: cfg.Budget.WarningThresholds,
	})
}

// cleanupLoop trims expired messages from the store on a fixed interval.
func cleanupLoop(ctx context.Context, st store.Store, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := st.Cleanup(ctx, retention)
			if err != nil {
				log.Error().Err(err).Msg("store cleanup failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("store cleanup")
			}
		case <-ctx.Done():
			return
		}
	}
}

// promptSecret reads a secret from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(string(b))
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	return key, nil
}
