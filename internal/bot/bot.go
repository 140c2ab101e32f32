// Package bot is the Telegram transport. It captures group messages into
// the store and serves the summary and usage commands over long polling.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/recaplabs/chat-recap/internal/ledger"
	"github.com/recaplabs/chat-recap/internal/pipeline"
	"github.com/recaplabs/chat-recap/internal/store"
	"github.com/recaplabs/chat-recap/internal/timeframe"
)

// API is the Telegram client surface the bot uses, narrowed for mocking.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	Self() tgbotapi.User
}

type apiWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *apiWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *apiWrapper) StopReceivingUpdates() { w.bot.StopReceivingUpdates() }

func (w *apiWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) { return w.bot.Send(c) }

func (w *apiWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *apiWrapper) Self() tgbotapi.User { return w.bot.Self }

// Config configures the Telegram transport.
type Config struct {
	Token string `yaml:"token"`

	// AdminUserID may run /reset_usage and receives budget warnings.
	AdminUserID int64 `yaml:"admin_user_id"`

	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
}

// Validate checks the transport configuration.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	return nil
}

// Bot wires Telegram updates into the summary pipeline.
type Bot struct {
	api      API
	cfg      Config
	store    store.Store
	ledger   *ledger.Ledger
	pipe     *pipeline.Pipeline
	username string
}

// New connects to Telegram and returns the transport.
func New(cfg Config, st store.Store, l *ledger.Ledger, pipe *pipeline.Pipeline) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	b := newWithAPI(cfg, &apiWrapper{bot: api}, st, l, pipe)
	log.Info().Str("username", b.username).Msg("bot: authorized")
	return b, nil
}

func newWithAPI(cfg Config, api API, st store.Store, l *ledger.Ledger, pipe *pipeline.Pipeline) *Bot {
	return &Bot{
		api:      api,
		cfg:      cfg,
		store:    st,
		ledger:   l,
		pipe:     pipe,
		username: strings.ToLower(api.Self().UserName),
	}
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	timeout := b.cfg.PollTimeout
	if timeout <= 0 {
		timeout = 30
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	updates := b.api.GetUpdatesChan(u)

	log.Info().Msg("bot: polling started")
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Info().Msg("bot: stopped")
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if msg.Text == "" {
		return
	}

	b.capture(ctx, msg)

	if b.mentioned(msg) {
		// Free text after the mention ("what did I miss?") is not an
		// argument; only timeframe-shaped text is passed through.
		args := stripMention(msg.Text, b.username)
		if !timeframe.LooksLikeTimeframe(args) {
			args = ""
		}
		b.runSummary(ctx, msg, args)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.reply(msg.Chat.ID, welcomeMessage(b.username))
	case "help":
		b.reply(msg.Chat.ID, helpMessage(b.username, b.messageLimit(), b.maxAgeHours()))
	case "summary":
		b.runSummary(ctx, msg, msg.CommandArguments())
	case "usage":
		b.reply(msg.Chat.ID, usageMessage(b.ledger.Stats()))
	case "reset_usage":
		b.handleReset(msg)
	}
}

func (b *Bot) handleReset(msg *tgbotapi.Message) {
	if b.cfg.AdminUserID == 0 || msg.From == nil || msg.From.ID != b.cfg.AdminUserID {
		b.reply(msg.Chat.ID, "This command is restricted to the bot administrator.")
		return
	}
	prev := b.ledger.Reset()
	log.Warn().
		Int64("user_id", msg.From.ID).
		Float64("previous_cost_usd", prev.TotalCost).
		Msg("bot: usage manually reset")
	b.reply(msg.Chat.ID, resetMessage(prev))
}

// capture stores a plain text message for later summarization.
func (b *Bot) capture(ctx context.Context, msg *tgbotapi.Message) {
	err := b.store.Append(ctx, store.Message{
		ID:     int64(msg.MessageID),
		ChatID: msg.Chat.ID,
		Sender: senderName(msg),
		Text:   msg.Text,
		SentAt: msg.Time().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("bot: store message failed")
	}
}

// mentioned reports whether the message tags this bot.
func (b *Bot) mentioned(msg *tgbotapi.Message) bool {
	for _, e := range msg.Entities {
		switch e.Type {
		case "mention":
			tag := entityText(msg.Text, e)
			if strings.EqualFold(tag, "@"+b.username) {
				return true
			}
		case "text_mention":
			if e.User != nil && strings.EqualFold(e.User.UserName, b.username) {
				return true
			}
		}
	}
	return false
}

func (b *Bot) runSummary(ctx context.Context, msg *tgbotapi.Message, args string) {
	if !msg.Chat.IsGroup() && !msg.Chat.IsSuperGroup() {
		b.reply(msg.Chat.ID, "I work best in group chats! Add me to a group and mention me to get message summaries.")
		return
	}

	status, err := b.api.Send(tgbotapi.NewMessage(msg.Chat.ID,
		"Let me read through the recent messages and create a summary for you..."))
	if err != nil {
		log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("bot: send status failed")
		return
	}

	out, err := b.pipe.Run(ctx, msg.Chat.ID, args)
	if err != nil {
		b.editOrReply(msg.Chat.ID, status.MessageID, failureMessage(err, b.maxAgeHours()))
		return
	}

	b.editOrReply(msg.Chat.ID, status.MessageID, outcomeMessage(out, b.maxAgeHours()))

	if out.Warning != nil {
		b.notifyAdmin(msg.Chat.ID, out.Warning.Message())
	}
}

// notifyAdmin delivers a budget warning to the admin, falling back to the
// originating chat when no admin is configured.
func (b *Bot) notifyAdmin(fallbackChatID int64, text string) {
	chatID := b.cfg.AdminUserID
	if chatID == 0 {
		chatID = fallbackChatID
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("bot: admin notification failed")
	}
}

// editOrReply edits the status message in place, sending a fresh message
// when the edit fails.
func (b *Bot) editOrReply(chatID int64, messageID int, text string) {
	chunks := chunkMessage(text)
	edit := tgbotapi.NewEditMessageText(chatID, messageID, chunks[0])
	if _, err := b.api.Request(edit); err != nil {
		log.Debug().Err(err).Msg("bot: edit failed, sending new message")
		b.reply(chatID, chunks[0])
	}
	for _, chunk := range chunks[1:] {
		b.reply(chatID, chunk)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	for _, chunk := range chunkMessage(text) {
		if _, err := b.api.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			log.Error().Err(err).Int64("chat_id", chatID).Msg("bot: send failed")
			return
		}
	}
}

func (b *Bot) messageLimit() int {
	if b.pipe.MessageLimit > 0 {
		return b.pipe.MessageLimit
	}
	return pipeline.DefaultMessageLimit
}

func (b *Bot) maxAgeHours() int {
	maxAge := b.pipe.MaxAge
	if maxAge <= 0 {
		maxAge = pipeline.DefaultMaxAge
	}
	return int(maxAge / time.Hour)
}

func senderName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return "Unknown"
	}
	if msg.From.UserName != "" {
		return msg.From.UserName
	}
	if msg.From.FirstName != "" {
		return msg.From.FirstName
	}
	return "Unknown"
}

// entityText extracts the entity substring. Telegram entity offsets count
// UTF-16 code units.
func entityText(text string, e tgbotapi.MessageEntity) string {
	runes := []rune(text)
	idx := 0
	start, end := -1, -1
	for i, r := range runes {
		if idx == e.Offset {
			start = i
		}
		idx += utf16Len(r)
		if idx == e.Offset+e.Length {
			end = i + 1
			break
		}
	}
	if start < 0 || end < 0 || end < start {
		return ""
	}
	return string(runes[start:end])
}

func utf16Len(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}

// stripMention removes the bot tag from the command text so the remainder
// can be parsed as a timeframe.
func stripMention(text, username string) string {
	lower := strings.ToLower(text)
	tag := "@" + username
	if i := strings.Index(lower, tag); i >= 0 && i+len(tag) <= len(text) {
		text = text[:i] + text[i+len(tag):]
	}
	return strings.TrimSpace(text)
}
