package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/fieldgate/fieldgate/internal/flow"
	"github.com/fieldgate/fieldgate/internal/intent"
	"github.com/fieldgate/fieldgate/internal/portal"
	"github.com/fieldgate/fieldgate/internal/store"
	"github.com/fieldgate/fieldgate/pkg/models"
)

// Flow is the slice of the coordinator the dispatcher drives.
type Flow interface {
	Begin(ctx context.Context, requesterID, channelID, value int64) (*models.ChangeRequest, error)
	Prepare(ctx context.Context, requestID string) (*portal.Prepared, error)
	AbortPreparation(ctx context.Context, requestID string, cause error) error
	Activate(ctx context.Context, requestID string, prepared *portal.Prepared, previewRef int) error
	Confirm(ctx context.Context, requestID string) (*flow.Outcome, error)
	Reject(ctx context.Context, requestID string) (*flow.Outcome, error)
	Latest(ctx context.Context, requesterID int64) (*models.ChangeRequest, error)
}

// Config holds the dispatcher settings.
type Config struct {
	// Token is the Telegram bot token.
	Token string

	// RateLimit is outbound API calls per second.
	RateLimit float64

	// RateBurst is the maximum burst size.
	RateBurst int

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("token is required")
	}
	if c.RateLimit == 0 {
		c.RateLimit = 30 // Telegram's limit is ~30 messages per second
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Dispatcher routes Telegram updates into the request flow: commands,
// the free-text income request and the confirm/cancel buttons. It also
// implements the coordinator's Notifier so expired previews get their
// caption rewritten.
type Dispatcher struct {
	config    Config
	client    Client
	extractor intent.Extractor
	flow      Flow
	limiter   *RateLimiter
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. client may be nil; Run then
// connects to the Telegram API itself.
func NewDispatcher(config Config, client Client, extractor intent.Extractor, fl Flow) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		config:    config,
		client:    client,
		extractor: extractor,
		flow:      fl,
		limiter:   NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:    config.Logger.With("component", "bot"),
	}, nil
}

// Run registers the handlers and long-polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.client == nil {
		client, err := NewClient(d.config.Token, d.handleText)
		if err != nil {
			return fmt.Errorf("failed to create telegram client: %w", err)
		}
		d.client = client
	}

	d.client.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, d.handleStart)
	d.client.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix, d.handleStatus)
	d.client.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, d.handleCallback)

	d.logger.Info("starting long polling", "rate_limit", d.config.RateLimit)
	d.client.Start(ctx)
	return nil
}

func (d *Dispatcher) handleStart(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil {
		return
	}
	d.reply(ctx, update.Message.Chat.ID,
		"👋 Welcome to the *idMe Income Updater* bot!\n\n"+
			"Send a message like:\n"+
			"• _\"Set my income to 12000\"_\n"+
			"• _\"Tetapkan pendapatan saya kepada 5000\"_\n\n"+
			"I will update the idMe portal for you after your confirmation.")
}

func (d *Dispatcher) handleStatus(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	latest, err := d.flow.Latest(ctx, update.Message.From.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.reply(ctx, chatID, "No updates found.")
			return
		}
		d.logger.Error("status lookup failed", "user_id", update.Message.From.ID, "error", err)
		d.reply(ctx, chatID, "Sorry, something went wrong. Please try again.")
		return
	}

	d.reply(ctx, chatID, fmt.Sprintf(
		"📄 *Latest update*\n"+
			"Income: RM %d\n"+
			"Status: `%s`\n"+
			"Created: %s",
		latest.RequestedValue, latest.State, latest.CreatedAt.UTC().Format(time.RFC3339)))
}

// handleText is the default handler: every non-command text message is
// treated as a potential income-change request.
func (d *Dispatcher) handleText(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Text == "" {
		return
	}
	if strings.HasPrefix(update.Message.Text, "/") {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	d.reply(ctx, chatID, "🔍 Analysing your message…")

	result, err := d.extractor.Extract(ctx, update.Message.Text)
	if err != nil {
		d.logger.Error("intent extraction failed", "user_id", userID, "error", err)
		d.reply(ctx, chatID, "Sorry, something went wrong analysing your message. Please try again.")
		return
	}
	if !result.Actionable() {
		d.reply(ctx, chatID,
			"Sorry, I couldn't extract an income value from your message. "+
				"Try something like: _\"Set my income to 8000\"_")
		return
	}

	req, err := d.flow.Begin(ctx, userID, chatID, *result.Value)
	if err != nil {
		d.logger.Error("failed to begin request", "user_id", userID, "error", err)
		d.reply(ctx, chatID, "Sorry, something went wrong. Please try again.")
		return
	}

	d.reply(ctx, chatID, fmt.Sprintf("💰 Got it — new income: *RM %d*\n⏳ Launching browser…", *result.Value))

	prepared, err := d.flow.Prepare(ctx, req.ID)
	if err != nil {
		if errors.Is(err, portal.ErrNoActiveSession) {
			d.reply(ctx, chatID, "❌ No active idMe session found for your account. Please sign in on the portal first.")
			return
		}
		d.reply(ctx, chatID, fmt.Sprintf("❌ Failed: %v", err))
		return
	}

	sent, err := d.sendPreview(ctx, chatID, req.ID, prepared, *result.Value)
	if err != nil {
		d.logger.Error("failed to send preview", "request_id", req.ID, "error", err)
		prepared.Session.Dispose()
		cause := fmt.Errorf("failed to deliver preview: %w", err)
		if aerr := d.flow.AbortPreparation(ctx, req.ID, cause); aerr != nil {
			d.logger.Error("failed to abort request", "request_id", req.ID, "error", aerr)
		}
		d.reply(ctx, chatID, fmt.Sprintf("❌ Failed: %v", cause))
		return
	}

	if err := d.flow.Activate(ctx, req.ID, prepared, sent.ID); err != nil {
		d.logger.Error("failed to activate request", "request_id", req.ID, "error", err)
		d.reply(ctx, chatID, fmt.Sprintf("❌ Failed: %v", err))
	}
}

func (d *Dispatcher) sendPreview(ctx context.Context, chatID int64, requestID string, prepared *portal.Prepared, newValue int64) (*tgmodels.Message, error) {
	caption := fmt.Sprintf(
		"📸 *Pre-save preview*\n"+
			"Previous income: RM %s\n"+
			"New income: RM %d\n\n"+
			"Please confirm or cancel.",
		formatValue(prepared.PreviousValue), newValue)

	keyboard := &tgmodels.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgmodels.InlineKeyboardButton{{
			{Text: "🚀 Confirm Update", CallbackData: "confirm:" + requestID},
			{Text: "❌ Cancel", CallbackData: "cancel:" + requestID},
		}},
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return d.client.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID: chatID,
		Photo: &tgmodels.InputFileUpload{
			Filename: "preview.png",
			Data:     bytes.NewReader(prepared.Screenshot),
		},
		Caption:     caption,
		ParseMode:   tgmodels.ParseModeMarkdownV1,
		ReplyMarkup: keyboard,
	})
}

// handleCallback resolves a confirm/cancel button press. Malformed
// payloads are acknowledged and dropped.
func (d *Dispatcher) handleCallback(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.CallbackQuery == nil {
		return
	}
	query := update.CallbackQuery

	action, requestID, ok := parseCallback(query.Data)
	if !ok {
		d.logger.Warn("malformed callback payload", "data", query.Data)
		d.answer(ctx, query.ID, "")
		return
	}

	switch action {
	case "confirm":
		outcome, err := d.flow.Confirm(ctx, requestID)
		if err != nil {
			d.logger.Error("confirm failed", "request_id", requestID, "error", err)
			d.answer(ctx, query.ID, answerForError(err))
			return
		}
		if outcome.AlreadyResolved {
			d.logger.Info("confirm on resolved request", "request_id", requestID, "state", outcome.Request.State)
			d.answer(ctx, query.ID, "Already handled.")
			return
		}
		d.answer(ctx, query.ID, "Confirming…")
		d.captionForOutcome(ctx, outcome.Request)

	case "cancel":
		outcome, err := d.flow.Reject(ctx, requestID)
		if err != nil {
			d.logger.Error("reject failed", "request_id", requestID, "error", err)
			d.answer(ctx, query.ID, answerForError(err))
			return
		}
		if outcome.AlreadyResolved {
			d.logger.Info("cancel on resolved request", "request_id", requestID, "state", outcome.Request.State)
			d.answer(ctx, query.ID, "Already handled.")
			return
		}
		d.answer(ctx, query.ID, "Cancelled.")
		d.editCaption(ctx, outcome.Request, "❌ Update cancelled by user.")
	}
}

// captionForOutcome rewrites the preview caption after a confirm.
func (d *Dispatcher) captionForOutcome(ctx context.Context, req *models.ChangeRequest) {
	switch req.State {
	case models.StateSucceeded:
		d.editCaption(ctx, req, fmt.Sprintf(
			"✅ *Update successful!*\nIncome changed: RM %s → RM %d",
			formatValue(req.PreviousValue), req.RequestedValue))
	case models.StateFailed:
		if req.FailureReason == "session expired" {
			d.editCaption(ctx, req, "❌ Browser session expired. Please try again.")
			return
		}
		d.editCaption(ctx, req, fmt.Sprintf("❌ Save failed: %s", req.FailureReason))
	}
}

// NotifyExpired implements flow.Notifier: the preview of a timed-out
// request gets its buttons replaced with the expiry notice.
func (d *Dispatcher) NotifyExpired(ctx context.Context, req *models.ChangeRequest) {
	d.editCaption(ctx, req, "⌛ Confirmation timed out. Update cancelled.")
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := d.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeMarkdownV1,
	}); err != nil {
		d.logger.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

func (d *Dispatcher) editCaption(ctx context.Context, req *models.ChangeRequest, caption string) {
	if req.PreviewRef == 0 {
		return
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := d.client.EditMessageCaption(ctx, &bot.EditMessageCaptionParams{
		ChatID:    req.ChannelID,
		MessageID: req.PreviewRef,
		Caption:   caption,
		ParseMode: tgmodels.ParseModeMarkdownV1,
	}); err != nil {
		d.logger.Error("failed to edit caption", "request_id", req.ID, "error", err)
	}
}

func (d *Dispatcher) answer(ctx context.Context, queryID, text string) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := d.client.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
	}); err != nil {
		d.logger.Error("failed to answer callback", "error", err)
	}
}

// answerForError picks the callback answer for a failed resolution. A
// button referencing an unknown request gets a visible notice; other
// failures are acknowledged silently.
func answerForError(err error) string {
	if errors.Is(err, store.ErrNotFound) {
		return "Record not found."
	}
	return ""
}

// parseCallback splits "confirm:<id>" / "cancel:<id>" payloads.
func parseCallback(data string) (action, requestID string, ok bool) {
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	if parts[0] != "confirm" && parts[0] != "cancel" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func formatValue(v *int64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *v)
}
