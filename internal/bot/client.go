// Package bot is the Telegram surface of the income updater: commands,
// the free-text request flow and the confirm/cancel callbacks.
package bot

import (
	"context"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// Client defines the Telegram operations the dispatcher uses. The
// interface allows mock injection in tests while wrapping the actual
// bot.Bot methods.
type Client interface {
	// SendMessage sends a text message to a chat.
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)

	// SendPhoto sends a photo to a chat.
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*tgmodels.Message, error)

	// EditMessageCaption rewrites the caption of a previously sent photo.
	EditMessageCaption(ctx context.Context, params *bot.EditMessageCaptionParams) (*tgmodels.Message, error)

	// AnswerCallbackQuery acknowledges an inline-button press.
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)

	// RegisterHandler registers a handler for a specific update type.
	RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc)

	// Start begins long polling. Blocks until the context is cancelled.
	Start(ctx context.Context)
}

type realClient struct {
	bot *bot.Bot
}

// NewClient connects to the Telegram API. defaultHandler receives every
// update no registered handler claims.
func NewClient(token string, defaultHandler bot.HandlerFunc) (Client, error) {
	opts := []bot.Option{}
	if defaultHandler != nil {
		opts = append(opts, bot.WithDefaultHandler(defaultHandler))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, err
	}
	return &realClient{bot: b}, nil
}

func (r *realClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realClient) SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*tgmodels.Message, error) {
	return r.bot.SendPhoto(ctx, params)
}

func (r *realClient) EditMessageCaption(ctx context.Context, params *bot.EditMessageCaptionParams) (*tgmodels.Message, error) {
	return r.bot.EditMessageCaption(ctx, params)
}

func (r *realClient) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	return r.bot.AnswerCallbackQuery(ctx, params)
}

func (r *realClient) RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc) {
	r.bot.RegisterHandler(handlerType, pattern, matchType, handler)
}

func (r *realClient) Start(ctx context.Context) {
	r.bot.Start(ctx)
}
