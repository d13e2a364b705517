// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package telegram implements the Telegram side of the bridge on top of the
// Bot API.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/connector"
)

// pollTimeout is the long-poll timeout for getUpdates.
const pollTimeout = time.Minute

// Handler receives updates from the control chat.
type Handler interface {
	HandleTelegramMessage(ctx context.Context, msg *connector.TelegramMessage)
	HandleCallback(ctx context.Context, cb *connector.CallbackInteraction)
}

// Bot is a connector.Messenger bound to a single control chat.
type Bot struct {
	api     *bot.Bot
	chatID  int64
	limiter *rate.Limiter
	log     zerolog.Logger

	handler Handler
}

var _ connector.Messenger = (*Bot)(nil)

// New creates a bot for the configured control chat. No request is made
// until Start is called.
func New(cfg connector.TelegramConfig, log zerolog.Logger) (*Bot, error) {
	b := &Bot{
		chatID:  cfg.ChatID,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		log:     log.With().Str("component", "telegram").Logger(),
	}
	opts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithDefaultHandler(b.dispatch),
		bot.WithHTTPClient(pollTimeout, &http.Client{Timeout: pollTimeout + 10*time.Second}),
		bot.WithErrorsHandler(func(err error) {
			b.log.Warn().Err(err).Msg("Telegram polling error")
		}),
	}
	if cfg.APIURL != "" {
		opts = append(opts, bot.WithServerURL(strings.TrimRight(cfg.APIURL, "/")))
	}
	api, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	b.api = api
	return b, nil
}

// Start long-polls for updates and hands them to h until ctx is done.
func (b *Bot) Start(ctx context.Context, h Handler) {
	b.handler = h
	b.log.Info().Int64("chat_id", b.chatID).Msg("Polling Telegram for updates")
	b.api.Start(ctx)
}

func (b *Bot) dispatch(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if b.handler == nil {
		return
	}
	ctx = b.log.WithContext(ctx)
	if msg := convertMessage(update.Message, b.chatID); msg != nil {
		b.handler.HandleTelegramMessage(ctx, msg)
		return
	}
	if cb := convertCallback(update.CallbackQuery, b.chatID); cb != nil {
		b.handler.HandleCallback(ctx, cb)
		return
	}
	b.log.Trace().Int64("update_id", update.ID).Msg("Ignoring update")
}

// wait blocks on the outgoing request budget.
func (b *Bot) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (b *Bot) SendText(ctx context.Context, threadID int, text string, keyboard connector.Keyboard) (int, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	params := &bot.SendMessageParams{
		ChatID:          b.chatID,
		MessageThreadID: threadID,
		Text:            text,
	}
	if keyboard != nil {
		params.ReplyMarkup = inlineKeyboard(keyboard)
	}
	msg, err := b.api.SendMessage(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("sendMessage: %w", err)
	}
	return msg.ID, nil
}

func (b *Bot) SendMedia(ctx context.Context, threadID int, media connector.OutgoingMedia) (int, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	var file models.InputFile
	if media.URL != "" {
		file = &models.InputFileString{Data: media.URL}
	} else {
		file = &models.InputFileUpload{Filename: media.FileName, Data: bytes.NewReader(media.Data)}
	}

	var (
		msg *models.Message
		err error
	)
	switch media.Kind {
	case connector.KindPhoto:
		msg, err = b.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID: b.chatID, MessageThreadID: threadID, Photo: file, Caption: media.Caption,
		})
	case connector.KindVideo:
		msg, err = b.api.SendVideo(ctx, &bot.SendVideoParams{
			ChatID: b.chatID, MessageThreadID: threadID, Video: file, Caption: media.Caption,
		})
	case connector.KindAudio:
		msg, err = b.api.SendAudio(ctx, &bot.SendAudioParams{
			ChatID: b.chatID, MessageThreadID: threadID, Audio: file, Caption: media.Caption,
		})
	default:
		msg, err = b.api.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID: b.chatID, MessageThreadID: threadID, Document: file, Caption: media.Caption,
		})
	}
	if err != nil {
		return 0, fmt.Errorf("send %s: %w", media.Kind, err)
	}
	return msg.ID, nil
}

func (b *Bot) EditText(ctx context.Context, messageID int, text string, keyboard connector.Keyboard) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.api.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      b.chatID,
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: inlineKeyboard(keyboard),
	})
	return wrapEditError("editMessageText", err)
}

func (b *Bot) EditKeyboard(ctx context.Context, messageID int, keyboard connector.Keyboard) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.api.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
		ChatID:      b.chatID,
		MessageID:   messageID,
		ReplyMarkup: inlineKeyboard(keyboard),
	})
	return wrapEditError("editMessageReplyMarkup", err)
}

func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		return fmt.Errorf("answerCallbackQuery: %w", err)
	}
	return nil
}

// FileURL resolves a file id to a download link on the Bot API server.
func (b *Bot) FileURL(ctx context.Context, fileID string) (string, error) {
	if err := b.wait(ctx); err != nil {
		return "", err
	}
	file, err := b.api.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("getFile: %w", err)
	}
	if file.FilePath == "" {
		return "", errors.New("getFile returned no file path")
	}
	return b.api.FileDownloadLink(file), nil
}

func (b *Bot) CreateThread(ctx context.Context, name string) (int, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	topic, err := b.api.CreateForumTopic(ctx, &bot.CreateForumTopicParams{ChatID: b.chatID, Name: name})
	if err != nil {
		return 0, fmt.Errorf("createForumTopic: %w", err)
	}
	return topic.MessageThreadID, nil
}

func (b *Bot) CloseThread(ctx context.Context, threadID int) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.api.CloseForumTopic(ctx, &bot.CloseForumTopicParams{ChatID: b.chatID, MessageThreadID: threadID})
	if err != nil {
		return fmt.Errorf("closeForumTopic: %w", err)
	}
	return nil
}

func (b *Bot) ReopenThread(ctx context.Context, threadID int) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.api.ReopenForumTopic(ctx, &bot.ReopenForumTopicParams{ChatID: b.chatID, MessageThreadID: threadID})
	if err != nil {
		return fmt.Errorf("reopenForumTopic: %w", err)
	}
	return nil
}

func (b *Bot) DeleteThread(ctx context.Context, threadID int) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.api.DeleteForumTopic(ctx, &bot.DeleteForumTopicParams{ChatID: b.chatID, MessageThreadID: threadID})
	if err != nil {
		return fmt.Errorf("deleteForumTopic: %w", err)
	}
	return nil
}

// wrapEditError maps "message is not modified" to connector.ErrNotModified.
func wrapEditError(method string, err error) error {
	if err == nil {
		return nil
	}
	if connector.IsNotModified(err) {
		return fmt.Errorf("%s: %w", method, connector.ErrNotModified)
	}
	return fmt.Errorf("%s: %w", method, err)
}

// inlineKeyboard converts a keyboard to Bot API markup. A nil keyboard
// becomes an empty markup, which removes the buttons.
func inlineKeyboard(kb connector.Keyboard) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, models.InlineKeyboardButton{
				Text:         btn.Text,
				CallbackData: btn.CallbackData,
				URL:          btn.URL,
			})
		}
		rows = append(rows, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
