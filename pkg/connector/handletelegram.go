// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/chatwoot"
	"github.com/aiku/chatwoot-telegram-bridge/pkg/connector/telegramfmt"
)

// HandleTelegramMessage routes an operator message to its Chatwoot
// conversation: by forum topic in forum mode, otherwise by the relayed
// message it replies to.
func (c *Connector) HandleTelegramMessage(ctx context.Context, msg *TelegramMessage) {
	log := c.Log.With().
		Int("telegram_message_id", msg.MessageID).
		Int("thread_id", msg.ThreadID).
		Int64("from_id", msg.FromID).
		Logger()
	ctx = log.WithContext(ctx)

	if !c.Config.IsAdmin(msg.FromID) {
		log.Debug().Msg("Ignoring message from non-admin user")
		return
	}

	if c.Config.Bridge.ForumMode && msg.IsTopicMessage && msg.ThreadID != 0 {
		topic, err := c.Store.GetTopicByTopicID(ctx, msg.ThreadID)
		if err != nil {
			log.Err(err).Msg("Failed to look up topic")
			return
		}
		if topic == nil {
			log.Debug().Msg("Ignoring message in unmanaged topic")
			return
		}
		if isDeleteCommand(msg.Text) {
			if err := c.teardownTopic(ctx, topic); err != nil {
				log.Err(err).Msg("Failed to tear down topic")
				c.reply(ctx, msg.ThreadID, msgTopicDeleteError)
				return
			}
			log.Info().Int64("conversation_id", topic.ConversationID).Msg("Deleted forum topic")
			return
		}
		c.relayToChatwoot(ctx, msg, topic.AccountID, topic.ConversationID)
		return
	}

	guide := !c.Config.Bridge.ForumMode
	if msg.ReplyToMessageID == 0 {
		if guide {
			c.reply(ctx, msg.ThreadID, msgReplyRequired)
		}
		return
	}
	rec, err := c.Store.GetMessage(ctx, msg.ReplyToMessageID)
	if err != nil {
		log.Err(err).Msg("Failed to look up replied message")
	}
	if rec == nil {
		if guide {
			c.reply(ctx, msg.ThreadID, msgUnknownReply)
		}
		return
	}
	c.relayToChatwoot(ctx, msg, rec.AccountID, rec.ConversationID)
}

// relayToChatwoot posts the operator's text or file to the conversation and
// remembers the created message id so its webhook echo is skipped.
func (c *Connector) relayToChatwoot(ctx context.Context, msg *TelegramMessage, accountID, conversationID int64) {
	log := zerolog.Ctx(ctx).With().Int64("conversation_id", conversationID).Logger()
	content := telegramfmt.Parse(msg.Text, msg.Entities)

	var (
		id  int64
		err error
	)
	if msg.File != nil {
		var upload *chatwoot.Upload
		upload, err = c.fetchTelegramFile(ctx, msg.File)
		var sizeErr *SizeError
		if errors.As(err, &sizeErr) {
			log.Info().Int64("size", sizeErr.Size).Msg("Operator file too large for Chatwoot relay")
			c.metrics.operator.WithLabelValues("oversize").Inc()
			c.reply(ctx, msg.ThreadID, operatorFileTooLarge(sizeErr.Size, sizeErr.Limit))
			return
		}
		if err == nil {
			id, err = c.Desk.CreateMessageWithAttachment(ctx, accountID, conversationID, content, *upload)
		}
	} else {
		if strings.TrimSpace(content) == "" {
			return
		}
		id, err = c.Desk.CreateMessage(ctx, accountID, conversationID, content)
	}
	if err != nil {
		log.Err(err).Msg("Failed to send message to Chatwoot")
		c.metrics.operator.WithLabelValues("failed").Inc()
		c.reply(ctx, msg.ThreadID, msgRelayFailed)
		return
	}
	c.markOwnMessage(id)
	c.metrics.operator.WithLabelValues("ok").Inc()
	log.Debug().Int64("chatwoot_message_id", id).Msg("Relayed operator message to Chatwoot")
}

// fetchTelegramFile downloads an operator file through the Bot API.
func (c *Connector) fetchTelegramFile(ctx context.Context, file *TelegramFile) (*chatwoot.Upload, error) {
	limit := c.Config.MaxDownloadSize()
	if file.Size > limit {
		return nil, &SizeError{Size: file.Size, Limit: limit, Exact: true}
	}
	fileURL, err := c.Messenger.FileURL(ctx, file.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file URL: %w", err)
	}
	data, err := c.download(ctx, fileURL, nil, limit)
	if err != nil {
		return nil, err
	}
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = data.MimeType
	}
	// Photos arrive without a MIME type and are always JPEG.
	if mimeType == "" || (file.Kind == KindPhoto && mimeType == "application/octet-stream") {
		mimeType = "application/octet-stream"
		if file.Kind == KindPhoto {
			mimeType = "image/jpeg"
		}
	}
	name := file.FileName
	if name == "" {
		name = string(file.Kind) + "-" + uuid.NewString()[:8] + fileExtension(mimeType)
	}
	return &chatwoot.Upload{Data: data.Data, FileName: name, MimeType: mimeType}, nil
}

func (c *Connector) reply(ctx context.Context, threadID int, text string) {
	if _, err := c.Messenger.SendText(ctx, threadID, text, nil); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to send reply")
	}
}

// isDeleteCommand matches /delete, including the /delete@botname form.
func isDeleteCommand(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd == "/delete"
}
