// Copyright 2024-2026 Aiku AI

package telegram

import (
	"github.com/go-telegram/bot/models"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/connector"
	"github.com/aiku/chatwoot-telegram-bridge/pkg/connector/telegramfmt"
)

// convertMessage returns nil for messages outside the control chat and for
// messages sent by bots.
func convertMessage(m *models.Message, chatID int64) *connector.TelegramMessage {
	if m == nil || m.Chat.ID != chatID {
		return nil
	}
	if m.From != nil && m.From.IsBot {
		return nil
	}
	msg := &connector.TelegramMessage{
		MessageID:      m.ID,
		ThreadID:       m.MessageThreadID,
		IsTopicMessage: m.IsTopicMessage,
		Text:           m.Text,
		Entities:       convertEntities(m.Entities),
		File:           convertFile(m),
	}
	if m.From != nil {
		msg.FromID = m.From.ID
	}
	if msg.Text == "" && m.Caption != "" {
		msg.Text = m.Caption
		msg.Entities = convertEntities(m.CaptionEntities)
	}
	if m.ReplyToMessage != nil {
		msg.ReplyToMessageID = m.ReplyToMessage.ID
	}
	if msg.Text == "" && msg.File == nil {
		return nil
	}
	return msg
}

func convertEntities(entities []models.MessageEntity) []telegramfmt.Entity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]telegramfmt.Entity, len(entities))
	for i, e := range entities {
		out[i] = telegramfmt.Entity{
			Type:     string(e.Type),
			Offset:   e.Offset,
			Length:   e.Length,
			URL:      e.URL,
			Language: e.Language,
		}
	}
	return out
}

// convertFile picks the downloadable file of a message. For photos that is
// the largest size Telegram offers.
func convertFile(m *models.Message) *connector.TelegramFile {
	switch {
	case len(m.Photo) > 0:
		best := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		return &connector.TelegramFile{
			FileID: best.FileID,
			Size:   int64(best.FileSize),
			Kind:   connector.KindPhoto,
		}
	case m.Document != nil:
		return &connector.TelegramFile{
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			MimeType: m.Document.MimeType,
			Size:     int64(m.Document.FileSize),
			Kind:     connector.KindDocument,
		}
	case m.Video != nil:
		return &connector.TelegramFile{
			FileID:   m.Video.FileID,
			FileName: m.Video.FileName,
			MimeType: m.Video.MimeType,
			Size:     int64(m.Video.FileSize),
			Kind:     connector.KindVideo,
		}
	case m.Audio != nil:
		return &connector.TelegramFile{
			FileID:   m.Audio.FileID,
			FileName: m.Audio.FileName,
			MimeType: m.Audio.MimeType,
			Size:     int64(m.Audio.FileSize),
			Kind:     connector.KindAudio,
		}
	case m.Voice != nil:
		mimeType := m.Voice.MimeType
		if mimeType == "" {
			mimeType = "audio/ogg"
		}
		return &connector.TelegramFile{
			FileID:   m.Voice.FileID,
			MimeType: mimeType,
			Size:     int64(m.Voice.FileSize),
			Kind:     connector.KindAudio,
		}
	}
	return nil
}

// convertCallback returns nil for presses outside the control chat. Presses
// on messages too old for Telegram to return still carry the message id.
func convertCallback(q *models.CallbackQuery, chatID int64) *connector.CallbackInteraction {
	if q == nil {
		return nil
	}
	cb := &connector.CallbackInteraction{
		ID:     q.ID,
		FromID: q.From.ID,
		Data:   q.Data,
	}
	switch {
	case q.Message.Message != nil:
		m := q.Message.Message
		if m.Chat.ID != chatID {
			return nil
		}
		cb.MessageID = m.ID
		cb.ThreadID = m.MessageThreadID
		cb.Text = m.Text
	case q.Message.InaccessibleMessage != nil:
		m := q.Message.InaccessibleMessage
		if m.Chat.ID != chatID {
			return nil
		}
		cb.MessageID = m.MessageID
	default:
		return nil
	}
	return cb
}
