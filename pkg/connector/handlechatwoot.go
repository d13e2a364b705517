// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"

	"github.com/google/uuid"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/chatwoot"
)

// Drop reasons, used as metric labels.
const (
	dropEventType   = "event_type"
	dropMessageType = "message_type"
	dropMissingIDs  = "missing_ids"
	dropPrivate     = "private"
	dropEcho        = "echo"
)

// HandleChatwootEvent filters a parsed webhook event and, if it should be
// relayed, hands it to a background task. It never blocks on network I/O.
func (c *Connector) HandleChatwootEvent(evt *chatwoot.Event) {
	if reason := c.dropReason(evt); reason != "" {
		c.metrics.events.WithLabelValues("dropped_" + reason).Inc()
		if evt != nil {
			c.Log.Debug().
				Str("event", evt.Event).
				Int64("chatwoot_message_id", evt.ID).
				Str("reason", reason).
				Msg("Dropping Chatwoot event")
		}
		return
	}
	c.metrics.events.WithLabelValues("accepted").Inc()
	c.track("chatwoot_message", func(ctx context.Context) {
		c.handleMessageCreated(ctx, evt)
	})
}

func (c *Connector) dropReason(evt *chatwoot.Event) string {
	switch {
	case evt == nil || evt.Event != chatwoot.EventMessageCreated:
		return dropEventType
	case evt.MessageType != chatwoot.MessageIncoming && evt.MessageType != chatwoot.MessageOutgoing:
		return dropMessageType
	case evt.ConversationID == 0 || evt.AccountID == 0:
		return dropMissingIDs
	case evt.Private:
		return dropPrivate
	case !c.claimChatwootMessage(evt.ID):
		return dropEcho
	}
	return ""
}

// handleMessageCreated sends the header message with its control keyboard,
// records it, then fans out the attachments.
func (c *Connector) handleMessageCreated(ctx context.Context, evt *chatwoot.Event) {
	log := c.Log.With().
		Str("trace_id", uuid.NewString()).
		Int64("conversation_id", evt.ConversationID).
		Int64("chatwoot_message_id", evt.ID).
		Str("message_type", evt.MessageType).
		Logger()
	ctx = log.WithContext(ctx)

	threadID := 0
	if c.Config.Bridge.ForumMode {
		var err error
		threadID, err = c.ensureTopic(ctx, evt)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to get forum topic, posting to the general topic")
			threadID = 0
		}
	}

	target := relayTarget{
		ThreadID:        threadID,
		ConversationID:  evt.ConversationID,
		AccountID:       evt.AccountID,
		SourceMessageID: evt.ID,
	}
	msgID, err := c.Messenger.SendText(ctx, threadID, renderHeader(evt), c.controlKeyboard(evt.AccountID, evt.ConversationID))
	if err != nil {
		log.Err(err).Msg("Failed to relay Chatwoot message to Telegram")
		c.metrics.events.WithLabelValues("failed").Inc()
		return
	}
	if err := c.recordRelay(ctx, target, msgID); err != nil {
		log.Err(err).Msg("Failed to record relayed message")
	}
	log.Debug().Int("telegram_message_id", msgID).Int("attachments", len(evt.Attachments)).Msg("Relayed Chatwoot message")

	if len(evt.Attachments) > 0 {
		c.transferAttachments(ctx, target, evt.Attachments)
	}
}

// controlKeyboard is the resolve/reopen pair plus a link to the conversation.
func (c *Connector) controlKeyboard(accountID, conversationID int64) Keyboard {
	kb := Keyboard{{
		{Text: "✅ Resolve", CallbackData: MakeCallbackData(ActionResolve, conversationID)},
		{Text: "🔓 Reopen", CallbackData: MakeCallbackData(ActionReopen, conversationID)},
	}}
	if link := c.Desk.ConversationURL(accountID, conversationID); link != "" {
		kb = append(kb, []Button{{Text: "Open in Chatwoot", URL: link}})
	}
	return kb
}
