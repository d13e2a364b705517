// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/chatwoot"
)

// HandleCallback handles a press on a resolve or reopen button. The callback
// is always answered so the client stops its spinner.
func (c *Connector) HandleCallback(ctx context.Context, cb *CallbackInteraction) {
	log := c.Log.With().
		Str("callback_id", cb.ID).
		Int64("from_id", cb.FromID).
		Int("telegram_message_id", cb.MessageID).
		Str("data", cb.Data).
		Logger()
	ctx = log.WithContext(ctx)

	if !c.Config.IsAdmin(cb.FromID) {
		log.Warn().Msg("Ignoring callback from non-admin user")
		c.answer(ctx, cb, msgNotAllowed, true)
		return
	}
	action, conversationID, ok := ParseCallbackData(cb.Data)
	switch {
	case !ok:
		c.answer(ctx, cb, msgUnknownAction, false)
	case conversationID == 0:
		c.handleLegacyResolve(ctx, cb)
	default:
		c.applyStatus(ctx, cb, action, conversationID)
	}
}

// applyStatus moves a conversation to resolved or open and rewrites the
// control message to show the new state. Nothing is edited on failure.
func (c *Connector) applyStatus(ctx context.Context, cb *CallbackInteraction, action Action, conversationID int64) {
	log := zerolog.Ctx(ctx).With().Int64("conversation_id", conversationID).Logger()
	status, answer := chatwoot.StatusResolved, msgResolved
	if action == ActionReopen {
		status, answer = chatwoot.StatusOpen, msgReopened
	}
	accountID := c.accountFor(ctx, cb.MessageID, conversationID)

	if err := c.Desk.ToggleStatus(ctx, accountID, conversationID, status); err != nil {
		log.Err(err).Str("status", string(status)).Msg("Failed to toggle conversation status")
		c.metrics.control.WithLabelValues(string(action), "failed").Inc()
		c.answer(ctx, cb, msgStatusFailed, true)
		return
	}
	c.metrics.control.WithLabelValues(string(action), "ok").Inc()

	if c.Config.Bridge.ForumMode {
		c.setTopicOpen(ctx, conversationID, status == chatwoot.StatusOpen)
	}
	c.answer(ctx, cb, answer, false)

	keyboard := c.controlKeyboard(accountID, conversationID)
	var err error
	if cb.Text == "" {
		// The message body is unknown, redraw the buttons only.
		err = c.Messenger.EditKeyboard(ctx, cb.MessageID, keyboard)
	} else {
		err = c.Messenger.EditText(ctx, cb.MessageID, withStatus(cb.Text, status), keyboard)
	}
	if err != nil && !IsNotModified(err) {
		log.Warn().Err(err).Msg("Failed to update control message")
	}
	log.Info().Str("status", string(status)).Msg("Changed conversation status")
}

// handleLegacyResolve serves buttons from before the conversation id was
// carried in the callback data.
func (c *Connector) handleLegacyResolve(ctx context.Context, cb *CallbackInteraction) {
	log := zerolog.Ctx(ctx)
	rec, err := c.Store.GetMessage(ctx, cb.MessageID)
	if err != nil {
		log.Err(err).Msg("Failed to look up control message")
	}
	if rec == nil {
		c.answer(ctx, cb, msgExpired, false)
		return
	}
	if err := c.Desk.ToggleStatus(ctx, rec.AccountID, rec.ConversationID, chatwoot.StatusResolved); err != nil {
		log.Err(err).Int64("conversation_id", rec.ConversationID).Msg("Failed to resolve conversation")
		c.metrics.control.WithLabelValues(string(ActionResolve), "failed").Inc()
		c.answer(ctx, cb, msgStatusFailed, true)
		return
	}
	c.metrics.control.WithLabelValues(string(ActionResolve), "ok").Inc()
	c.answer(ctx, cb, msgLegacyResolved, false)

	if err := c.Messenger.EditKeyboard(ctx, cb.MessageID, nil); err != nil && !IsNotModified(err) {
		log.Warn().Err(err).Msg("Failed to remove buttons")
	}
	if _, err := c.Messenger.SendText(ctx, cb.ThreadID, resolvedNotice(rec.ConversationID), nil); err != nil {
		log.Warn().Err(err).Msg("Failed to send resolved notice")
	}
}

// accountFor finds the Chatwoot account of a control message. Zero means the
// configured default account.
func (c *Connector) accountFor(ctx context.Context, messageID int, conversationID int64) int64 {
	rec, err := c.Store.GetMessage(ctx, messageID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to look up control message")
		return 0
	}
	if rec == nil || rec.ConversationID != conversationID {
		return 0
	}
	return rec.AccountID
}

func (c *Connector) answer(ctx context.Context, cb *CallbackInteraction, text string, alert bool) {
	if err := c.Messenger.AnswerCallback(ctx, cb.ID, text, alert); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("Failed to answer callback")
	}
}
