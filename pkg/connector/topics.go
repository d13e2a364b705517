// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/chatwoot"
	"github.com/aiku/chatwoot-telegram-bridge/pkg/store"
)

type topicLock struct {
	mu   sync.Mutex
	refs int
}

// lockTopic serializes topic creation and teardown for one conversation and
// returns the unlock function. An entry is dropped once no caller holds or
// waits for it.
func (c *Connector) lockTopic(conversationID int64) func() {
	c.topicLocksMu.Lock()
	l, ok := c.topicLocks[conversationID]
	if !ok {
		l = &topicLock{}
		c.topicLocks[conversationID] = l
	}
	l.refs++
	c.topicLocksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.topicLocksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.topicLocks, conversationID)
		}
		c.topicLocksMu.Unlock()
	}
}

// ensureTopic returns the forum topic of the event's conversation, creating
// it on first contact. Creation is serialized per conversation so concurrent
// events never open two topics.
func (c *Connector) ensureTopic(ctx context.Context, evt *chatwoot.Event) (int, error) {
	defer c.lockTopic(evt.ConversationID)()

	topic, err := c.Store.GetTopicByConversation(ctx, evt.ConversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to look up topic: %w", err)
	}
	if topic != nil {
		if topic.AccountID != evt.AccountID && evt.AccountID != 0 {
			topic.AccountID = evt.AccountID
			if err := c.Store.PutTopic(ctx, *topic); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to update topic account")
			}
		}
		return topic.TopicID, nil
	}

	name := c.Config.FormatTopicName(TopicParams{
		ConversationID: evt.ConversationID,
		Name:           evt.Sender.Name,
		Email:          evt.Sender.Email,
	})
	topicID, err := c.Messenger.CreateThread(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create topic: %w", err)
	}
	err = c.Store.PutTopic(ctx, store.Topic{
		ConversationID: evt.ConversationID,
		TopicID:        topicID,
		TopicName:      name,
		AccountID:      evt.AccountID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record topic %d: %w", topicID, err)
	}
	zerolog.Ctx(ctx).Info().Int("topic_id", topicID).Str("topic_name", name).Msg("Created forum topic")
	return topicID, nil
}

// teardownTopic deletes a relay-managed forum topic and forgets it. Message
// correlations are kept.
func (c *Connector) teardownTopic(ctx context.Context, topic *store.Topic) error {
	defer c.lockTopic(topic.ConversationID)()

	if err := c.Messenger.DeleteThread(ctx, topic.TopicID); err != nil {
		return fmt.Errorf("failed to delete topic %d: %w", topic.TopicID, err)
	}
	if err := c.Store.DeleteTopic(ctx, topic.ConversationID); err != nil {
		return fmt.Errorf("failed to forget topic %d: %w", topic.TopicID, err)
	}
	return nil
}

// setTopicOpen closes or reopens the conversation's topic. Errors are only
// logged: the topic may already be in the requested state.
func (c *Connector) setTopicOpen(ctx context.Context, conversationID int64, open bool) {
	log := zerolog.Ctx(ctx)
	topic, err := c.Store.GetTopicByConversation(ctx, conversationID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to look up topic")
		return
	}
	if topic == nil {
		return
	}
	if open {
		err = c.Messenger.ReopenThread(ctx, topic.TopicID)
	} else {
		err = c.Messenger.CloseThread(ctx, topic.TopicID)
	}
	if err != nil {
		log.Debug().Err(err).Int("topic_id", topic.TopicID).Bool("open", open).Msg("Ignoring topic state change error")
	}
}
