// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps mappings as redis hashes. Keys never expire.
//
// Layout:
//
//	{prefix}msg:{telegramMessageID}      hash conv, account, source
//	{prefix}topic:conv:{conversationID}  hash topic, name, account
//	{prefix}topic:id:{topicID}           string conversationID
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// OpenRedis connects to the redis server at url (redis://...) and pings it.
func OpenRedis(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err = rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStore(rdb, prefix), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cwtg:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) messageKey(id int) string {
	return s.prefix + "msg:" + strconv.Itoa(id)
}

func (s *RedisStore) topicConvKey(conversationID int64) string {
	return s.prefix + "topic:conv:" + strconv.FormatInt(conversationID, 10)
}

func (s *RedisStore) topicIDKey(topicID int) string {
	return s.prefix + "topic:id:" + strconv.Itoa(topicID)
}

func (s *RedisStore) PutMessage(ctx context.Context, msg Message) error {
	key := s.messageKey(msg.OutboundMessageID)
	// Replace the whole hash so stale fields from an earlier write never survive.
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"conv", msg.ConversationID,
			"account", msg.AccountID,
			"source", msg.SourceMessageID,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save message mapping: %w", err)
	}
	return nil
}

func (s *RedisStore) GetMessage(ctx context.Context, outboundMessageID int) (*Message, error) {
	vals, err := s.rdb.HGetAll(ctx, s.messageKey(outboundMessageID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get message mapping: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	msg := &Message{OutboundMessageID: outboundMessageID}
	if msg.ConversationID, err = strconv.ParseInt(vals["conv"], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt message mapping %d: %w", outboundMessageID, err)
	}
	msg.AccountID, _ = strconv.ParseInt(vals["account"], 10, 64)
	msg.SourceMessageID, _ = strconv.ParseInt(vals["source"], 10, 64)
	return msg, nil
}

func (s *RedisStore) PutTopic(ctx context.Context, topic Topic) error {
	convKey := s.topicConvKey(topic.ConversationID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, convKey, "topic", topic.TopicID, "name", topic.TopicName, "account", topic.AccountID)
		pipe.Set(ctx, s.topicIDKey(topic.TopicID), topic.ConversationID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save topic: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTopicByConversation(ctx context.Context, conversationID int64) (*Topic, error) {
	vals, err := s.rdb.HGetAll(ctx, s.topicConvKey(conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	topicID, err := strconv.Atoi(vals["topic"])
	if err != nil {
		return nil, fmt.Errorf("corrupt topic for conversation %d: %w", conversationID, err)
	}
	topic := &Topic{ConversationID: conversationID, TopicID: topicID, TopicName: vals["name"]}
	topic.AccountID, _ = strconv.ParseInt(vals["account"], 10, 64)
	return topic, nil
}

func (s *RedisStore) GetTopicByTopicID(ctx context.Context, topicID int) (*Topic, error) {
	conversationID, err := s.rdb.Get(ctx, s.topicIDKey(topicID)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get topic index: %w", err)
	}
	topic, err := s.GetTopicByConversation(ctx, conversationID)
	if err != nil || topic == nil || topic.TopicID != topicID {
		// Dangling index entry, the conversation moved to another topic.
		return nil, err
	}
	return topic, nil
}

func (s *RedisStore) DeleteTopic(ctx context.Context, conversationID int64) error {
	topic, err := s.GetTopicByConversation(ctx, conversationID)
	if err != nil || topic == nil {
		return err
	}
	err = s.rdb.Del(ctx, s.topicConvKey(conversationID), s.topicIDKey(topic.TopicID)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
