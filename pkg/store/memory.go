// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps mappings in process memory. Nothing survives a restart,
// so it is meant for development and tests.
type MemoryStore struct {
	messages *cache.Cache
	topics   *cache.Cache

	// topicMu makes the two-key topic writes atomic with respect to readers.
	topicMu  sync.RWMutex
	topicIDs map[int]int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		messages: cache.New(cache.NoExpiration, 0),
		topics:   cache.New(cache.NoExpiration, 0),
		topicIDs: make(map[int]int64),
	}
}

func (s *MemoryStore) PutMessage(_ context.Context, msg Message) error {
	s.messages.Set(strconv.Itoa(msg.OutboundMessageID), msg, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, outboundMessageID int) (*Message, error) {
	if x, found := s.messages.Get(strconv.Itoa(outboundMessageID)); found {
		msg := x.(Message)
		return &msg, nil
	}
	return nil, nil
}

func (s *MemoryStore) PutTopic(_ context.Context, topic Topic) error {
	s.topicMu.Lock()
	defer s.topicMu.Unlock()
	s.topics.Set(strconv.FormatInt(topic.ConversationID, 10), topic, cache.NoExpiration)
	s.topicIDs[topic.TopicID] = topic.ConversationID
	return nil
}

func (s *MemoryStore) GetTopicByConversation(_ context.Context, conversationID int64) (*Topic, error) {
	s.topicMu.RLock()
	defer s.topicMu.RUnlock()
	return s.topicByConversation(conversationID), nil
}

func (s *MemoryStore) topicByConversation(conversationID int64) *Topic {
	if x, found := s.topics.Get(strconv.FormatInt(conversationID, 10)); found {
		topic := x.(Topic)
		return &topic
	}
	return nil
}

func (s *MemoryStore) GetTopicByTopicID(_ context.Context, topicID int) (*Topic, error) {
	s.topicMu.RLock()
	defer s.topicMu.RUnlock()
	conversationID, ok := s.topicIDs[topicID]
	if !ok {
		return nil, nil
	}
	topic := s.topicByConversation(conversationID)
	if topic == nil || topic.TopicID != topicID {
		return nil, nil
	}
	return topic, nil
}

func (s *MemoryStore) DeleteTopic(_ context.Context, conversationID int64) error {
	s.topicMu.Lock()
	defer s.topicMu.Unlock()
	if topic := s.topicByConversation(conversationID); topic != nil {
		delete(s.topicIDs, topic.TopicID)
	}
	s.topics.Delete(strconv.FormatInt(conversationID, 10))
	return nil
}

func (s *MemoryStore) Close() error {
	s.messages.Flush()
	s.topics.Flush()
	return nil
}
