// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package store persists the mapping between Telegram messages the bridge
// sent and the Chatwoot conversations they belong to, plus the per-conversation
// forum topics used in forum mode.
//
// Every backend treats writes as upserts and reports a missing key as
// (nil, nil): absence is a normal result that callers use to decide whether to
// ignore an update or prompt the operator.
package store

import (
	"context"
	"fmt"
)

// Message correlates a Telegram message sent by the bridge with a Chatwoot conversation.
type Message struct {
	// OutboundMessageID is the Telegram message ID.
	OutboundMessageID int
	ConversationID    int64
	// AccountID is the Chatwoot account ID, 0 if unknown.
	AccountID int64
	// SourceMessageID is the Chatwoot message ID that produced the relay, 0 if unknown.
	SourceMessageID int64
}

// Topic is the forum topic dedicated to a Chatwoot conversation.
type Topic struct {
	ConversationID int64
	TopicID        int
	TopicName      string
	// AccountID is the Chatwoot account of the conversation, 0 if unknown.
	AccountID int64
}

// Store is the correlation store used by the connector. Implementations must
// be safe for concurrent use.
type Store interface {
	PutMessage(ctx context.Context, msg Message) error
	GetMessage(ctx context.Context, outboundMessageID int) (*Message, error)

	PutTopic(ctx context.Context, topic Topic) error
	GetTopicByConversation(ctx context.Context, conversationID int64) (*Topic, error)
	GetTopicByTopicID(ctx context.Context, topicID int) (*Topic, error)
	DeleteTopic(ctx context.Context, conversationID int64) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Type is one of "sqlite", "postgres", "redis" or "memory".
	Type string `yaml:"type"`
	// URI is the sqlite path / postgres DSN / redis URL.
	URI string `yaml:"uri"`
	// KeyPrefix namespaces redis keys.
	KeyPrefix string `yaml:"key_prefix"`
}

// Open creates the backend described by cfg and prepares its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "sqlite", "sqlite3", "":
		return OpenSQLite(cfg.URI)
	case "postgres":
		return OpenPostgres(cfg.URI)
	case "redis":
		return OpenRedis(ctx, cfg.URI, cfg.KeyPrefix)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Type)
	}
}
