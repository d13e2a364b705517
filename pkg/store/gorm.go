// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type messageRow struct {
	TelegramMessageID      int   `gorm:"column:telegram_message_id;primaryKey;autoIncrement:false"`
	ChatwootConversationID int64 `gorm:"column:chatwoot_conversation_id;not null"`
	ChatwootAccountID      int64 `gorm:"column:chatwoot_account_id"`
	ChatwootMessageID      int64 `gorm:"column:chatwoot_message_id"`
}

func (messageRow) TableName() string { return "messages" }

type topicRow struct {
	ChatwootConversationID int64  `gorm:"column:chatwoot_conversation_id;primaryKey;autoIncrement:false"`
	TelegramTopicID        int    `gorm:"column:telegram_topic_id;uniqueIndex:idx_topics_topic_id;not null"`
	TopicName              string `gorm:"column:topic_name"`
	ChatwootAccountID      int64  `gorm:"column:chatwoot_account_id"`
}

func (topicRow) TableName() string { return "topics" }

// GormStore keeps the correlation tables in SQLite or PostgreSQL.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// sqlitePragmas favour frequent small writes: WAL for concurrent readers,
// NORMAL sync, and a busy timeout instead of immediate SQLITE_BUSY.
const sqlitePragmas = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(path string) (*GormStore, error) {
	if path == "" {
		path = "mappings.db"
	}
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = "file:" + path + "?" + sqlitePragmas
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// One writer at a time; also keeps :memory: databases on a single connection.
	sqlDB.SetMaxOpenConns(1)
	return NewGormStore(db)
}

// OpenPostgres connects to PostgreSQL using a DSN or URL.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open gorm handle and migrates the correlation tables.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&messageRow{}, &topicRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate correlation tables: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) PutMessage(ctx context.Context, msg Message) error {
	row := &messageRow{
		TelegramMessageID:      msg.OutboundMessageID,
		ChatwootConversationID: msg.ConversationID,
		ChatwootAccountID:      msg.AccountID,
		ChatwootMessageID:      msg.SourceMessageID,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to save message mapping: %w", err)
	}
	return nil
}

func (s *GormStore) GetMessage(ctx context.Context, outboundMessageID int) (*Message, error) {
	var row messageRow
	err := s.db.WithContext(ctx).First(&row, "telegram_message_id = ?", outboundMessageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get message mapping: %w", err)
	}
	return &Message{
		OutboundMessageID: row.TelegramMessageID,
		ConversationID:    row.ChatwootConversationID,
		AccountID:         row.ChatwootAccountID,
		SourceMessageID:   row.ChatwootMessageID,
	}, nil
}

func (s *GormStore) PutTopic(ctx context.Context, topic Topic) error {
	row := &topicRow{
		ChatwootConversationID: topic.ConversationID,
		TelegramTopicID:        topic.TopicID,
		TopicName:              topic.TopicName,
		ChatwootAccountID:      topic.AccountID,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to save topic: %w", err)
	}
	return nil
}

func (s *GormStore) GetTopicByConversation(ctx context.Context, conversationID int64) (*Topic, error) {
	return s.getTopic(ctx, "chatwoot_conversation_id = ?", conversationID)
}

func (s *GormStore) GetTopicByTopicID(ctx context.Context, topicID int) (*Topic, error) {
	return s.getTopic(ctx, "telegram_topic_id = ?", topicID)
}

func (s *GormStore) getTopic(ctx context.Context, query string, arg any) (*Topic, error) {
	var row topicRow
	err := s.db.WithContext(ctx).First(&row, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return &Topic{
		ConversationID: row.ChatwootConversationID,
		TopicID:        row.TelegramTopicID,
		TopicName:      row.TopicName,
		AccountID:      row.ChatwootAccountID,
	}, nil
}

func (s *GormStore) DeleteTopic(ctx context.Context, conversationID int64) error {
	err := s.db.WithContext(ctx).
		Where("chatwoot_conversation_id = ?", conversationID).
		Delete(&topicRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
