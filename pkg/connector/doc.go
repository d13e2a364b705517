// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements a Chatwoot-Telegram relay.
//
// Customer and agent messages arriving through the Chatwoot webhook are
// posted to a Telegram control chat, with their attachments and a pair of
// resolve/reopen buttons. Operators answer by replying to a relayed message
// (flat mode) or by writing inside the conversation's forum topic (forum
// mode); their text and files are posted back to the Chatwoot conversation.
//
// # Core Types
//
// [Connector] owns the relay. It depends on a [Messenger] (the Telegram Bot
// API, see package telegram), a [SupportDesk] (the Chatwoot REST API, see
// package chatwoot) and a store.Store holding the correlation between
// Telegram message ids, forum topics and Chatwoot conversations.
//
// # Attachments
//
// Each attachment goes through a fallback chain: Telegram fetches the URL
// itself, otherwise the bridge downloads and uploads the bytes, otherwise a
// text notice with a link is posted. Files larger than the Telegram limit
// minus a safety margin skip straight to the notice. Attachments of one
// message are transferred two at a time.
//
// # Echo Prevention
//
// Chatwoot sends a webhook for every message, including the ones the bridge
// itself creates. Ids of messages created by the bridge, and of messages
// already relayed, are remembered for a while and their events are dropped.
// Private notes are never relayed.
//
// # Sub-packages
//
//   - chatwootfmt converts Chatwoot markdown to plain text.
//   - telegramfmt converts Telegram message entities to Chatwoot markdown.
package connector
