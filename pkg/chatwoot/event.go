// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package chatwoot

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// Webhook event names.
const (
	EventMessageCreated = "message_created"
)

// Message directions as reported in message_type.
const (
	MessageIncoming = "incoming"
	MessageOutgoing = "outgoing"
)

// Attachment describes a file attached to a Chatwoot message. Chatwoot is not
// consistent about which URL field it fills, so all of them are kept.
type Attachment struct {
	ID          int64
	FileType    string
	ContentType string
	FileName    string
	FileSize    int64
	Size        int64

	DataURL     string
	FileURL     string
	DownloadURL string
	URL         string
	ThumbURL    string
}

// SourceURL returns the first non-empty URL candidate.
func (a *Attachment) SourceURL() string {
	for _, u := range []string{a.DataURL, a.FileURL, a.DownloadURL, a.URL, a.ThumbURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

// IsInline reports whether the source URL is an inline data: URI.
func (a *Attachment) IsInline() bool {
	return strings.HasPrefix(a.SourceURL(), "data:")
}

// DeclaredSize returns the size Chatwoot claims for the file, 0 if unknown.
func (a *Attachment) DeclaredSize() int64 {
	if a.FileSize > 0 {
		return a.FileSize
	}
	return a.Size
}

// Sender is the author of a webhook message.
type Sender struct {
	ID    int64
	Name  string
	Email string
	Type  string
}

// Event is the subset of a Chatwoot webhook payload the bridge reads.
// Missing numeric IDs are zero.
type Event struct {
	Event          string
	ID             int64
	MessageType    string
	Content        string
	Private        bool
	ConversationID int64
	AccountID      int64
	Sender         Sender
	Attachments    []Attachment
}

// ErrInvalidPayload is returned when the webhook body is not a JSON object.
var ErrInvalidPayload = errors.New("webhook payload is not a JSON object")

// ParseEvent extracts an Event from a raw webhook body. Only structural
// problems are errors; absent fields are left empty for the caller to judge.
func ParseEvent(body []byte) (*Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidPayload
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrInvalidPayload
	}

	evt := &Event{
		Event:          root.Get("event").String(),
		ID:             root.Get("id").Int(),
		MessageType:    messageType(root.Get("message_type")),
		Content:        root.Get("content").String(),
		Private:        root.Get("private").Bool(),
		ConversationID: root.Get("conversation.id").Int(),
		AccountID:      root.Get("account.id").Int(),
		Sender: Sender{
			ID:    root.Get("sender.id").Int(),
			Name:  root.Get("sender.name").String(),
			Email: root.Get("sender.email").String(),
			Type:  root.Get("sender.type").String(),
		},
	}

	atts := root.Get("attachments")
	if !atts.IsArray() {
		atts = root.Get("message.attachments")
	}
	atts.ForEach(func(_, value gjson.Result) bool {
		evt.Attachments = append(evt.Attachments, parseAttachment(value))
		return true
	})
	return evt, nil
}

// messageType normalizes message_type, which older Chatwoot versions send as
// an integer enum (0 incoming, 1 outgoing, 2 activity, 3 template).
func messageType(v gjson.Result) string {
	if v.Type == gjson.Number {
		switch v.Int() {
		case 0:
			return MessageIncoming
		case 1:
			return MessageOutgoing
		case 2:
			return "activity"
		case 3:
			return "template"
		}
		return ""
	}
	return v.String()
}

func parseAttachment(v gjson.Result) Attachment {
	return Attachment{
		ID:          v.Get("id").Int(),
		FileType:    v.Get("file_type").String(),
		ContentType: v.Get("content_type").String(),
		FileName:    v.Get("file_name").String(),
		FileSize:    v.Get("file_size").Int(),
		Size:        v.Get("size").Int(),
		DataURL:     v.Get("data_url").String(),
		FileURL:     v.Get("file_url").String(),
		DownloadURL: v.Get("download_url").String(),
		URL:         v.Get("url").String(),
		ThumbURL:    v.Get("thumb_url").String(),
	}
}
