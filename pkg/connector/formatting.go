// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/chatwoot"
	"github.com/aiku/chatwoot-telegram-bridge/pkg/connector/chatwootfmt"
)

const (
	statusMarker = "\n\nStatus: "

	msgReplyRequired    = "Please reply to a customer message to send a response."
	msgUnknownReply     = "Could not find the conversation associated with this message. It might be too old or not from the bot."
	msgRelayFailed      = "Failed to send message to Chatwoot. Check logs."
	msgExpired          = "Expired or unknown message."
	msgStatusFailed     = "Failed to update conversation status."
	msgUnknownAction    = "Unknown action."
	msgNotAllowed       = "You are not allowed to manage conversations."
	msgResolved         = "Conversation resolved ✅"
	msgReopened         = "Conversation reopened 🔓"
	msgLegacyResolved   = "Conversation resolved! ✅"
	msgTopicDeleteError = "Failed to delete this topic. Check logs."
)

// renderHeader builds the Telegram text for a Chatwoot message.
func renderHeader(evt *chatwoot.Event) string {
	name := strings.TrimSpace(evt.Sender.Name)
	if name == "" {
		name = "Unknown"
	}
	content := chatwootfmt.Plain(evt.Content)
	if content == "" {
		if len(evt.Attachments) > 0 {
			content = "[attachment]"
		} else {
			content = "[no content]"
		}
	}

	var sb strings.Builder
	if evt.MessageType == chatwoot.MessageOutgoing {
		sb.WriteString("🤖 " + name + " (agent)\n📤 ")
	} else {
		sb.WriteString("👤 " + name)
		if email := strings.TrimSpace(evt.Sender.Email); email != "" {
			sb.WriteString(" (" + email + ")")
		}
		sb.WriteString("\n💬 ")
	}
	sb.WriteString(content)
	if n := len(evt.Attachments); n > 0 {
		sb.WriteString("\n📎 Attachments: " + strconv.Itoa(n))
	}
	return sb.String()
}

// withStatus appends the status line to a control message, replacing any
// status line added earlier.
func withStatus(text string, status chatwoot.Status) string {
	if idx := strings.LastIndex(text, statusMarker); idx >= 0 {
		text = text[:idx]
	}
	label := "🔓 open"
	if status == chatwoot.StatusResolved {
		label = "✅ resolved"
	}
	return text + statusMarker + label
}

func resolvedNotice(conversationID int64) string {
	return fmt.Sprintf("Conversation #%d has been resolved.", conversationID)
}

// sizeMB renders a byte count in whole megabytes, rounded up.
func sizeMB(size int64) string {
	return strconv.FormatInt((size+megabyte-1)/megabyte, 10) + " MB"
}

func oversizeNotice(fileName string, size, limit int64, exact bool, url string) string {
	var sb strings.Builder
	sb.WriteString("📎 " + fileName + " is too large to send via Telegram")
	if exact {
		sb.WriteString(" (" + sizeMB(size) + ", limit " + sizeMB(limit) + ").")
	} else {
		sb.WriteString(" (over " + sizeMB(limit) + ").")
	}
	writeNoticeURL(&sb, url)
	return sb.String()
}

func downloadFailedNotice(fileName, url string) string {
	var sb strings.Builder
	sb.WriteString("⚠️ Could not download attachment " + fileName + ".")
	writeNoticeURL(&sb, url)
	return sb.String()
}

func sendFailedNotice(fileName, url string) string {
	var sb strings.Builder
	sb.WriteString("⚠️ Telegram rejected attachment " + fileName + ".")
	writeNoticeURL(&sb, url)
	return sb.String()
}

// writeNoticeURL adds the link to open the file in Chatwoot. Inline data
// URLs are never echoed back.
func writeNoticeURL(sb *strings.Builder, url string) {
	if url == "" || strings.HasPrefix(url, "data:") {
		return
	}
	sb.WriteString("\nOpen in Chatwoot: " + url)
}

func operatorFileTooLarge(size, limit int64) string {
	return fmt.Sprintf("📎 File is too large to forward to Chatwoot (%s, limit %s).", sizeMB(size), sizeMB(limit))
}
