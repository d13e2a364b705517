// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/chatwoot"
	"github.com/aiku/chatwoot-telegram-bridge/pkg/store"
)

const maxDownloadRedirects = 5

// Attachment outcomes, used as metric labels.
const (
	outcomeDirect         = "direct"
	outcomeUploaded       = "uploaded"
	outcomeOversize       = "oversize"
	outcomeDownloadFailed = "download_failed"
	outcomeSendFailed     = "send_failed"
)

// relayTarget says where relayed output goes and what it correlates to.
type relayTarget struct {
	ThreadID        int
	ConversationID  int64
	AccountID       int64
	SourceMessageID int64
}

// SizeError is returned when a payload exceeds the allowed size. Exact is
// false when the size is only known to be above Limit.
type SizeError struct {
	Size  int64
	Limit int64
	Exact bool
}

func (e *SizeError) Error() string {
	if e.Exact {
		return fmt.Sprintf("payload of %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
	}
	return fmt.Sprintf("payload exceeds limit of %d bytes", e.Limit)
}

// payload is a fully downloaded or decoded file.
type payload struct {
	Data     []byte
	MimeType string
}

func newDownloadClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxDownloadRedirects {
				return fmt.Errorf("stopped after %d redirects", maxDownloadRedirects)
			}
			return nil
		},
	}
}

// transferAttachments relays every attachment of a message, a bounded number
// at a time. Individual failures end as notices and never abort siblings.
func (c *Connector) transferAttachments(ctx context.Context, target relayTarget, attachments []chatwoot.Attachment) {
	err := forEachLimited(attachments, c.Config.Bridge.AttachmentConcurrency, func(_ int, att chatwoot.Attachment) error {
		return c.transferAttachment(ctx, target, &att)
	})
	if err != nil {
		c.Log.Err(err).
			Int64("conversation_id", target.ConversationID).
			Int64("chatwoot_message_id", target.SourceMessageID).
			Msg("Some attachments could not be relayed")
	}
}

// transferAttachment runs one attachment through the fallback chain: direct
// URL, download and upload, then a text notice. Every terminal outcome is
// recorded in the correlation store.
func (c *Connector) transferAttachment(ctx context.Context, target relayTarget, att *chatwoot.Attachment) error {
	log := c.Log.With().
		Int64("conversation_id", target.ConversationID).
		Int64("attachment_id", att.ID).
		Logger()
	limit := c.Config.MaxAttachmentSize()
	sourceURL := att.SourceURL()
	fileName := attachmentFileName(att, "")

	if declared := att.DeclaredSize(); declared > limit {
		log.Info().Int64("size", declared).Msg("Attachment too large, sending notice")
		return c.sendNotice(ctx, target, outcomeOversize, oversizeNotice(fileName, declared, limit, true, sourceURL))
	}

	if sourceURL != "" && !att.IsInline() {
		msgID, err := c.Messenger.SendMedia(ctx, target.ThreadID, OutgoingMedia{
			Kind:     ClassifyTransferKind(att.FileType, att.ContentType),
			URL:      sourceURL,
			FileName: fileName,
		})
		if err == nil {
			c.metrics.attachments.WithLabelValues(outcomeDirect).Inc()
			return c.recordRelay(ctx, target, msgID)
		}
		log.Warn().Err(err).Msg("Direct URL send failed, falling back to download")
	}

	data, err := c.fetchAttachment(ctx, att, limit)
	var sizeErr *SizeError
	switch {
	case errors.As(err, &sizeErr):
		log.Info().Int64("size", sizeErr.Size).Msg("Downloaded attachment too large, sending notice")
		return c.sendNotice(ctx, target, outcomeOversize,
			oversizeNotice(fileName, sizeErr.Size, limit, sizeErr.Exact, sourceURL))
	case err != nil:
		log.Warn().Err(err).Msg("Failed to download attachment")
		return c.sendNotice(ctx, target, outcomeDownloadFailed, downloadFailedNotice(fileName, sourceURL))
	case len(data.Data) == 0:
		log.Warn().Msg("Attachment payload is empty")
		return c.sendNotice(ctx, target, outcomeDownloadFailed, downloadFailedNotice(fileName, sourceURL))
	}

	mimeType := data.MimeType
	if mimeType == "" {
		mimeType = att.ContentType
	}
	msgID, err := c.Messenger.SendMedia(ctx, target.ThreadID, OutgoingMedia{
		Kind:     ClassifyTransferKind(att.FileType, mimeType),
		Data:     data.Data,
		FileName: attachmentFileName(att, mimeType),
	})
	if err != nil {
		log.Warn().Err(err).Int("size", len(data.Data)).Msg("Failed to upload attachment")
		return c.sendNotice(ctx, target, outcomeSendFailed, sendFailedNotice(fileName, sourceURL))
	}
	c.metrics.attachments.WithLabelValues(outcomeUploaded).Inc()
	return c.recordRelay(ctx, target, msgID)
}

// fetchAttachment decodes an inline data URL or downloads the file from
// Chatwoot.
func (c *Connector) fetchAttachment(ctx context.Context, att *chatwoot.Attachment, limit int64) (*payload, error) {
	sourceURL := att.SourceURL()
	if sourceURL == "" {
		return nil, errors.New("attachment has no URL")
	}
	if att.IsInline() {
		mimeType, data, err := parseDataURL(sourceURL)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > limit {
			return nil, &SizeError{Size: int64(len(data)), Limit: limit, Exact: true}
		}
		return &payload{Data: data, MimeType: mimeType}, nil
	}
	header := http.Header{}
	if c.isChatwootURL(sourceURL) {
		header.Set(chatwoot.AccessTokenHeader, c.Config.Chatwoot.AccessToken)
	}
	return c.download(ctx, sourceURL, header, limit)
}

// download fetches url, reading at most limit+1 bytes to detect oversize
// bodies without buffering them.
func (c *Connector) download(ctx context.Context, rawURL string, header http.Header, limit int64) (*payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("unexpected download status %d", resp.StatusCode)
	}
	if resp.ContentLength > limit {
		return nil, &SizeError{Size: resp.ContentLength, Limit: limit, Exact: true}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read download body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, &SizeError{Limit: limit}
	}
	mimeType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = parsed
		}
	}
	return &payload{Data: data, MimeType: mimeType}, nil
}

// isChatwootURL reports whether rawURL points at the configured Chatwoot
// host. The API token is only ever sent there.
func (c *Connector) isChatwootURL(rawURL string) bool {
	base, err := url.Parse(c.Config.Chatwoot.BaseURL)
	if err != nil || base.Host == "" {
		return false
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return target.Host == base.Host
}

// sendNotice posts a text notice in place of an attachment and records it.
func (c *Connector) sendNotice(ctx context.Context, target relayTarget, outcome, text string) error {
	c.metrics.attachments.WithLabelValues(outcome).Inc()
	msgID, err := c.Messenger.SendText(ctx, target.ThreadID, text, nil)
	if err != nil {
		return fmt.Errorf("failed to send %s notice: %w", outcome, err)
	}
	return c.recordRelay(ctx, target, msgID)
}

// recordRelay stores the correlation for a message the bridge sent to
// Telegram so replies to it can be routed back.
func (c *Connector) recordRelay(ctx context.Context, target relayTarget, messageID int) error {
	err := c.Store.PutMessage(ctx, store.Message{
		OutboundMessageID: messageID,
		ConversationID:    target.ConversationID,
		AccountID:         target.AccountID,
		SourceMessageID:   target.SourceMessageID,
	})
	if err != nil {
		return fmt.Errorf("failed to record message %d: %w", messageID, err)
	}
	return nil
}

// attachmentFileName picks the name shown in Telegram.
func attachmentFileName(att *chatwoot.Attachment, mimeType string) string {
	if att.FileName != "" {
		return att.FileName
	}
	if u, err := url.Parse(att.SourceURL()); err == nil && u.Scheme != "data" {
		if base := pathBase(u.Path); base != "" {
			return base
		}
	}
	name := "attachment-" + uuid.NewString()
	if att.ID != 0 {
		name = "attachment-" + strconv.FormatInt(att.ID, 10)
	}
	return name + fileExtension(mimeType)
}

func pathBase(p string) string {
	base := path.Base(p)
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	if base == "." || base == "/" {
		return ""
	}
	return base
}
