// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package chatwoot is a minimal Chatwoot API client covering what the bridge
// needs: posting agent messages (with or without an attachment), toggling
// conversation status, and parsing webhook payloads.
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Status is a conversation status accepted by toggle_status.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// AccessTokenHeader is the header Chatwoot reads API tokens from.
const AccessTokenHeader = "api_access_token"

// maxErrorBody caps how much of an error response is kept in APIError.
const maxErrorBody = 4 << 10

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatwoot api status=%d: %s", e.StatusCode, e.Body)
}

// Upload is a binary attachment for CreateMessageWithAttachment.
type Upload struct {
	Data     []byte
	FileName string
	MimeType string
}

// Client talks to one Chatwoot installation.
type Client struct {
	BaseURL   string
	AccountID int64
	Token     string

	// HTTP is used for JSON calls, Upload for multipart uploads which need a
	// longer timeout.
	HTTP   *http.Client
	Upload *http.Client
}

// NewClient creates a client with the default timeouts (15s JSON, 60s uploads).
func NewClient(baseURL string, accountID int64, token string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		AccountID: accountID,
		Token:     token,
		HTTP:      &http.Client{Timeout: 15 * time.Second},
		Upload:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) account(accountID int64) int64 {
	if accountID == 0 {
		return c.AccountID
	}
	return accountID
}

func (c *Client) conversationPath(accountID, conversationID int64, suffix string) string {
	return fmt.Sprintf("%s/api/v1/accounts/%d/conversations/%d/%s",
		c.BaseURL, c.account(accountID), conversationID, suffix)
}

// ConversationURL returns the dashboard link for a conversation.
func (c *Client) ConversationURL(accountID, conversationID int64) string {
	return fmt.Sprintf("%s/app/accounts/%d/conversations/%d", c.BaseURL, c.account(accountID), conversationID)
}

type createMessageReq struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Private     bool   `json:"private"`
}

// CreateMessage posts a public outgoing message and returns its Chatwoot ID.
// An accountID of 0 uses the client's default account.
func (c *Client) CreateMessage(ctx context.Context, accountID, conversationID int64, content string) (int64, error) {
	body, err := json.Marshal(createMessageReq{Content: content, MessageType: MessageOutgoing})
	if err != nil {
		return 0, err
	}
	resp, err := c.do(ctx, c.HTTP, c.conversationPath(accountID, conversationID, "messages"), "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create message: %w", err)
	}
	return gjson.GetBytes(resp, "id").Int(), nil
}

// CreateMessageWithAttachment posts an outgoing message with one file as
// multipart/form-data and returns its Chatwoot ID.
func (c *Client) CreateMessageWithAttachment(ctx context.Context, accountID, conversationID int64, content string, upload Upload) (int64, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("content", content)
	_ = mw.WriteField("message_type", MessageOutgoing)
	_ = mw.WriteField("private", "false")

	mimeType := upload.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachments[]"; filename=%s`, strconv.Quote(upload.FileName)))
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return 0, err
	}
	if _, err = part.Write(upload.Data); err != nil {
		return 0, err
	}
	if err = mw.Close(); err != nil {
		return 0, err
	}

	resp, err := c.do(ctx, c.Upload, c.conversationPath(accountID, conversationID, "messages"), mw.FormDataContentType(), &buf)
	if err != nil {
		return 0, fmt.Errorf("failed to create message with attachment: %w", err)
	}
	return gjson.GetBytes(resp, "id").Int(), nil
}

// ToggleStatus sets the status of a conversation.
func (c *Client) ToggleStatus(ctx context.Context, accountID, conversationID int64, status Status) error {
	body, err := json.Marshal(map[string]Status{"status": status})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, c.HTTP, c.conversationPath(accountID, conversationID, "toggle_status"), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to toggle conversation status: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, client *http.Client, url, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(AccessTokenHeader, c.Token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
