// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/chatwoot"
	"github.com/aiku/chatwoot-telegram-bridge/pkg/connector/telegramfmt"
	"github.com/aiku/chatwoot-telegram-bridge/pkg/store"
)

// Button is an inline keyboard button. Exactly one of CallbackData and URL
// is set.
type Button struct {
	Text         string
	CallbackData string
	URL          string
}

// Keyboard is an inline keyboard, one slice per row. A nil Keyboard removes
// any existing buttons when editing.
type Keyboard [][]Button

// OutgoingMedia is a file sent to Telegram, either by URL for Telegram to
// fetch itself or as uploaded bytes.
type OutgoingMedia struct {
	Kind     TransferKind
	URL      string
	Data     []byte
	FileName string
	Caption  string
}

// Messenger is the Telegram side of the bridge. All calls target the
// configured control chat; threadID 0 is the chat itself (or the General
// topic of a forum).
type Messenger interface {
	SendText(ctx context.Context, threadID int, text string, keyboard Keyboard) (int, error)
	SendMedia(ctx context.Context, threadID int, media OutgoingMedia) (int, error)
	EditText(ctx context.Context, messageID int, text string, keyboard Keyboard) error
	EditKeyboard(ctx context.Context, messageID int, keyboard Keyboard) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	FileURL(ctx context.Context, fileID string) (string, error)
	CreateThread(ctx context.Context, name string) (int, error)
	CloseThread(ctx context.Context, threadID int) error
	ReopenThread(ctx context.Context, threadID int) error
	DeleteThread(ctx context.Context, threadID int) error
}

// SupportDesk is the Chatwoot side of the bridge.
type SupportDesk interface {
	CreateMessage(ctx context.Context, accountID, conversationID int64, content string) (int64, error)
	CreateMessageWithAttachment(ctx context.Context, accountID, conversationID int64, content string, upload chatwoot.Upload) (int64, error)
	ToggleStatus(ctx context.Context, accountID, conversationID int64, status chatwoot.Status) error
	ConversationURL(accountID, conversationID int64) string
}

var _ SupportDesk = (*chatwoot.Client)(nil)

// ErrNotModified is returned by a Messenger when an edit would not change
// the message.
var ErrNotModified = errors.New("message is not modified")

// IsNotModified reports whether err means an edit was a no-op. Such edits
// count as successful.
func IsNotModified(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotModified) ||
		strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// TelegramMessage is an operator message received from the control chat.
type TelegramMessage struct {
	MessageID        int
	ThreadID         int
	IsTopicMessage   bool
	FromID           int64
	Text             string
	Entities         []telegramfmt.Entity
	ReplyToMessageID int
	File             *TelegramFile
}

// TelegramFile is a file attached to an operator message.
type TelegramFile struct {
	FileID   string
	FileName string
	MimeType string
	Size     int64
	Kind     TransferKind
}

// CallbackInteraction is a press on an inline keyboard button.
type CallbackInteraction struct {
	ID        string
	FromID    int64
	MessageID int
	ThreadID  int
	// Text is the current text of the message carrying the button.
	Text string
	Data string
}

// Connector relays between Chatwoot and Telegram.
type Connector struct {
	Config    *Config
	Messenger Messenger
	Desk      SupportDesk
	Store     store.Store
	Log       zerolog.Logger

	// HTTP downloads attachment payloads.
	HTTP *http.Client

	recent  *cache.Cache
	metrics *metrics

	topicLocksMu sync.Mutex
	topicLocks   map[int64]*topicLock

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New creates a connector. cfg must have been post-processed.
func New(cfg *Config, messenger Messenger, desk SupportDesk, st store.Store, log zerolog.Logger) *Connector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connector{
		Config:     cfg,
		Messenger:  messenger,
		Desk:       desk,
		Store:      st,
		Log:        log,
		HTTP:       newDownloadClient(cfg.downloadTimeout()),
		recent:     newRecentCache(cfg.echoTTL()),
		metrics:    newMetrics(),
		topicLocks: make(map[int64]*topicLock),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Stop waits for in-flight Chatwoot events to finish, or for ctx to expire,
// then cancels whatever is still running.
func (c *Connector) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	defer c.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain in-flight events: %w", ctx.Err())
	}
}

// maxWebhookBodySize is the maximum accepted webhook payload (2 MB).
const maxWebhookBodySize = 2 << 20

// HandleWebhook is the HTTP handler for Chatwoot webhook deliveries. The
// response is written before any relay work starts.
func (c *Connector) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if secret := c.Config.Webhook.Secret; secret != "" {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.Log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejected webhook with bad token")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	evt, err := chatwoot.ParseEvent(body)
	if err != nil {
		c.metrics.events.WithLabelValues("invalid").Inc()
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))

	c.HandleChatwootEvent(evt)
}

// HandleHealth answers liveness probes.
func (c *Connector) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// track runs fn in a goroutine that Stop waits for.
func (c *Connector) track(name string, fn func(ctx context.Context)) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				c.Log.Error().Any("panic", r).Str("task", name).Msg("Recovered panic in background task")
			}
		}()
		fn(c.ctx)
	}()
}
