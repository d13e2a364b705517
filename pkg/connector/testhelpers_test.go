// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/chatwoot"
	"github.com/aiku/chatwoot-telegram-bridge/pkg/store"
)

var errFake = errors.New("fake failure")

// sentMessage is one message the fake messenger accepted.
type sentMessage struct {
	MessageID int
	ThreadID  int
	Text      string
	Keyboard  Keyboard
	Media     *OutgoingMedia
}

type editCall struct {
	MessageID    int
	Text         string
	Keyboard     Keyboard
	KeyboardOnly bool
}

type answerCall struct {
	ID    string
	Text  string
	Alert bool
}

// fakeMessenger records every Telegram call. Failure switches are set
// before the connector runs.
type fakeMessenger struct {
	mu           sync.Mutex
	nextID       int
	nextThreadID int

	sent     []sentMessage
	edits    []editCall
	answers  []answerCall
	created  []string
	closed   []int
	reopened []int
	deleted  []int

	FileURLs map[string]string

	FailText        bool
	FailURLMedia    bool
	FailUploadMedia bool
	FailCreate      bool
	EditErr         error
	ThreadErr       error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 1000, nextThreadID: 500, FileURLs: make(map[string]string)}
}

func (f *fakeMessenger) SendText(_ context.Context, threadID int, text string, keyboard Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailText {
		return 0, errFake
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{MessageID: f.nextID, ThreadID: threadID, Text: text, Keyboard: keyboard})
	return f.nextID, nil
}

func (f *fakeMessenger) SendMedia(_ context.Context, threadID int, media OutgoingMedia) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if (media.URL != "" && f.FailURLMedia) || (media.URL == "" && f.FailUploadMedia) {
		return 0, errFake
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{MessageID: f.nextID, ThreadID: threadID, Media: &media})
	return f.nextID, nil
}

func (f *fakeMessenger) EditText(_ context.Context, messageID int, text string, keyboard Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editCall{MessageID: messageID, Text: text, Keyboard: keyboard})
	return f.EditErr
}

func (f *fakeMessenger) EditKeyboard(_ context.Context, messageID int, keyboard Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editCall{MessageID: messageID, Keyboard: keyboard, KeyboardOnly: true})
	return f.EditErr
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, callbackID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answerCall{ID: callbackID, Text: text, Alert: alert})
	return nil
}

func (f *fakeMessenger) FileURL(_ context.Context, fileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.FileURLs[fileID]
	if !ok {
		return "", fmt.Errorf("file %s: %w", fileID, errFake)
	}
	return u, nil
}

func (f *fakeMessenger) CreateThread(_ context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate {
		return 0, errFake
	}
	f.nextThreadID++
	f.created = append(f.created, name)
	return f.nextThreadID, nil
}

func (f *fakeMessenger) CloseThread(_ context.Context, threadID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, threadID)
	return f.ThreadErr
}

func (f *fakeMessenger) ReopenThread(_ context.Context, threadID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reopened = append(f.reopened, threadID)
	return f.ThreadErr
}

func (f *fakeMessenger) DeleteThread(_ context.Context, threadID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, threadID)
	return f.ThreadErr
}

func (f *fakeMessenger) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentMessage, len(f.sent))
	copy(cp, f.sent)
	return cp
}

func (f *fakeMessenger) Edits() []editCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]editCall, len(f.edits))
	copy(cp, f.edits)
	return cp
}

func (f *fakeMessenger) Answers() []answerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]answerCall, len(f.answers))
	copy(cp, f.answers)
	return cp
}

func (f *fakeMessenger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent) + len(f.edits) + len(f.answers) + len(f.created) +
		len(f.closed) + len(f.reopened) + len(f.deleted)
}

type deskMessage struct {
	ID             int64
	AccountID      int64
	ConversationID int64
	Content        string
	Upload         *chatwoot.Upload
}

type toggleCall struct {
	AccountID      int64
	ConversationID int64
	Status         chatwoot.Status
}

// fakeDesk records Chatwoot calls.
type fakeDesk struct {
	mu       sync.Mutex
	nextID   int64
	messages []deskMessage
	toggles  []toggleCall

	CreateErr error
	ToggleErr error
}

func newFakeDesk() *fakeDesk {
	return &fakeDesk{nextID: 9000}
}

func (f *fakeDesk) CreateMessage(_ context.Context, accountID, conversationID int64, content string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return 0, f.CreateErr
	}
	f.nextID++
	f.messages = append(f.messages, deskMessage{ID: f.nextID, AccountID: accountID, ConversationID: conversationID, Content: content})
	return f.nextID, nil
}

func (f *fakeDesk) CreateMessageWithAttachment(_ context.Context, accountID, conversationID int64, content string, upload chatwoot.Upload) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return 0, f.CreateErr
	}
	f.nextID++
	f.messages = append(f.messages, deskMessage{
		ID: f.nextID, AccountID: accountID, ConversationID: conversationID, Content: content, Upload: &upload,
	})
	return f.nextID, nil
}

func (f *fakeDesk) ToggleStatus(_ context.Context, accountID, conversationID int64, status chatwoot.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, toggleCall{AccountID: accountID, ConversationID: conversationID, Status: status})
	return f.ToggleErr
}

func (f *fakeDesk) ConversationURL(accountID, conversationID int64) string {
	return "https://cw.test/app/accounts/" + strconv.FormatInt(accountID, 10) +
		"/conversations/" + strconv.FormatInt(conversationID, 10)
}

func (f *fakeDesk) Messages() []deskMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]deskMessage, len(f.messages))
	copy(cp, f.messages)
	return cp
}

func (f *fakeDesk) Toggles() []toggleCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]toggleCall, len(f.toggles))
	copy(cp, f.toggles)
	return cp
}

// testEnv bundles a connector with its fakes.
type testEnv struct {
	c     *Connector
	msgr  *fakeMessenger
	desk  *fakeDesk
	store store.Store
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	cfg := &Config{
		Telegram: TelegramConfig{Token: "123:abc", ChatID: 100},
		Chatwoot: ChatwootConfig{BaseURL: "https://cw.test", AccessToken: "cw-token", AccountID: 7},
	}
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	env := &testEnv{
		msgr:  newFakeMessenger(),
		desk:  newFakeDesk(),
		store: store.NewMemory(),
	}
	env.c = New(cfg, env.msgr, env.desk, env.store, zerolog.Nop())
	t.Cleanup(func() {
		_ = env.c.Stop(context.Background())
		_ = env.store.Close()
	})
	return env
}

// wait blocks until all background event handling is done.
func (e *testEnv) wait() {
	e.c.inflight.Wait()
}

func (e *testEnv) record(t *testing.T, messageID int) *store.Message {
	t.Helper()
	rec, err := e.store.GetMessage(context.Background(), messageID)
	if err != nil {
		t.Fatalf("GetMessage(%d): %v", messageID, err)
	}
	return rec
}

// fileServer serves canned files and records request headers.
type fileServer struct {
	*httptest.Server

	mu      sync.Mutex
	headers []http.Header
	files   map[string]servedFile
}

type servedFile struct {
	Status      int
	ContentType string
	Body        []byte
	// ContentLength overrides the header; the body is not sent when set.
	ContentLength int64
}

func newFileServer(t *testing.T, files map[string]servedFile) *fileServer {
	t.Helper()
	fs := &fileServer{files: files}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fileServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	fs.headers = append(fs.headers, r.Header.Clone())
	f, ok := fs.files[r.URL.Path]
	fs.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if f.ContentType != "" {
		w.Header().Set("Content-Type", f.ContentType)
	}
	if f.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(f.ContentLength, 10))
		w.WriteHeader(http.StatusOK)
		return
	}
	status := f.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(f.Body)
}

func (fs *fileServer) Headers() []http.Header {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cp := make([]http.Header, len(fs.headers))
	copy(cp, fs.headers)
	return cp
}

func (fs *fileServer) Requests() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.headers)
}
