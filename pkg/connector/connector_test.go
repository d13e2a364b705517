// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const webhookBody = `{"event":"message_created","id":11,"message_type":"incoming","content":"Hi",
	"conversation":{"id":42},"account":{"id":7},"sender":{"name":"Ann"}}`

func TestHandleWebhook_Accepted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(webhookBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.c.HandleWebhook(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"ok":true}` {
		t.Errorf("body: got %q", got)
	}
	env.wait()
	if n := len(env.msgr.Sent()); n != 1 {
		t.Errorf("expected the event to be relayed once, got %d messages", n)
	}
}

func TestHandleWebhook_IgnoredEventStillAcknowledged(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(`{"event":"conversation_status_changed","id":42}`))
	w := httptest.NewRecorder()
	env.c.HandleWebhook(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	env.wait()
	if n := env.msgr.callCount(); n != 0 {
		t.Errorf("expected zero Telegram calls, got %d", n)
	}
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	w := httptest.NewRecorder()
	env.c.HandleWebhook(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleWebhook_InvalidJSON(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.c.HandleWebhook(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusBadRequest)
	}
	env.wait()
	if n := env.msgr.callCount(); n != 0 {
		t.Errorf("expected zero Telegram calls, got %d", n)
	}
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	body := `{"event":"message_created","content":"` + strings.Repeat("x", maxWebhookBodySize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	env.c.HandleWebhook(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleWebhook_Secret(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Webhook.Secret = "s3cret"
	})

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"missing token", "/webhook", http.StatusUnauthorized},
		{"wrong token", "/webhook?token=nope", http.StatusUnauthorized},
		{"valid token", "/webhook?token=s3cret", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader(webhookBody))
			w := httptest.NewRecorder()
			env.c.HandleWebhook(w, req)
			if w.Code != tc.want {
				t.Errorf("status: got %d, want %d", w.Code, tc.want)
			}
		})
	}
	env.wait()
	if n := len(env.msgr.Sent()); n != 1 {
		t.Errorf("only the authorised delivery should be relayed, got %d messages", n)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	w := httptest.NewRecorder()
	env.c.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("health: got %d %q", w.Code, w.Body.String())
	}
}

func TestStop_WaitsForInflight(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	release := make(chan struct{})
	finished := make(chan struct{})
	env.c.track("slow", func(context.Context) {
		<-release
		close(finished)
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	if err := env.c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-finished:
	default:
		t.Error("Stop returned before the in-flight task finished")
	}
}

func TestStop_DeadlineCancelsTasks(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	cancelled := make(chan struct{})
	env.c.track("stuck", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := env.c.Stop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop: got %v, want deadline exceeded", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("stuck task was not cancelled")
	}
}

func TestTrack_RecoversPanic(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.c.track("boom", func(context.Context) {
		panic("boom")
	})
	env.wait()
}

func TestRegisterMetrics(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	reg := prometheus.NewRegistry()
	if err := env.c.RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if err := env.c.RegisterMetrics(reg); err == nil {
		t.Error("registering twice should fail")
	}

	env.c.HandleChatwootEvent(incomingEvent(1, 42, "Hi"))
	env.wait()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var accepted float64
	for _, mf := range families {
		if mf.GetName() != "cwtg_chatwoot_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == "accepted" {
					accepted = m.GetCounter().GetValue()
				}
			}
		}
	}
	if accepted != 1 {
		t.Errorf("accepted events: got %v, want 1", accepted)
	}
}
