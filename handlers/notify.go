// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/goeswatch/goeswatch/catalog"
)

// WebhookPayload is posted to the configured webhook on job terminal.
type WebhookPayload struct {
	JobID   string `json:"job_id"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Notifier writes notification rows and fires the optional outbound
// webhook. Every path is best-effort: failures are logged, never
// propagated into the job.
type Notifier struct {
	log    *zap.Logger
	db     catalog.DB
	client *http.Client
}

// NewNotifier creates a notifier.
func NewNotifier(log *zap.Logger, db catalog.DB) *Notifier {
	return &Notifier{
		log:    log,
		db:     db,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify records a notification row.
func (n *Notifier) Notify(ctx context.Context, notifyType catalog.NotificationType, message string) {
	if n == nil {
		return
	}
	err := n.db.Notifications().Add(ctx, &catalog.Notification{Type: notifyType, Message: message})
	if err != nil {
		n.log.Warn("notification write failed", zap.Error(err))
	}
}

// Webhook posts the payload to the webhook_url setting, when set.
func (n *Notifier) Webhook(ctx context.Context, payload WebhookPayload) {
	if n == nil {
		return
	}
	url, ok, err := n.db.Settings().Get(ctx, catalog.SettingWebhookURL)
	if err != nil {
		n.log.Warn("webhook setting read failed", zap.Error(err))
		return
	}
	if !ok || url == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn("webhook payload marshal failed", zap.Error(err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.log.Warn("webhook request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("webhook post failed", zap.String("url", url), zap.Error(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		n.log.Warn("webhook rejected", zap.String("url", url), zap.Int("status", resp.StatusCode))
	}
}
