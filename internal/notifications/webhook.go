/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhookPayload is the body POSTed to the notification endpoint.
type WebhookPayload struct {
	ID        string         `json:"id"`
	Template  Template       `json:"template"`
	UserID    string         `json:"user_id"`
	Methods   []string       `json:"methods"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// WebhookNotifier hands notifications to an external delivery service.
type WebhookNotifier struct {
	url        string
	secret     string
	client     *http.Client
	logger     zerolog.Logger
	maxElapsed time.Duration
}

// NewWebhookNotifier creates a notifier posting to url. An empty secret
// disables signing.
func NewWebhookNotifier(url, secret string, logger zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		secret:     secret,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "webhook_notifier").Logger(),
		maxElapsed: 30 * time.Second,
	}
}

// Notify implements Notifier. 5xx responses and transport errors are retried;
// 4xx responses are permanent.
func (n *WebhookNotifier) Notify(ctx context.Context, userID string, methods []string, template Template, data map[string]any) error {
	body, err := json.Marshal(WebhookPayload{
		ID:        uuid.NewString(),
		Template:  template,
		UserID:    userID,
		Methods:   methods,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = n.maxElapsed

	return backoff.Retry(func() error {
		return n.send(ctx, template, body)
	}, backoff.WithContext(policy, ctx))
}

func (n *WebhookNotifier) send(ctx context.Context, template Template, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Grimnir-Reserve-Notifier/1.0")
	req.Header.Set("X-Grimnir-Template", string(template))
	req.Header.Set("X-Grimnir-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if n.secret != "" {
		req.Header.Set("X-Grimnir-Signature", Sign(body, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Str("template", string(template)).Msg("notification delivery failed")
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("notification endpoint returned status %d", resp.StatusCode))
	}
}

// Sign creates the HMAC-SHA256 signature header value for body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
