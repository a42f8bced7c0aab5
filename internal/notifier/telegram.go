// Package notifier sends refresh reports to Telegram and answers chat commands.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTelegramURL is the Bot API root.
const DefaultTelegramURL = "https://api.telegram.org"

// MaxMessageLen is the Bot API limit on one message, in characters.
const MaxMessageLen = 4096

// RetryPolicy controls how Report retries a failed message.
type RetryPolicy struct {
	Attempts int           // total tries per message part
	Backoff  time.Duration // first wait, doubled on every retry
	MaxWait  time.Duration // cap on any single wait, retry_after included
}

// DefaultRetryPolicy suits the daily run report: a few tries within about a minute.
var DefaultRetryPolicy = RetryPolicy{Attempts: 4, Backoff: time.Second, MaxWait: 30 * time.Second}

// APIError is a non-ok Bot API response.
type APIError struct {
	Status      int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error: status %d: %s", e.Status, e.Description)
}

// Temporary reports whether resending the same message may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func (e *APIError) badMarkup() bool {
	return e.Status == http.StatusBadRequest && strings.Contains(e.Description, "can't parse entities")
}

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	BaseURL  string
	BotToken string
	ChatID   string
	Client   *http.Client
	Retry    RetryPolicy
}

// NewTelegramNotifier creates a notifier with optional proxy support.
// It returns nil when the bot token or chat id is missing.
func NewTelegramNotifier(botToken, chatID, proxyURL string) *TelegramNotifier {
	if botToken == "" || chatID == "" {
		return nil
	}
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &TelegramNotifier{
		BaseURL:  DefaultTelegramURL,
		BotToken: botToken,
		ChatID:   chatID,
		Client:   &http.Client{Timeout: 30 * time.Second, Transport: transport},
		Retry:    DefaultRetryPolicy,
	}
}

func (t *TelegramNotifier) method(name string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.BaseURL, t.BotToken, name)
}

// Send delivers text once, split into parts that fit a message. A part whose HTML
// the API rejects is resent as plain text, since reports embed upstream error text.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	for _, part := range SplitMessage(text, MaxMessageLen) {
		if err := t.sendPart(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

// Report delivers a run report, retrying each part on rate limits, server errors and
// network failures. Other API errors (blocked bot, unknown chat) fail at once.
func (t *TelegramNotifier) Report(ctx context.Context, text string) error {
	policy := t.Retry
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	for i, part := range SplitMessage(text, MaxMessageLen) {
		if err := t.reportPart(ctx, part, policy); err != nil {
			return fmt.Errorf("report part %d: %w", i+1, err)
		}
	}
	return nil
}

func (t *TelegramNotifier) reportPart(ctx context.Context, part string, policy RetryPolicy) error {
	backoff := policy.Backoff
	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err = t.sendPart(ctx, part); err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return err
		}
		if attempt == policy.Attempts {
			break
		}
		d := backoff
		if apiErr != nil && apiErr.RetryAfter > 0 {
			d = apiErr.RetryAfter
		}
		if policy.MaxWait > 0 && d > policy.MaxWait {
			d = policy.MaxWait
		}
		log.Printf("[WARN] Telegram send failed (attempt %d/%d): %v, retrying in %v", attempt, policy.Attempts, err, d)
		if werr := wait(ctx, d); werr != nil {
			return werr
		}
		backoff *= 2
	}
	return fmt.Errorf("all %d attempts failed: %w", policy.Attempts, err)
}

func (t *TelegramNotifier) sendPart(ctx context.Context, part string) error {
	err := t.sendMessage(ctx, part, true)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.badMarkup() {
		log.Printf("[WARN] Telegram rejected markup, resending as plain text: %s", apiErr.Description)
		return t.sendMessage(ctx, part, false)
	}
	return err
}

func (t *TelegramNotifier) sendMessage(ctx context.Context, text string, html bool) error {
	payload := map[string]string{
		"chat_id": t.ChatID,
		"text":    text,
	}
	if html {
		payload["parse_mode"] = "HTML"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.method("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return decodeAPIError(resp)
}

func decodeAPIError(resp *http.Response) error {
	respBody, _ := io.ReadAll(resp.Body)
	var envelope struct {
		Description string `json:"description"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if json.Unmarshal(respBody, &envelope) == nil && envelope.Description != "" {
		apiErr.Description = envelope.Description
		apiErr.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
	} else {
		apiErr.Description = strings.TrimSpace(string(respBody))
	}
	return apiErr
}

// SplitMessage cuts text into parts of at most limit characters, preferring line breaks.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curLen+n > limit {
			flush()
		}
		for n > limit {
			runes := []rune(line)
			parts = append(parts, string(runes[:limit]))
			line = string(runes[limit:])
			n -= limit
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return parts
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
