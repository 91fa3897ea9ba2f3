// Package notify delivers operator alerts. Every outbound message passes
// through secret scrubbing first, so a leaked token in an error string never
// reaches a chat channel or a log line.
package notify

import (
	"context"
	"fmt"
	"regexp"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	secretAssignmentRe = regexp.MustCompile(`(?i)\b(token|api[_-]?key|password|secret|authorization)\b\s*[:=]\s*([^\s,;]+)`)
	bearerTokenRe      = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._\-]+\b`)
)

const scrubLimit = 400

// Scrub masks credential-looking substrings in text.
func Scrub(text string) string {
	cleaned := secretAssignmentRe.ReplaceAllString(text, "$1=[REDACTED]")
	return bearerTokenRe.ReplaceAllString(cleaned, "Bearer [REDACTED]")
}

// ScrubError masks secrets in an error message and truncates it to a length
// safe for status rows and chat messages.
func ScrubError(err error) string {
	if err == nil {
		return ""
	}
	cleaned := Scrub(err.Error())
	if len(cleaned) > scrubLimit {
		cleaned = cleaned[:scrubLimit]
	}
	return cleaned
}

// Notifier sends one operator-facing message.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Telegram broadcasts to every allowed chat ID via the Bot API.
type Telegram struct {
	client  *resty.Client
	token   string
	chatIDs []int64
	logger  *zap.Logger
}

// NewTelegram returns nil when token or recipients are missing; a nil
// Telegram silently drops messages.
func NewTelegram(token string, chatIDs []int64, logger *zap.Logger) *Telegram {
	if token == "" || len(chatIDs) == 0 {
		if logger != nil {
			logger.Info("notifier disabled: missing token or allowed users")
		}
		return nil
	}
	return &Telegram{
		client:  resty.New(),
		token:   token,
		chatIDs: chatIDs,
		logger:  logger,
	}
}

func (t *Telegram) Send(ctx context.Context, message string) error {
	if t == nil {
		return nil
	}
	scrubbed := Scrub(message)
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	sent := 0
	var lastErr error
	for _, chatID := range t.chatIDs {
		resp, err := t.client.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{
				"chat_id":    chatID,
				"text":       scrubbed,
				"parse_mode": "Markdown",
			}).
			Post(url)
		if err != nil {
			lastErr = err
			t.logger.Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
			continue
		}
		if resp.StatusCode() != 200 {
			lastErr = fmt.Errorf("telegram send status %d", resp.StatusCode())
			t.logger.Warn("telegram send rejected",
				zap.Int64("chat_id", chatID),
				zap.Int("status", resp.StatusCode()))
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// LogNotifier writes messages to the structured log. It is the fallback when
// no chat channel is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l *LogNotifier) Send(_ context.Context, message string) error {
	l.Logger.Info("operator alert", zap.String("message", Scrub(message)))
	return nil
}
