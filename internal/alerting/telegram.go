package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TelegramSink pushes alert events through the Telegram Bot API.
type TelegramSink struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramSink constructs a Telegram-backed sink.
func NewTelegramSink(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramSink{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Emit calls the sendMessage API with a rendered text message.
func (t *TelegramSink) Emit(ctx context.Context, event Event) error {
	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    renderMessage(event),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	t.logger.Info().Str("kind", event.Kind).Msg("alert delivered via telegram")
	return nil
}

func renderMessage(event Event) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[balancer %s]\n", event.Kind))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", event.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Severity: %s\n", event.Severity))
	builder.WriteString(event.Message)
	return builder.String()
}

var _ Sink = (*TelegramSink)(nil)
