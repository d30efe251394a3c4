package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装一次面板推送的内容。
type Notification struct {
	Panel           string
	Title           string
	CollectedAt     time.Time
	Retained        int
	Total           int
	CoveragePct     decimal.Decimal
	CoverageWarning bool
	FromCache       bool
	Body            string
	Channels        []string
}

// Notifier 定义推送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 推送器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送报告。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id":    n.chatID,
		"text":       renderMessage(note),
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("panel", note.Panel).
		Bool("coverage_warning", note.CoverageWarning).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("报告已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("<b>[%s] %s</b>\n", html.EscapeString(note.Panel), html.EscapeString(note.Title)))
	if !note.CollectedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Collected: %s UTC\n", note.CollectedAt.UTC().Format(time.RFC3339)))
	}
	builder.WriteString(fmt.Sprintf("Coverage: %d/%d (%s%%)\n", note.Retained, note.Total, note.CoveragePct.StringFixed(1)))
	if note.CoverageWarning {
		builder.WriteString("Warning: coverage below threshold, data is incomplete\n")
	}
	if note.FromCache {
		builder.WriteString("Source: cache\n")
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.Body != "" {
		builder.WriteString("<pre>")
		builder.WriteString(html.EscapeString(note.Body))
		builder.WriteString("</pre>")
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
