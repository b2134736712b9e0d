// Package alerting posts short run summaries to chat channels.
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

	"bpi-collector/internal/report"
	"bpi-collector/internal/stats"
)

// RunSummary describes a finished collection run.
type RunSummary struct {
	RunID         string
	Started       time.Time
	Finished      time.Time
	Samples       int
	Attempts      int
	Stats         []stats.PriceStatistics
	MailTried     bool
	MailSent      bool
	Subject       string
	AdditionalMsg string
}

// Notifier delivers run summaries.
type Notifier interface {
	Notify(ctx context.Context, summary RunSummary) error
}

// TelegramNotifier pushes summaries through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify calls sendMessage with the rendered summary.
func (n *TelegramNotifier) Notify(ctx context.Context, summary RunSummary) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderSummary(summary),
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("run_id", summary.RunID).
		Int("samples", summary.Samples).
		Msg("run summary sent (telegram)")
	return nil
}

// RenderSummary formats summary as plain text.
func RenderSummary(summary RunSummary) string {
	builder := strings.Builder{}
	builder.WriteString("[BPI Collector]\n")
	if summary.RunID != "" {
		builder.WriteString(fmt.Sprintf("Run: %s\n", summary.RunID))
	}
	if !summary.Started.IsZero() {
		builder.WriteString(fmt.Sprintf("Started: %s UTC\n", summary.Started.UTC().Format(time.RFC3339)))
	}
	if !summary.Started.IsZero() && !summary.Finished.IsZero() {
		builder.WriteString(fmt.Sprintf("Duration: %s\n", report.FormatDuration(summary.Finished.Sub(summary.Started))))
	}
	builder.WriteString(fmt.Sprintf("Samples: %d/%d\n", summary.Samples, summary.Attempts))
	for _, st := range summary.Stats {
		if st.Empty() {
			continue
		}
		builder.WriteString(fmt.Sprintf("%s: %s (min %s, max %s, %s)\n",
			st.Pair, report.Money(st.Current), report.Money(st.Min), report.Money(st.Max), report.ChangeText(st.ChangePct)))
	}
	if summary.MailTried {
		status := "sent"
		if !summary.MailSent {
			status = "failed"
		}
		builder.WriteString(fmt.Sprintf("Mail: %s", status))
		if summary.Subject != "" {
			builder.WriteString(fmt.Sprintf(" (%s)", summary.Subject))
		}
		builder.WriteString("\n")
	}
	if summary.AdditionalMsg != "" {
		builder.WriteString(summary.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
