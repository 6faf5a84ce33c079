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
	"github.com/shopspring/decimal"
)

// Notification describes an upcoming issuance change for one deployment.
type Notification struct {
	ChainID         int64
	ProjectID       int64
	TokenSymbol     string
	ChangeType      string
	ChangeAt        time.Time
	Now             time.Time
	CurrentIssuance decimal.Decimal
	NextIssuance    decimal.Decimal
	ReservedPercent *int64
	ActiveStage     *int
	NextStage       *int
	Channels        []string
	AdditionalMsg   string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
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

// Notify sends the rendered notification via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().
		Int64("chain_id", note.ChainID).
		Int64("project_id", note.ProjectID).
		Str("change_type", note.ChangeType).
		Time("change_at", note.ChangeAt).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert sent (telegram)")
	return nil
}

// Multi fans a notification out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []string
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(errs, "; "))
	}
	return nil
}

func renderMessage(note Notification) string {
	name := fmt.Sprintf("project %d", note.ProjectID)
	if note.TokenSymbol != "" {
		name = fmt.Sprintf("%s (project %d)", note.TokenSymbol, note.ProjectID)
	}

	builder := strings.Builder{}
	builder.WriteString("[Issuance Change]\n")
	builder.WriteString(fmt.Sprintf("Project: %s on chain %d\n", name, note.ChainID))
	builder.WriteString(fmt.Sprintf("Change: %s at %s UTC", describeChange(note), note.ChangeAt.UTC().Format(time.RFC3339)))
	if !note.Now.IsZero() && note.ChangeAt.After(note.Now) {
		builder.WriteString(fmt.Sprintf(" (in %s)", note.ChangeAt.Sub(note.Now).Round(time.Minute)))
	}
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Issuance: %s -> %s tokens per unit\n", note.CurrentIssuance.StringFixed(4), note.NextIssuance.StringFixed(4)))
	if note.CurrentIssuance.IsPositive() && note.NextIssuance.IsPositive() {
		change := note.NextIssuance.Sub(note.CurrentIssuance).Div(note.CurrentIssuance).Mul(decimal.NewFromInt(100))
		builder.WriteString(fmt.Sprintf("Delta: %s%%\n", change.StringFixed(2)))
	}
	if note.ReservedPercent != nil {
		builder.WriteString(fmt.Sprintf("Reserved: %s%%\n", decimal.New(*note.ReservedPercent, -2).StringFixed(2)))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func describeChange(note Notification) string {
	switch note.ChangeType {
	case "cut":
		if note.ActiveStage != nil {
			return fmt.Sprintf("weight cut in stage %d", *note.ActiveStage)
		}
		return "weight cut"
	case "stage":
		if note.NextStage != nil {
			return fmt.Sprintf("stage %d begins", *note.NextStage)
		}
		return "new stage"
	default:
		return "change"
	}
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = Multi(nil)
)
