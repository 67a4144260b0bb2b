package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"sherlog-detector/internal/model"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds the bot credentials and message format
type TelegramConfig struct {
	BotToken        string
	ChatID          string
	ParseMode       string
	MessageTemplate string
	// APIURL overrides the Bot API base URL
	APIURL  string
	Timeout time.Duration
	Retries int
}

type TelegramNotifier struct {
	cfg             TelegramConfig
	messageTemplate *template.Template
	client          *http.Client
	retryDelay      time.Duration
	logger          *logrus.Logger
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// NewTelegramNotifier fails only on an unparsable message template
func NewTelegramNotifier(cfg TelegramConfig, logger *logrus.Logger) (*TelegramNotifier, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultTelegramAPI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}

	tn := &TelegramNotifier{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		retryDelay: time.Second,
		logger:     logger,
	}

	if strings.TrimSpace(cfg.MessageTemplate) != "" {
		funcMap := template.FuncMap{
			"formatTime": func(t time.Time, layout string) string {
				return t.Format(layout)
			},
		}
		tmpl, err := template.New("telegram_message").Funcs(funcMap).Parse(cfg.MessageTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Telegram message template: %w", err)
		}
		tn.messageTemplate = tmpl
	}
	return tn, nil
}

func (tn *TelegramNotifier) SendAlert(alert model.Alert) error {
	message := tn.formatAlertMessage(alert)

	var lastErr error
	for i := 0; i < tn.cfg.Retries; i++ {
		if lastErr = tn.sendMessage(message); lastErr == nil {
			return nil
		}
		tn.logger.Warnf("Failed to send alert to Telegram (attempt %d/%d): %v", i+1, tn.cfg.Retries, lastErr)
		if i < tn.cfg.Retries-1 {
			time.Sleep(time.Duration(i+1) * tn.retryDelay)
		}
	}
	return fmt.Errorf("failed to send alert after %d attempts: %w", tn.cfg.Retries, lastErr)
}

func (tn *TelegramNotifier) formatAlertMessage(alert model.Alert) string {
	if tn.messageTemplate != nil {
		var buf bytes.Buffer
		if err := tn.messageTemplate.Execute(&buf, alert); err != nil {
			tn.logger.Warnf("Failed to execute message template: %v, using default format", err)
		} else {
			return buf.String()
		}
	}

	timestamp := "unknown"
	if !alert.Timestamp.IsZero() {
		timestamp = alert.Timestamp.Format("2006-01-02 15:04:05")
	}
	target, confidence := "", 0.0
	if alert.Verdict != nil {
		target, confidence = alert.Verdict.Target, alert.Verdict.Confidence
	}

	return fmt.Sprintf("ALERT FIRING: Web Attack Detected\n\n"+
		"attack_type: %s\n"+
		"time: %s\n"+
		"severity: %s\n"+
		"source: %s\n"+
		"confidence: %.2f\n"+
		"target: %s",
		alert.Type,
		timestamp,
		alert.Severity,
		alert.Source,
		confidence,
		target)
}

func (tn *TelegramNotifier) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(tn.cfg.APIURL, "/"), tn.cfg.BotToken)

	// Markdown modes choke on payload characters, send those as plain text
	parseMode := ""
	if tn.cfg.ParseMode != "" && tn.cfg.ParseMode != "Markdown" && tn.cfg.ParseMode != "MarkdownV2" {
		parseMode = tn.cfg.ParseMode
	}

	body, err := json.Marshal(telegramMessage{
		ChatID:    tn.cfg.ChatID,
		Text:      text,
		ParseMode: parseMode,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var telegramResp telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&telegramResp); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if !telegramResp.OK {
		return fmt.Errorf("telegram API error: %s", telegramResp.Description)
	}

	tn.logger.Debugf("Alert sent to Telegram chat %s", tn.cfg.ChatID)
	return nil
}

// SendTestMessage checks the bot credentials
func (tn *TelegramNotifier) SendTestMessage() error {
	return tn.sendMessage("Test Message\n\nSherlog Detector is working correctly!")
}
