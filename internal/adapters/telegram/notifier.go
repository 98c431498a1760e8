package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/adapters/config"
	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
	"github.com/omnifin/finsight/pkg/templates"
)

// Notifier sends alerts and reports to the configured chat
type Notifier struct {
	api      *tgbotapi.BotAPI
	cfg      *config.TelegramConfig
	renderer templates.Renderer
}

// NewNotifier creates new Telegram notifier
func NewNotifier(cfg *config.TelegramConfig, renderer templates.Renderer) (*Notifier, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot.Debug = false

	logger.Info("telegram notifier initialized",
		zap.String("bot_username", bot.Self.UserName),
	)

	return &Notifier{
		api:      bot,
		cfg:      cfg,
		renderer: renderer,
	}, nil
}

// SendSignalFlip notifies that an asset's signal changed stance
func (n *Notifier) SendSignalFlip(ctx context.Context, latest *models.LatestSignal, previous models.Signal) error {
	if !n.cfg.AlertOnSignalFlip {
		return nil
	}

	data := map[string]interface{}{
		"Symbol":   latest.Symbol,
		"Previous": string(previous),
		"Signal":   string(latest.Signal),
		"Price":    latest.Price,
		"Time":     latest.Timestamp.Format("2006-01-02 15:04 UTC"),
	}
	if latest.RSI != nil {
		data["RSI"] = *latest.RSI
	}
	if latest.MA7d != nil {
		data["MA7d"] = *latest.MA7d
	}

	text, err := n.renderer.ExecuteTemplate("signal_flip.tmpl", data)
	if err != nil {
		return fmt.Errorf("failed to render signal flip: %w", err)
	}

	return n.send(ctx, text)
}

// SendDailyReport delivers the rendered daily summary
func (n *Notifier) SendDailyReport(ctx context.Context, text string) error {
	return n.send(ctx, text)
}

func (n *Notifier) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.cfg.ChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	return nil
}
