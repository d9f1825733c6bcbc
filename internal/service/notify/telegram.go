package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"FinLearn/internal/domain/models"
	"FinLearn/pkg/logger"
)

// sender is the slice of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends trade and training alerts to a chat.
type Telegram struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	log            *logger.Logger
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, log *logger.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newTelegram(bot, chatID, maxRetries, retryDelayBase, log)
}

func newTelegram(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration, log *logger.Logger) (*Telegram, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Telegram{bot: bot, chatID: id, maxRetries: maxRetries, retryDelayBase: retryDelayBase, log: log}, nil
}

func (t *Telegram) NotifyTrade(ctx context.Context, res models.ExecutionResult) error {
	return t.send(ctx, FormatTrade(res))
}

func (t *Telegram) NotifyTrainingFailure(ctx context.Context, tier int, slot models.ModelSlot, err error) error {
	return t.send(ctx, FormatTrainingFailure(tier, slot, err))
}

// send delivers a MarkdownV2 message with linear-backoff retry.
func (t *Telegram) send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if _, err := t.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		t.log.Warn("telegram send failed", logger.Int("attempt", i+1), logger.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", t.maxRetries, lastErr)
}

// FormatTrade renders an executed (or rejected) intent.
func FormatTrade(res models.ExecutionResult) string {
	in := res.Intent
	var b strings.Builder
	if !in.Approved {
		fmt.Fprintf(&b, "🛑 *Trade rejected* %s %s\n", esc(string(in.Side)), esc(in.Symbol))
		fmt.Fprintf(&b, "Reason: %s\n", esc(in.RejectionReason))
		return b.String()
	}
	if res.Order != nil && !res.Order.Success {
		fmt.Fprintf(&b, "⚠️ *Order failed* %s %s\n", esc(string(in.Side)), esc(in.Symbol))
		fmt.Fprintf(&b, "Error: %s\n", esc(res.Order.Error))
		return b.String()
	}
	fmt.Fprintf(&b, "✅ *%s %s*\n", esc(string(in.Side)), esc(in.Symbol))
	fmt.Fprintf(&b, "Notional: %s\n", esc(strconv.FormatFloat(in.Notional, 'f', 2, 64)))
	price := in.EntryPrice
	if res.Order != nil && res.Order.FillPrice > 0 {
		price = res.Order.FillPrice
	}
	fmt.Fprintf(&b, "Price: %s\n", esc(strconv.FormatFloat(price, 'f', 2, 64)))
	fmt.Fprintf(&b, "SL/TP: %s / %s\n",
		esc(strconv.FormatFloat(in.StopLoss, 'f', 2, 64)),
		esc(strconv.FormatFloat(in.TakeProfit, 'f', 2, 64)))
	fmt.Fprintf(&b, "Confidence: %s", esc(strconv.FormatFloat(in.Confidence*100, 'f', 1, 64)+"%"))
	return b.String()
}

// FormatTrainingFailure renders a slot training failure.
func FormatTrainingFailure(tier int, slot models.ModelSlot, err error) string {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return fmt.Sprintf("⚠️ *Training failed* tier %d slot `%s`\n`%s`", tier, esc(string(slot)), esc(reason))
}

// esc escapes text for MarkdownV2.
func esc(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}
