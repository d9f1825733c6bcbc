package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinLearn/internal/domain/models"
)

type fakeBot struct {
	fails int
	sent  []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.fails > 0 {
		f.fails--
		return tgbotapi.Message{}, errors.New("flood wait")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegramRetriesThenSends(t *testing.T) {
	bot := &fakeBot{fails: 2}
	n, err := newTelegram(bot, "42", 3, time.Millisecond, nil)
	require.NoError(t, err)

	err = n.NotifyTrainingFailure(context.Background(), 2, models.SlotGradientBoosted, errors.New("boom"))
	require.NoError(t, err)
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, bot.sent[0].ParseMode)
	assert.Contains(t, bot.sent[0].Text, "gradient\\_boosted")
}

func TestTelegramGivesUp(t *testing.T) {
	bot := &fakeBot{fails: 5}
	n, err := newTelegram(bot, "42", 2, time.Millisecond, nil)
	require.NoError(t, err)
	assert.Error(t, n.NotifyTrade(context.Background(), models.ExecutionResult{}))
}

func TestTelegramInvalidChat(t *testing.T) {
	_, err := newTelegram(&fakeBot{}, "not-a-number", 1, 0, nil)
	assert.Error(t, err)
}

func TestFormatTrade(t *testing.T) {
	filled := models.ExecutionResult{
		Intent: models.TradeIntent{
			Symbol: "BTCUSDT", Side: models.SignalBuy, Notional: 1000, EntryPrice: 50000,
			StopLoss: 47500, TakeProfit: 57500, Confidence: 0.8, Approved: true,
		},
		Order: &models.OrderResult{Success: true, FillPrice: 50025},
	}
	text := FormatTrade(filled)
	assert.True(t, strings.HasPrefix(text, "✅"))
	assert.Contains(t, text, "50025\\.00")
	assert.Contains(t, text, "47500\\.00 / 57500\\.00")

	rejected := models.ExecutionResult{Intent: models.TradeIntent{
		Symbol: "BTCUSDT", Side: models.SignalSell, RejectionReason: models.ReasonDailyLimit,
	}}
	assert.Contains(t, FormatTrade(rejected), "daily limit reached")
}
