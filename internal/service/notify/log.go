package notify

import (
	"context"

	"FinLearn/internal/domain/models"
	"FinLearn/pkg/logger"
)

// Log writes notifications to the structured log; used when no bot token is configured.
type Log struct {
	log *logger.Logger
}

func NewLog(log *logger.Logger) *Log {
	if log == nil {
		log = logger.Nop()
	}
	return &Log{log: log}
}

func (n *Log) NotifyTrade(_ context.Context, res models.ExecutionResult) error {
	n.log.Info("trade notification",
		logger.String("intent_id", res.Intent.ID),
		logger.String("symbol", res.Intent.Symbol),
		logger.String("side", string(res.Intent.Side)),
		logger.Bool("approved", res.Intent.Approved),
		logger.String("reason", res.Intent.RejectionReason),
	)
	return nil
}

func (n *Log) NotifyTrainingFailure(_ context.Context, tier int, slot models.ModelSlot, err error) error {
	n.log.Warn("training failure notification",
		logger.Int("tier", tier),
		logger.String("slot", string(slot)),
		logger.Error(err),
	)
	return nil
}
