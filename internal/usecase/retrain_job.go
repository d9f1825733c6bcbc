package usecase

import (
	"context"
	"errors"
	"fmt"

	"FinLearn/internal/domain/models"
	"FinLearn/pkg/logger"
	"FinLearn/pkg/queue"
)

// TierTrainer is the scheduler surface the retrain job drives.
type TierTrainer interface {
	LoadTrainingSet(ctx context.Context) (*models.TrainingSet, error)
	TrainTier(ctx context.Context, n int, data *models.TrainingSet, force bool) (models.TierResult, error)
}

// RetrainJob consumes manual retrain requests from the queue.
type RetrainJob struct {
	trainer TierTrainer
	log     *logger.Logger
}

func NewRetrainJob(trainer TierTrainer, log *logger.Logger) *RetrainJob {
	if log == nil {
		log = logger.Nop()
	}
	return &RetrainJob{trainer: trainer, log: log}
}

func (j *RetrainJob) Name() string { return "retrain" }
func (j *RetrainJob) Type() string { return MsgTypeRetrain }

// Handle trains the requested tier. A busy tier is not an error; the request is dropped.
func (j *RetrainJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[RetrainPayload](payload)
	if err != nil {
		return err
	}
	data, err := j.trainer.LoadTrainingSet(ctx)
	if err != nil {
		return fmt.Errorf("load training set: %w", err)
	}
	res, err := j.trainer.TrainTier(ctx, p.Tier, data, p.Force)
	if errors.Is(err, models.ErrTierBusy) {
		j.log.Info("retrain skipped, tier busy", logger.Int("tier", p.Tier))
		return nil
	}
	if err != nil {
		return err
	}
	failed := 0
	for _, s := range res.Slots {
		if !s.OK() {
			failed++
		}
	}
	j.log.Info("manual retrain finished",
		logger.Int("tier", p.Tier),
		logger.Bool("fired", res.Fired),
		logger.String("skipped", res.Skipped),
		logger.Int("slots", len(res.Slots)),
		logger.Int("failed", failed),
	)
	return nil
}

var _ queue.Job = (*RetrainJob)(nil)
