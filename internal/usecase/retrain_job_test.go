package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"FinLearn/internal/domain/models"
)

type fakeTrainer struct {
	loadErr  error
	trainErr error
	tier     int
	force    bool
	calls    int
}

func (f *fakeTrainer) LoadTrainingSet(context.Context) (*models.TrainingSet, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &models.TrainingSet{Symbol: "BTCUSDT"}, nil
}

func (f *fakeTrainer) TrainTier(_ context.Context, n int, _ *models.TrainingSet, force bool) (models.TierResult, error) {
	f.calls++
	f.tier, f.force = n, force
	if f.trainErr != nil {
		return models.TierResult{Tier: n}, f.trainErr
	}
	return models.TierResult{Tier: n, Fired: true, Slots: []models.SlotResult{{Slot: models.SlotFastLinear}}}, nil
}

func TestRetrainJobHandle(t *testing.T) {
	tr := &fakeTrainer{}
	job := NewRetrainJob(tr, nil)
	if job.Type() != MsgTypeRetrain {
		t.Fatalf("type = %q", job.Type())
	}

	// payloads arrive from redis as decoded JSON maps
	raw, _ := json.Marshal(RetrainPayload{Tier: 3, Force: true})
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatal(err)
	}
	if err := job.Handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if tr.calls != 1 || tr.tier != 3 || !tr.force {
		t.Fatalf("trainer got calls=%d tier=%d force=%v", tr.calls, tr.tier, tr.force)
	}
}

func TestRetrainJobBusyTierIsNotAnError(t *testing.T) {
	tr := &fakeTrainer{trainErr: models.ErrTierBusy}
	job := NewRetrainJob(tr, nil)
	if err := job.Handle(context.Background(), RetrainPayload{Tier: 1}); err != nil {
		t.Fatalf("busy tier returned %v", err)
	}
}

func TestRetrainJobErrors(t *testing.T) {
	boom := errors.New("boom")

	job := NewRetrainJob(&fakeTrainer{loadErr: boom}, nil)
	if err := job.Handle(context.Background(), RetrainPayload{Tier: 1}); !errors.Is(err, boom) {
		t.Fatalf("load error = %v", err)
	}

	job = NewRetrainJob(&fakeTrainer{trainErr: boom}, nil)
	if err := job.Handle(context.Background(), &RetrainPayload{Tier: 2}); !errors.Is(err, boom) {
		t.Fatalf("train error = %v", err)
	}

	if err := job.Handle(context.Background(), 42); err == nil {
		t.Fatal("expected payload error")
	}
}
