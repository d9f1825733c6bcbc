package ensemble

import (
	"fmt"

	"FinLearn/internal/domain/models"

	"github.com/vmihailenco/msgpack/v5"
)

// persistedModel is the msgpack layout of a stored slot version.
type persistedModel struct {
	Arity      int                 `msgpack:"arity"`
	Normalizer *Normalizer         `msgpack:"normalizer"`
	Linear     *LogisticRegression `msgpack:"linear,omitempty"`
	Boosted    *GradientBoosted    `msgpack:"boosted,omitempty"`
	Sequence   *SequenceNet        `msgpack:"sequence,omitempty"`
}

func encodeState(st *SlotState) ([]byte, error) {
	pm := persistedModel{Arity: st.Arity, Normalizer: st.Normalizer}
	switch m := st.Model.(type) {
	case *LogisticRegression:
		pm.Linear = m
	case *GradientBoosted:
		pm.Boosted = m
	case *SequenceNet:
		pm.Sequence = m
	default:
		return nil, fmt.Errorf("unsupported model type %T", st.Model)
	}
	return msgpack.Marshal(&pm)
}

func decodeState(v models.ModelVersion) (*SlotState, error) {
	var pm persistedModel
	if err := msgpack.Unmarshal(v.Blob, &pm); err != nil {
		return nil, fmt.Errorf("decode %s v%d: %w", v.Slot, v.Version, err)
	}
	var m Model
	switch {
	case pm.Linear != nil:
		m = pm.Linear
	case pm.Boosted != nil:
		m = pm.Boosted
	case pm.Sequence != nil:
		m = pm.Sequence
	default:
		return nil, fmt.Errorf("decode %s v%d: no model payload", v.Slot, v.Version)
	}
	if pm.Normalizer == nil || pm.Arity <= 0 {
		return nil, fmt.Errorf("decode %s v%d: missing normalizer", v.Slot, v.Version)
	}
	return &SlotState{
		Slot:            v.Slot,
		Version:         v.Version,
		TrainedAt:       v.TrainedAt,
		Arity:           pm.Arity,
		Normalizer:      pm.Normalizer,
		Model:           m,
		Metrics:         v.Metrics,
		Hyperparameters: v.Hyperparameters,
		DataHash:        v.DataHash,
		RestoredFrom:    v.RestoredFrom,
	}, nil
}
