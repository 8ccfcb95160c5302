package mlops

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPredictor struct {
	minutes float64
	delay   time.Duration
}

func (p stubPredictor) Predict(Features) (float64, float64) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.minutes, 0.8
}

type stubTrainer struct {
	candidate *Candidate
	err       error
	block     time.Duration
}

func (t *stubTrainer) Train(ctx context.Context) (*Candidate, error) {
	if t.block > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.block):
		}
	}
	if t.err != nil {
		return nil, t.err
	}
	return t.candidate, nil
}

func activeHandle() *ModelHandle {
	return &ModelHandle{
		Version:   "v-active",
		Metrics:   Metrics{RMSE: 10, MAE: 8, TrainedAt: time.Now()},
		Predictor: stubPredictor{minutes: 12},
	}
}

func candidateWith(rmse, mae, drift float64) *Candidate {
	return &Candidate{Handle: &ModelHandle{
		Version:   "v-candidate",
		Metrics:   Metrics{RMSE: rmse, MAE: mae, DriftScore: drift, TrainedAt: time.Now()},
		Predictor: stubPredictor{minutes: 9},
	}}
}

func TestRetrainPromotesBetterCandidate(t *testing.T) {
	trainer := &stubTrainer{candidate: candidateWith(8, 6, 0.1)}
	o := NewOrchestrator(DefaultConfig(), trainer, nil, activeHandle())

	// A handle that never passed a gate must not report an accuracy pass.
	assert.False(t, o.Metrics().AccuracyCheck)

	result := o.Retrain(context.Background())
	require.Equal(t, StatusPromoted, result.Status)
	assert.Equal(t, "v-candidate", result.Version)

	// Promotion is all-or-nothing: the metrics view is one snapshot of the
	// candidate, never a mix.
	view := o.Metrics()
	assert.Equal(t, "v-candidate", view.ModelVersion)
	assert.Equal(t, 8.0, view.RMSE)
	assert.Equal(t, 6.0, view.MAE)
	assert.True(t, view.AccuracyCheck, "promotion records the accuracy gate result")

	minutes, _ := o.Active().Predictor.Predict(Features{})
	assert.Equal(t, 9.0, minutes)
}

func TestRetrainRejectsAccuracyRegression(t *testing.T) {
	// Candidate RMSE is 20% worse than active with a 10% tolerance.
	trainer := &stubTrainer{candidate: candidateWith(12, 8, 0.1)}
	cfg := DefaultConfig()
	cfg.AccuracyTolerance = 0.10
	o := NewOrchestrator(cfg, trainer, nil, activeHandle())

	result := o.Retrain(context.Background())
	require.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, GateAccuracy, result.Gate)

	// Active model untouched, rejected candidate invisible everywhere.
	assert.Equal(t, "v-active", o.Metrics().ModelVersion)
	minutes, _ := o.Active().Predictor.Predict(Features{})
	assert.Equal(t, 12.0, minutes)
}

func TestRetrainRejectsDrift(t *testing.T) {
	trainer := &stubTrainer{candidate: candidateWith(8, 6, 0.9)}
	o := NewOrchestrator(DefaultConfig(), trainer, nil, activeHandle())

	result := o.Retrain(context.Background())
	require.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, GateDrift, result.Gate)
	assert.Equal(t, "v-active", result.Version)
}

func TestRetrainRejectsSlowCandidate(t *testing.T) {
	cand := candidateWith(8, 6, 0.1)
	cand.Handle.Predictor = stubPredictor{minutes: 9, delay: 2 * time.Millisecond}
	trainer := &stubTrainer{candidate: cand}
	cfg := DefaultConfig()
	cfg.MaxLatencyMs = 1
	cfg.LatencyProbes = 5
	o := NewOrchestrator(cfg, trainer, nil, activeHandle())

	result := o.Retrain(context.Background())
	require.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, GateLatency, result.Gate)
	assert.Equal(t, "v-active", o.Metrics().ModelVersion)
}

func TestRetrainReportsTrainingFailure(t *testing.T) {
	trainer := &stubTrainer{err: errors.New("no data")}
	o := NewOrchestrator(DefaultConfig(), trainer, nil, activeHandle())

	result := o.Retrain(context.Background())
	require.Equal(t, StatusTrainingFailed, result.Status)
	assert.Contains(t, result.Message, "no data")
	assert.Equal(t, "v-active", o.Metrics().ModelVersion)
}

func TestRetrainCancellation(t *testing.T) {
	trainer := &stubTrainer{candidate: candidateWith(8, 6, 0.1), block: time.Second}
	o := NewOrchestrator(DefaultConfig(), trainer, nil, activeHandle())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	result := o.Retrain(ctx)
	require.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, GateCancelled, result.Gate)
	assert.Equal(t, "v-active", o.Metrics().ModelVersion)
}

func TestRollbackRestoresPreviousModel(t *testing.T) {
	trainer := &stubTrainer{candidate: candidateWith(8, 6, 0.1)}
	o := NewOrchestrator(DefaultConfig(), trainer, nil, activeHandle())

	_, err := o.Rollback()
	assert.Error(t, err, "nothing to roll back to before the first promotion")

	result := o.Retrain(context.Background())
	require.Equal(t, StatusPromoted, result.Status)

	version, err := o.Rollback()
	require.NoError(t, err)
	assert.Equal(t, "v-active", version)
	assert.Equal(t, "v-active", o.Metrics().ModelVersion)
}

func TestPredictNeverBlocksDuringRetrain(t *testing.T) {
	trainer := &stubTrainer{candidate: candidateWith(8, 6, 0.1), block: 200 * time.Millisecond}
	o := NewOrchestrator(DefaultConfig(), trainer, nil, activeHandle())

	done := make(chan RetrainResult, 1)
	go func() { done <- o.Retrain(context.Background()) }()

	// Predictions against the still-active model while training runs.
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		minutes, _ := o.Active().Predictor.Predict(Features{})
		assert.Equal(t, 12.0, minutes)
	}

	result := <-done
	assert.Equal(t, StatusPromoted, result.Status)
}
