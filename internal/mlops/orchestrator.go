package mlops

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Retrain outcomes.
const (
	StatusPromoted       = "promoted"
	StatusRejected       = "rejected"
	StatusTrainingFailed = "training_failed"
)

// Validation gate names reported on rejection.
const (
	GateDrift     = "drift"
	GateAccuracy  = "accuracy"
	GateLatency   = "latency"
	GateCancelled = "cancelled"
)

// Config holds the validation gate thresholds.
type Config struct {
	// AccuracyTolerance is the fractional RMSE/MAE regression allowed relative
	// to the active model, e.g. 0.10 for 10%.
	AccuracyTolerance float64
	MaxLatencyMs      float64
	MaxDriftScore     float64
	LatencyProbes     int
}

func DefaultConfig() Config {
	return Config{
		AccuracyTolerance: 0.10,
		MaxLatencyMs:      50,
		MaxDriftScore:     0.35,
		LatencyProbes:     200,
	}
}

// RetrainResult reports a retraining cycle. Metrics always reflects the model
// that is active after the call.
type RetrainResult struct {
	Status  string  `json:"status"`
	Gate    string  `json:"gate,omitempty"`
	Message string  `json:"message"`
	Metrics Metrics `json:"metrics"`
	Version string  `json:"model_version"`
}

// MetricsView is the read shape of GET /mlops/metrics.
type MetricsView struct {
	ModelVersion  string    `json:"model_version"`
	RMSE          float64   `json:"rmse"`
	MAE           float64   `json:"mae"`
	LatencyMs     float64   `json:"latency_ms"`
	DriftScore    float64   `json:"drift_score"`
	DriftCheck    bool      `json:"drift_check"`
	AccuracyCheck bool      `json:"accuracy_check"`
	TrainedAt     time.Time `json:"trained_at"`
	Samples       int       `json:"samples"`
}

// Orchestrator owns the active model reference and drives retrain → validate →
// promote/reject cycles. The active pointer is read on every prediction and
// written once per successful retrain, so reads are a lock-free atomic load
// and promotion is a single pointer swap. A prediction in flight during a swap
// completes against whichever handle it had already loaded.
type Orchestrator struct {
	cfg     Config
	trainer Trainer
	store   SnapshotStore // may be nil (tests, no persistence)

	active   atomic.Pointer[ModelHandle]
	previous atomic.Pointer[ModelHandle]

	// Serializes retrain cycles only. Never held on the predict path.
	retrainMu sync.Mutex
}

func NewOrchestrator(cfg Config, trainer Trainer, store SnapshotStore, initial *ModelHandle) *Orchestrator {
	o := &Orchestrator{cfg: cfg, trainer: trainer, store: store}
	o.active.Store(initial)
	return o
}

// Active returns the handle serving predictions. Never nil after construction.
func (o *Orchestrator) Active() *ModelHandle {
	return o.active.Load()
}

// Metrics returns one consistent snapshot of the active model's metrics. It
// never blocks on an in-flight retrain.
func (o *Orchestrator) Metrics() MetricsView {
	h := o.active.Load()
	return MetricsView{
		ModelVersion:  h.Version,
		RMSE:          h.Metrics.RMSE,
		MAE:           h.Metrics.MAE,
		LatencyMs:     h.Metrics.LatencyMs,
		DriftScore:    h.Metrics.DriftScore,
		DriftCheck:    h.Metrics.DriftScore <= o.cfg.MaxDriftScore,
		AccuracyCheck: h.Metrics.AccuracyPassed,
		TrainedAt:     h.Metrics.TrainedAt,
		Samples:       h.Metrics.Samples,
	}
}

// Retrain runs one full lifecycle: train a candidate, run the drift, accuracy
// and latency gates in order, and atomically promote on success. Any failure
// leaves the active model untouched; the serving path never sees a candidate
// before promotion.
func (o *Orchestrator) Retrain(ctx context.Context) RetrainResult {
	o.retrainMu.Lock()
	defer o.retrainMu.Unlock()

	if err := ctx.Err(); err != nil {
		return o.rejected(GateCancelled, "retrain cancelled before training started")
	}

	cand, err := o.trainer.Train(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return o.rejected(GateCancelled, "retrain cancelled during training")
		}
		active := o.active.Load()
		return RetrainResult{
			Status:  StatusTrainingFailed,
			Message: fmt.Sprintf("training failed: %v", err),
			Metrics: active.Metrics,
			Version: active.Version,
		}
	}
	if err := ctx.Err(); err != nil {
		return o.rejected(GateCancelled, "retrain cancelled during validation")
	}

	active := o.active.Load()
	candMetrics := &cand.Handle.Metrics

	if candMetrics.DriftScore > o.cfg.MaxDriftScore {
		return o.rejected(GateDrift, fmt.Sprintf(
			"drift score %.3f exceeds ceiling %.3f", candMetrics.DriftScore, o.cfg.MaxDriftScore))
	}

	maxRMSE := active.Metrics.RMSE * (1 + o.cfg.AccuracyTolerance)
	maxMAE := active.Metrics.MAE * (1 + o.cfg.AccuracyTolerance)
	if candMetrics.RMSE > maxRMSE || candMetrics.MAE > maxMAE {
		return o.rejected(GateAccuracy, fmt.Sprintf(
			"candidate rmse=%.2f mae=%.2f regresses past tolerance (active rmse=%.2f mae=%.2f, tolerance %.0f%%)",
			candMetrics.RMSE, candMetrics.MAE, active.Metrics.RMSE, active.Metrics.MAE,
			o.cfg.AccuracyTolerance*100))
	}

	candMetrics.LatencyMs = o.measureLatency(cand.Handle.Predictor)
	if candMetrics.LatencyMs > o.cfg.MaxLatencyMs {
		return o.rejected(GateLatency, fmt.Sprintf(
			"inference latency %.3fms exceeds ceiling %.1fms", candMetrics.LatencyMs, o.cfg.MaxLatencyMs))
	}

	candMetrics.AccuracyPassed = true

	// Promotion: a single pointer swap. The old model stays reachable as
	// "previous" for rollback.
	o.previous.Store(active)
	o.active.Store(cand.Handle)

	if o.store != nil {
		if err := o.store.SaveActive(cand.Handle); err != nil {
			log.Println("model snapshot persistence failed:", err)
		}
	}

	return RetrainResult{
		Status:  StatusPromoted,
		Message: fmt.Sprintf("model %s promoted", cand.Handle.Version),
		Metrics: cand.Handle.Metrics,
		Version: cand.Handle.Version,
	}
}

// Rollback restores the previously active model, if one is retained.
func (o *Orchestrator) Rollback() (string, error) {
	o.retrainMu.Lock()
	defer o.retrainMu.Unlock()

	prev := o.previous.Load()
	if prev == nil {
		return "", errors.New("no previous model to roll back to")
	}
	o.previous.Store(o.active.Load())
	o.active.Store(prev)
	if o.store != nil {
		if err := o.store.SaveActive(prev); err != nil {
			log.Println("model snapshot persistence failed:", err)
		}
	}
	return prev.Version, nil
}

func (o *Orchestrator) rejected(gate, message string) RetrainResult {
	active := o.active.Load()
	return RetrainResult{
		Status:  StatusRejected,
		Gate:    gate,
		Message: message,
		Metrics: active.Metrics,
		Version: active.Version,
	}
}

func (o *Orchestrator) measureLatency(p Predictor) float64 {
	probes := o.cfg.LatencyProbes
	if probes <= 0 {
		probes = 200
	}
	probe := Features{Department: "General Medicine", HourOfDay: 10, QueueLoad: 3}
	start := time.Now()
	for i := 0; i < probes; i++ {
		p.Predict(probe)
	}
	return float64(time.Since(start).Microseconds()) / float64(probes) / 1000
}
