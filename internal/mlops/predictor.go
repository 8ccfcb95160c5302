package mlops

import (
	"time"
)

// Features is the input to a consult-duration prediction. The exact feature
// set is a collaborator contract: predictor implementations may ignore fields.
type Features struct {
	Department string
	Priority   int
	HourOfDay  int
	DayOfWeek  int
	QueueLoad  int
}

// Predictor is the scoring-model capability. Implementations are
// interchangeable (linear baseline here, anything heavier behind the same
// interface).
type Predictor interface {
	// Predict returns the estimated consult duration in minutes and a
	// confidence in [0,1].
	Predict(f Features) (minutes float64, confidence float64)
}

// Metrics is the validation record a model carries after training.
type Metrics struct {
	RMSE       float64   `json:"rmse"`
	MAE        float64   `json:"mae"`
	LatencyMs  float64   `json:"latency_ms"`
	DriftScore float64   `json:"drift_score"`
	TrainedAt  time.Time `json:"trained_at"`
	Samples    int       `json:"samples"`
	// AccuracyPassed is set at promotion time; the seeded default model never
	// went through a gate and reports false.
	AccuracyPassed bool `json:"accuracy_passed"`
}

// ModelHandle bundles a predictor with its version and validated metrics.
// Exactly one handle is active at any instant; see Orchestrator.
type ModelHandle struct {
	Version   string
	Metrics   Metrics
	Predictor Predictor
	Coeffs    *Coefficients // nil for predictors that have no serializable form
}

// Coefficients is the serializable form of the linear baseline model.
type Coefficients struct {
	Intercept      float64            `json:"intercept"`
	DeptEffect     map[string]float64 `json:"dept_effect"`
	PriorityEffect float64            `json:"priority_effect"`
	HourEffect     map[int]float64    `json:"hour_effect"`
	LoadEffect     float64            `json:"load_effect"`
	Confidence     float64            `json:"confidence"`
}

// LinearModel is the baseline consult-duration estimator: an additive model
// over department, priority class, hour of day and current queue load, fitted
// from archived visit records.
type LinearModel struct {
	C Coefficients
}

const minConsultMinutes = 2.0

func (m *LinearModel) Predict(f Features) (float64, float64) {
	minutes := m.C.Intercept
	minutes += m.C.DeptEffect[f.Department]
	minutes += float64(f.Priority) * m.C.PriorityEffect
	minutes += m.C.HourEffect[f.HourOfDay]
	minutes += float64(f.QueueLoad) * m.C.LoadEffect
	if minutes < minConsultMinutes {
		minutes = minConsultMinutes
	}
	return minutes, m.C.Confidence
}

// DefaultHandle returns the seeded fallback model used when no trained
// snapshot exists yet. Effects are rough clinic averages; they are replaced by
// the first successful retrain.
func DefaultHandle() *ModelHandle {
	c := Coefficients{
		Intercept: 12,
		DeptEffect: map[string]float64{
			"General Medicine": 0,
			"Cardiology":       6,
			"Orthopedics":      4,
			"Pediatrics":       -2,
			"Dermatology":      -4,
		},
		PriorityEffect: 5,
		HourEffect:     map[int]float64{},
		LoadEffect:     0.2,
		Confidence:     0.5,
	}
	return &ModelHandle{
		Version:   "v0-seed",
		Metrics:   Metrics{RMSE: 10, MAE: 8, TrainedAt: time.Now()},
		Predictor: &LinearModel{C: c},
		Coeffs:    &c,
	}
}
