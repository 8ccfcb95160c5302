package mlops

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arpansubho/opd-flow-optimizer/internal/models"
)

// ErrInsufficientData is returned when the history table holds too few
// completed visits to fit a candidate.
var ErrInsufficientData = errors.New("not enough visit history to train")

// Candidate is a freshly trained model that has not been validated yet. It is
// invisible to traffic until the orchestrator promotes it.
type Candidate struct {
	Handle *ModelHandle
}

// Trainer is the external training collaborator.
type Trainer interface {
	Train(ctx context.Context) (*Candidate, error)
}

// HistoryTrainer fits the linear baseline from archived VisitRecord rows.
type HistoryTrainer struct {
	DB         *gorm.DB
	MinSamples int // below this Train fails with ErrInsufficientData
}

const defaultMinSamples = 30

// Train loads completed visits, fits additive effects, and evaluates the fit
// on a holdout slice (every 5th record). Drift is scored as the distance
// between the most recent fifth of the data and the whole dataset.
func (t *HistoryTrainer) Train(ctx context.Context) (*Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	minSamples := t.MinSamples
	if minSamples == 0 {
		minSamples = defaultMinSamples
	}

	var records []models.VisitRecord
	if err := t.DB.WithContext(ctx).
		Where("status = ? AND actual_minutes > 0", "done").
		Order("registered_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("loading visit history: %w", err)
	}
	if len(records) < minSamples {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(records), minSamples)
	}

	train := make([]models.VisitRecord, 0, len(records))
	holdout := make([]models.VisitRecord, 0, len(records)/5+1)
	for i, rec := range records {
		if i%5 == 4 {
			holdout = append(holdout, rec)
		} else {
			train = append(train, rec)
		}
	}
	if len(holdout) == 0 {
		holdout = train
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	coeffs := fit(train)
	model := &LinearModel{C: coeffs}

	var sqSum, absSum float64
	for _, rec := range holdout {
		pred, _ := model.Predict(recordFeatures(rec))
		diff := pred - rec.ActualMinutes
		sqSum += diff * diff
		absSum += math.Abs(diff)
	}
	rmse := math.Sqrt(sqSum / float64(len(holdout)))
	mae := absSum / float64(len(holdout))
	coeffs.Confidence = 1 / (1 + rmse/10)
	model.C.Confidence = coeffs.Confidence

	handle := &ModelHandle{
		Version: "v-" + uuid.NewString()[:8],
		Metrics: Metrics{
			RMSE:       rmse,
			MAE:        mae,
			DriftScore: driftScore(records),
			TrainedAt:  time.Now(),
			Samples:    len(records),
		},
		Predictor: model,
		Coeffs:    &coeffs,
	}
	return &Candidate{Handle: handle}, nil
}

func recordFeatures(rec models.VisitRecord) Features {
	return Features{
		Department: rec.Department,
		Priority:   rec.Priority,
		HourOfDay:  rec.HourOfDay,
		DayOfWeek:  rec.DayOfWeek,
		QueueLoad:  rec.QueueLoad,
	}
}

// fit computes additive effects: global mean intercept, then per-department,
// priority, hour and load effects from mean residuals.
func fit(train []models.VisitRecord) Coefficients {
	var total float64
	for _, rec := range train {
		total += rec.ActualMinutes
	}
	intercept := total / float64(len(train))

	deptSum := map[string]float64{}
	deptN := map[string]float64{}
	for _, rec := range train {
		deptSum[rec.Department] += rec.ActualMinutes - intercept
		deptN[rec.Department]++
	}
	deptEffect := make(map[string]float64, len(deptSum))
	for dept, sum := range deptSum {
		deptEffect[dept] = sum / deptN[dept]
	}

	residual := func(rec models.VisitRecord) float64 {
		return rec.ActualMinutes - intercept - deptEffect[rec.Department]
	}

	var prioSum, prioN float64
	for _, rec := range train {
		if rec.Priority == 1 {
			prioSum += residual(rec)
			prioN++
		}
	}
	var priorityEffect float64
	if prioN > 0 {
		priorityEffect = prioSum / prioN
	}

	hourSum := map[int]float64{}
	hourN := map[int]float64{}
	for _, rec := range train {
		res := residual(rec) - float64(rec.Priority)*priorityEffect
		hourSum[rec.HourOfDay] += res
		hourN[rec.HourOfDay]++
	}
	hourEffect := make(map[int]float64, len(hourSum))
	for h, sum := range hourSum {
		hourEffect[h] = sum / hourN[h]
	}

	// Load effect: least-squares slope of the remaining residual on queue load.
	var loadMean, n float64
	for _, rec := range train {
		loadMean += float64(rec.QueueLoad)
		n++
	}
	loadMean /= n
	var cov, variance float64
	for _, rec := range train {
		res := residual(rec) - float64(rec.Priority)*priorityEffect - hourEffect[rec.HourOfDay]
		dl := float64(rec.QueueLoad) - loadMean
		cov += dl * res
		variance += dl * dl
	}
	var loadEffect float64
	if variance > 0 {
		loadEffect = cov / variance
	}

	return Coefficients{
		Intercept:      intercept,
		DeptEffect:     deptEffect,
		PriorityEffect: priorityEffect,
		HourEffect:     hourEffect,
		LoadEffect:     loadEffect,
	}
}

// driftScore compares the most recent fifth of the records against the whole
// dataset: department mix (L1 distance) plus shifts in priority rate and mean
// hour. 0 means identical distributions.
func driftScore(records []models.VisitRecord) float64 {
	if len(records) < 10 {
		return 0
	}
	recent := records[len(records)-len(records)/5:]

	share := func(set []models.VisitRecord) (map[string]float64, float64, float64) {
		dept := map[string]float64{}
		var prio, hour float64
		for _, rec := range set {
			dept[rec.Department]++
			prio += float64(rec.Priority)
			hour += float64(rec.HourOfDay)
		}
		n := float64(len(set))
		for k := range dept {
			dept[k] /= n
		}
		return dept, prio / n, hour / n
	}

	allDept, allPrio, allHour := share(records)
	recDept, recPrio, recHour := share(recent)

	var deptDist float64
	for dept, p := range allDept {
		deptDist += math.Abs(p - recDept[dept])
	}
	for dept, p := range recDept {
		if _, ok := allDept[dept]; !ok {
			deptDist += p
		}
	}

	return deptDist/2 + math.Abs(allPrio-recPrio) + math.Abs(allHour-recHour)/24
}
