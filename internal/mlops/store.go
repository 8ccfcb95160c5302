package mlops

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/arpansubho/opd-flow-optimizer/internal/models"
)

// SnapshotStore persists promoted model versions so the active model survives
// a restart.
type SnapshotStore interface {
	SaveActive(h *ModelHandle) error
	LoadActive() (*ModelHandle, error)
}

// GormStore keeps snapshots in the model_snapshots table. At most one row is
// active; the flag flip and the insert happen in one transaction.
type GormStore struct {
	DB *gorm.DB
}

func (s *GormStore) SaveActive(h *ModelHandle) error {
	var coeffs []byte
	if h.Coeffs != nil {
		var err error
		coeffs, err = json.Marshal(h.Coeffs)
		if err != nil {
			return fmt.Errorf("marshaling coefficients: %w", err)
		}
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ModelSnapshot{}).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return err
		}
		snap := models.ModelSnapshot{
			Version:      h.Version,
			Active:       true,
			RMSE:         h.Metrics.RMSE,
			MAE:          h.Metrics.MAE,
			LatencyMs:    h.Metrics.LatencyMs,
			DriftScore:   h.Metrics.DriftScore,
			Coefficients: coeffs,
			TrainedAt:    h.Metrics.TrainedAt,
		}
		return tx.Create(&snap).Error
	})
}

func (s *GormStore) LoadActive() (*ModelHandle, error) {
	var snap models.ModelSnapshot
	if err := s.DB.Where("active = ?", true).First(&snap).Error; err != nil {
		return nil, err
	}

	var coeffs Coefficients
	if err := json.Unmarshal(snap.Coefficients, &coeffs); err != nil {
		return nil, fmt.Errorf("unmarshaling coefficients for %s: %w", snap.Version, err)
	}

	return &ModelHandle{
		Version: snap.Version,
		Metrics: Metrics{
			RMSE:       snap.RMSE,
			MAE:        snap.MAE,
			LatencyMs:  snap.LatencyMs,
			DriftScore: snap.DriftScore,
			TrainedAt:  snap.TrainedAt,
			// only promoted models are ever persisted
			AccuracyPassed: true,
		},
		Predictor: &LinearModel{C: coeffs},
		Coeffs:    &coeffs,
	}, nil
}
