package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ModelSnapshot persists a validated consult-duration model version together
// with the metrics it passed validation with. At most one row has Active=true.
type ModelSnapshot struct {
	gorm.Model
	Version      string  `gorm:"uniqueIndex;not null"`
	Active       bool    `gorm:"index;default:false"`
	RMSE         float64 `gorm:"column:rmse"`
	MAE          float64 `gorm:"column:mae"`
	LatencyMs    float64
	DriftScore   float64
	Coefficients datatypes.JSON // Serialized predictor coefficients
	TrainedAt    time.Time
}

func (ModelSnapshot) TableName() string { return "model_snapshots" }
