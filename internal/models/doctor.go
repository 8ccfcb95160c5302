package models

import (
	"gorm.io/gorm"
)

// Doctor is a roster row. The live per-doctor queue and token counter are kept
// in memory by the registry; this table only carries the semi-static roster.
type Doctor struct {
	gorm.Model
	DoctorID   string `gorm:"uniqueIndex;not null"` // Stable external identifier, e.g. "DOC_001"
	Name       string `gorm:"not null"`
	Department string `gorm:"index;not null"`
	Active     bool   `gorm:"default:true"` // Inactive doctors are excluded from roster load
}
