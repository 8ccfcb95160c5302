package storage

import (
	"gorm.io/gorm"

	"github.com/arpansubho/opd-flow-optimizer/internal/models"
)

// GormArchiver writes terminal visit entries to the visit_records table, the
// model's training dataset.
type GormArchiver struct {
	DB *gorm.DB
}

func (a *GormArchiver) Archive(rec models.VisitRecord) error {
	return a.DB.Create(&rec).Error
}
