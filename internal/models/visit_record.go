package models

import (
	"time"

	"gorm.io/gorm"
)

// VisitRecord is the archived form of a queue entry after it reaches a terminal
// status. These rows are the training dataset for the consult-duration model.
type VisitRecord struct {
	gorm.Model
	DoctorID         string `gorm:"index;not null"`
	Department       string `gorm:"index;not null"`
	Token            int    `gorm:"not null"`
	PatientID        string `gorm:"index"`
	Priority         int    // 0 = normal, 1 = high
	DayOfWeek        int
	HourOfDay        int
	QueueLoad        int // Queue length observed at registration
	PredictedMinutes float64
	ActualMinutes    float64
	Status           string    `gorm:"index;not null"` // done or cancelled
	RegisteredAt     time.Time `gorm:"index;not null"`
	ConsultStart     *time.Time
	ConsultEnd       *time.Time
}
