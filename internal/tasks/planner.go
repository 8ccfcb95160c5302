package tasks

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/arpansubho/opd-flow-optimizer/internal/mlops"
	"github.com/arpansubho/opd-flow-optimizer/internal/models"
	"github.com/arpansubho/opd-flow-optimizer/internal/registry"
	"github.com/arpansubho/opd-flow-optimizer/internal/ws"
)

// visit records older than this are dropped from the training dataset
const recordRetention = 180 * 24 * time.Hour

const retrainTimeout = 10 * time.Minute

// NightlyRetrain runs a full retrain cycle through the orchestrator. Gate
// failures are logged, never fatal: the active model keeps serving.
func NightlyRetrain(orch *mlops.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), retrainTimeout)
	defer cancel()

	result := orch.Retrain(ctx)
	switch result.Status {
	case mlops.StatusPromoted:
		log.Printf("nightly retrain: promoted %s (rmse=%.2f mae=%.2f)\n",
			result.Version, result.Metrics.RMSE, result.Metrics.MAE)
	case mlops.StatusRejected:
		log.Printf("nightly retrain: rejected at %s gate: %s\n", result.Gate, result.Message)
	default:
		log.Println("nightly retrain:", result.Message)
	}
}

// CleanOldVisitRecords trims history past the retention window.
func CleanOldVisitRecords(db *gorm.DB) {
	threshold := time.Now().Add(-recordRetention)
	if err := db.Where("registered_at < ?", threshold).Delete(&models.VisitRecord{}).Error; err != nil {
		log.Println("visit record cleanup failed:", err)
	}
}

// BroadcastLoadSnapshots pushes each doctor's queue length to its watchers so
// token displays stay current even without registration events.
func BroadcastLoadSnapshots(reg *registry.Registry, hub *ws.Hub) {
	for _, d := range reg.ListDoctors() {
		hub.BroadcastWSMessage(ws.WSMessage{
			EventType: "load_snapshot",
			DoctorID:  d.ID,
			Data: map[string]interface{}{
				"queue_length": d.QueueLength,
			},
		})
	}
}

// InitScheduler starts the cron jobs: nightly retrain at 03:00, daily history
// cleanup, and a minutely load snapshot broadcast.
func InitScheduler(db *gorm.DB, orch *mlops.Orchestrator, reg *registry.Registry, hub *ws.Hub) *cron.Cron {
	c := cron.New(cron.WithSeconds())

	if _, err := c.AddFunc("0 0 3 * * *", func() { NightlyRetrain(orch) }); err != nil {
		log.Println("failed to schedule NightlyRetrain:", err)
	}

	if _, err := c.AddFunc("0 30 3 * * *", func() { CleanOldVisitRecords(db) }); err != nil {
		log.Println("failed to schedule CleanOldVisitRecords:", err)
	}

	if _, err := c.AddFunc("0 * * * * *", func() { BroadcastLoadSnapshots(reg, hub) }); err != nil {
		log.Println("failed to schedule BroadcastLoadSnapshots:", err)
	}

	c.Start()
	log.Println("cron scheduler started")
	return c
}
