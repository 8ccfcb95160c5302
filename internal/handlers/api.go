package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/arpansubho/opd-flow-optimizer/internal/mlops"
	"github.com/arpansubho/opd-flow-optimizer/internal/models"
	"github.com/arpansubho/opd-flow-optimizer/internal/registry"
	"github.com/arpansubho/opd-flow-optimizer/internal/scheduling"
	"github.com/arpansubho/opd-flow-optimizer/internal/ws"
)

// VisitArchiver persists terminal queue entries as history rows. The gorm
// implementation lives in storage; tests plug in an in-memory one.
type VisitArchiver interface {
	Archive(rec models.VisitRecord) error
}

// API bundles the handler dependencies.
type API struct {
	Engine        *scheduling.Engine
	Registry      *registry.Registry
	Orchestrator  *mlops.Orchestrator
	Hub           *ws.Hub
	Archiver      VisitArchiver
	Redis         *redis.Client // optional; loads view works uncached without it
	BusyThreshold int           // queue length above which a doctor is "busy"
}

const defaultBusyThreshold = 5

func (a *API) busyThreshold() int {
	if a.BusyThreshold <= 0 {
		return defaultBusyThreshold
	}
	return a.BusyThreshold
}

func (a *API) RegisterRoutes(r *gin.Engine) {
	r.POST("/predict", a.PredictHandler)

	mlopsGroup := r.Group("/mlops")
	{
		mlopsGroup.GET("/metrics", a.MetricsHandler)
		mlopsGroup.POST("/retrain", a.RetrainHandler)
		mlopsGroup.POST("/rollback", a.RollbackHandler)
	}

	doctors := r.Group("/doctors")
	{
		doctors.GET("/loads", a.DoctorLoadsHandler)
		doctors.POST("/:id/next", a.CallNextHandler)
		doctors.POST("/:id/complete", a.CompleteConsultHandler)
	}

	r.GET("/api/doctors/:id/ws", ws.DoctorWebSocketHandler(a.Hub))
}
