package main

import (
	"errors"
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	_ "github.com/arpansubho/opd-flow-optimizer/docs"
	"github.com/arpansubho/opd-flow-optimizer/internal/handlers"
	"github.com/arpansubho/opd-flow-optimizer/internal/mlops"
	"github.com/arpansubho/opd-flow-optimizer/internal/models"
	"github.com/arpansubho/opd-flow-optimizer/internal/registry"
	"github.com/arpansubho/opd-flow-optimizer/internal/scheduling"
	"github.com/arpansubho/opd-flow-optimizer/internal/storage"
	"github.com/arpansubho/opd-flow-optimizer/internal/tasks"
	"github.com/arpansubho/opd-flow-optimizer/internal/ws"
)

// @Title	OPD Flow Optimizer API
func main() {
	if os.Getenv("ENV_CHECK") == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found, relying on process environment")
		}
	}

	storage.ConnectDatabase()

	if err := storage.DB.AutoMigrate(&models.Doctor{}, &models.VisitRecord{}, &models.ModelSnapshot{}); err != nil {
		log.Fatal("migration failed: ", err.Error())
	}

	storage.InitRedis()

	reg := registry.New()
	loadRoster(storage.DB, reg)

	store := &mlops.GormStore{DB: storage.DB}
	trainer := &mlops.HistoryTrainer{DB: storage.DB}
	orch := mlops.NewOrchestrator(mlops.DefaultConfig(), trainer, store, bootstrapModel(store))

	engine := scheduling.NewEngine(reg, orch)

	tasks.InitScheduler(storage.DB, orch, reg, ws.HubInstance)

	go ws.HubInstance.Run()

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := &handlers.API{
		Engine:       engine,
		Registry:     reg,
		Orchestrator: orch,
		Hub:          ws.HubInstance,
		Archiver:     &storage.GormArchiver{DB: storage.DB},
		Redis:        storage.RedisClient,
	}
	api.RegisterRoutes(r)

	if err := r.Run(":8080"); err != nil {
		log.Fatal("server start failed: ", err.Error())
	}
}

// loadRoster fills the in-memory registry from the doctors table, seeding a
// default roster on first run.
func loadRoster(db *gorm.DB, reg *registry.Registry) {
	var rows []models.Doctor
	if err := db.Where("active = ?", true).Order("doctor_id ASC").Find(&rows).Error; err != nil {
		log.Fatal("roster load failed: ", err.Error())
	}

	if len(rows) == 0 {
		seed := []models.Doctor{
			{DoctorID: "DOC_001", Name: "Dr. A. Sharma", Department: "General Medicine", Active: true},
			{DoctorID: "DOC_002", Name: "Dr. R. Iyer", Department: "General Medicine", Active: true},
			{DoctorID: "DOC_003", Name: "Dr. S. Banerjee", Department: "Cardiology", Active: true},
			{DoctorID: "DOC_004", Name: "Dr. P. Nair", Department: "Orthopedics", Active: true},
			{DoctorID: "DOC_005", Name: "Dr. M. Gupta", Department: "Pediatrics", Active: true},
			{DoctorID: "DOC_006", Name: "Dr. K. Rao", Department: "Dermatology", Active: true},
		}
		if err := db.Create(&seed).Error; err != nil {
			log.Fatal("roster seed failed: ", err.Error())
		}
		rows = seed
		log.Println("seeded default doctor roster")
	}

	for _, row := range rows {
		reg.AddDoctor(registry.Doctor{
			ID:         row.DoctorID,
			Name:       row.Name,
			Department: row.Department,
		})
	}
	log.Printf("roster loaded: %d doctors\n", len(rows))
}

// bootstrapModel restores the persisted active model, falling back to the
// seeded default when none has been trained yet.
func bootstrapModel(store *mlops.GormStore) *mlops.ModelHandle {
	handle, err := store.LoadActive()
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Println("active model load failed:", err)
		}
		log.Println("no trained model snapshot, starting with seeded default")
		return mlops.DefaultHandle()
	}
	log.Println("restored active model", handle.Version)
	return handle
}
