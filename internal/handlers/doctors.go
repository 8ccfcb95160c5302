package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arpansubho/opd-flow-optimizer/internal/models"
	"github.com/arpansubho/opd-flow-optimizer/internal/registry"
	"github.com/arpansubho/opd-flow-optimizer/internal/response"
	"github.com/arpansubho/opd-flow-optimizer/internal/ws"
)

const loadsCacheKey = "doctor_loads"
const loadsCacheTTL = 5 * time.Second

// DoctorLoadsHandler returns the load dashboard view
// @Summary		Doctor load view
// @Description	Queue length, average wait and busy flag per doctor, computed from the live registry snapshot; cached briefly in Redis
// @Tags			doctors
// @Produce		json
// @Success		200	{array}	response.DoctorLoad	"Per-doctor load rows"
// @Router			/doctors/loads [get]
func (a *API) DoctorLoadsHandler(c *gin.Context) {
	if a.Redis != nil {
		cached, err := a.Redis.Get(c.Request.Context(), loadsCacheKey).Result()
		if err == nil && cached != "" {
			var loads []response.DoctorLoad
			if err := json.Unmarshal([]byte(cached), &loads); err == nil {
				c.JSON(http.StatusOK, loads)
				return
			}
		}
	}

	loads := a.computeLoads()

	if a.Redis != nil {
		if payload, err := json.Marshal(loads); err == nil {
			a.Redis.Set(c.Request.Context(), loadsCacheKey, string(payload), loadsCacheTTL)
		}
	}

	c.JSON(http.StatusOK, loads)
}

func (a *API) computeLoads() []response.DoctorLoad {
	summaries := a.Registry.ListDoctors()
	loads := make([]response.DoctorLoad, 0, len(summaries))
	for _, d := range summaries {
		var avgWait float64
		snapshot, err := a.Registry.Snapshot(d.ID)
		if err == nil {
			var sum float64
			var n int
			for _, e := range snapshot {
				if e.Status == registry.StatusWaiting {
					sum += e.WaitMinutes
					n++
				}
			}
			if n > 0 {
				avgWait = sum / float64(n)
			}
		}
		loads = append(loads, response.DoctorLoad{
			ID:      d.ID,
			Name:    d.Name,
			Dept:    d.Department,
			Queue:   d.QueueLength,
			AvgWait: avgWait,
			Busy:    d.QueueLength > a.busyThreshold(),
		})
	}
	return loads
}

// CallNextHandler moves the next waiting patient into consultation
// @Summary		Call the next patient
// @Tags			doctors
// @Produce		json
// @Param			id	path		string	true	"Doctor ID"
// @Success		200	{object}	response.SuccessResponse	"Patient called"
// @Failure		404	{object}	response.ErrorResponse	"Doctor not found (DOCTOR_NOT_FOUND) or queue empty (QUEUE_EMPTY)"
// @Router			/doctors/{id}/next [post]
func (a *API) CallNextHandler(c *gin.Context) {
	doctorID := c.Param("id")
	entry, err := a.Registry.PopFromQueue(doctorID)
	if err != nil {
		if errors.Is(err, registry.ErrDoctorNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{
				Code:    "DOCTOR_NOT_FOUND",
				Message: "Doctor not found",
			})
			return
		}
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "QUEUE_EMPTY",
			Message: "No waiting patients for this doctor",
		})
		return
	}

	if a.Hub != nil {
		a.Hub.BroadcastWSMessage(ws.WSMessage{
			EventType: "patient_called",
			DoctorID:  doctorID,
			Data: map[string]interface{}{
				"token": entry.Token,
			},
		})
	}

	c.JSON(http.StatusOK, gin.H{"message": "Patient called", "token": entry.Token})
}

// CompleteRequest finishes a consultation.
type CompleteRequest struct {
	Token  int    `json:"token" binding:"required"`
	Status string `json:"status" binding:"required,oneof=done cancelled"`
}

// CompleteConsultHandler finishes a consultation and archives the visit
// @Summary		Complete or cancel a consultation
// @Description	Moves the entry to a terminal status, removes it from the live queue and archives it as training history
// @Tags			doctors
// @Accept			json
// @Produce		json
// @Param			id		path		string	true	"Doctor ID"
// @Param			body	body		CompleteRequest	true	"Token and terminal status"
// @Success		200	{object}	response.SuccessResponse	"Visit archived"
// @Failure		400	{object}	response.ErrorResponse	"Validation failure (VALIDATION_ERROR)"
// @Failure		404	{object}	response.ErrorResponse	"Doctor or entry not found (DOCTOR_NOT_FOUND, ENTRY_NOT_FOUND)"
// @Router			/doctors/{id}/complete [post]
func (a *API) CompleteConsultHandler(c *gin.Context) {
	doctorID := c.Param("id")
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Request validation failed",
			Details: err.Error(),
		})
		return
	}

	entry, err := a.Registry.CompleteConsult(doctorID, req.Token, registry.Status(req.Status))
	if err != nil {
		code := "ENTRY_NOT_FOUND"
		if errors.Is(err, registry.ErrDoctorNotFound) {
			code = "DOCTOR_NOT_FOUND"
		}
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    code,
			Message: err.Error(),
		})
		return
	}

	doctor, _ := a.Registry.Get(doctorID)
	rec := models.VisitRecord{
		DoctorID:         doctorID,
		Department:       doctor.Department,
		Token:            entry.Token,
		PatientID:        entry.PatientID,
		Priority:         entry.Priority,
		DayOfWeek:        int(entry.RegisteredAt.Weekday()),
		HourOfDay:        entry.RegisteredAt.Hour(),
		QueueLoad:        entry.QueueLoad,
		PredictedMinutes: entry.PredictedMinutes,
		Status:           string(entry.Status),
		RegisteredAt:     entry.RegisteredAt,
		ConsultStart:     entry.ConsultStart,
		ConsultEnd:       entry.ConsultEnd,
	}
	if entry.ConsultStart != nil && entry.ConsultEnd != nil {
		rec.ActualMinutes = entry.ConsultEnd.Sub(*entry.ConsultStart).Minutes()
	}
	if a.Archiver != nil {
		if err := a.Archiver.Archive(rec); err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{
				Code:    "DB_ERROR",
				Message: "Failed to archive visit record",
				Details: err.Error(),
			})
			return
		}
	}

	if a.Hub != nil {
		a.Hub.BroadcastWSMessage(ws.WSMessage{
			EventType: "consult_done",
			DoctorID:  doctorID,
			Data: map[string]interface{}{
				"token":  entry.Token,
				"status": string(entry.Status),
			},
		})
	}

	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Visit archived"})
}
