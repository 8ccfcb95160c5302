package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arpansubho/opd-flow-optimizer/internal/response"
	"github.com/arpansubho/opd-flow-optimizer/internal/scheduling"
	"github.com/arpansubho/opd-flow-optimizer/internal/ws"
)

// PredictRequest is the front-desk registration body.
type PredictRequest struct {
	Department    string     `json:"Department" binding:"required"`
	PriorityFlag  int        `json:"PriorityFlag" binding:"oneof=0 1"`
	ScheduledTime *time.Time `json:"ScheduledTime"`
	DoctorID      string     `json:"DoctorID"`
	PatientID     string     `json:"PatientID"`
}

// PredictHandler registers a patient and returns token + wait estimate
// @Summary		Register a patient and get a token
// @Description	Assigns a doctor (honoring an optional preference), allocates the next token and estimates the wait via the active consult-duration model
// @Tags			predict
// @Accept			json
// @Produce		json
// @Param			patient	body		PredictRequest	true	"Registration request"
// @Success		200		{object}	response.PredictionResponse	"Token and wait estimate"
// @Failure		400		{object}	response.ErrorResponse	"Validation failure (VALIDATION_ERROR, INVALID_DEPARTMENT, DEPARTMENT_MISMATCH)"
// @Failure		404		{object}	response.ErrorResponse	"Preferred doctor not found (DOCTOR_NOT_FOUND)"
// @Router			/predict [post]
func (a *API) PredictHandler(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Request validation failed",
			Details: err.Error(),
		})
		return
	}

	result, err := a.Engine.Schedule(scheduling.RegistrationRequest{
		Department:  req.Department,
		PatientID:   req.PatientID,
		Priority:    req.PriorityFlag,
		ScheduledAt: req.ScheduledTime,
		DoctorID:    req.DoctorID,
	})
	if err != nil {
		switch {
		case errors.Is(err, scheduling.ErrInvalidDepartment):
			c.JSON(http.StatusBadRequest, response.ErrorResponse{
				Code:    "INVALID_DEPARTMENT",
				Message: "No doctors available in the requested department",
			})
		case errors.Is(err, scheduling.ErrDoctorNotFound):
			c.JSON(http.StatusNotFound, response.ErrorResponse{
				Code:    "DOCTOR_NOT_FOUND",
				Message: "Preferred doctor does not exist",
			})
		case errors.Is(err, scheduling.ErrDepartmentMismatch):
			c.JSON(http.StatusBadRequest, response.ErrorResponse{
				Code:    "DEPARTMENT_MISMATCH",
				Message: "Preferred doctor is not in the requested department",
			})
		default:
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{
				Code:    "SCHEDULING_ERROR",
				Message: "Registration failed",
				Details: err.Error(),
			})
		}
		return
	}

	if a.Hub != nil {
		a.Hub.BroadcastWSMessage(ws.WSMessage{
			EventType: "token_issued",
			DoctorID:  result.DoctorID,
			Data: map[string]interface{}{
				"token":        result.Token,
				"wait_minutes": result.WaitMinutes,
				"priority":     req.PriorityFlag,
			},
		})
	}

	c.JSON(http.StatusOK, response.PredictionResponse{
		TokenNumber:          result.Token,
		DoctorID:             result.DoctorID,
		WaitTimeMinutes:      result.WaitMinutes,
		PredictedConsultTime: result.ConsultStart.Format(time.RFC3339),
		Confidence:           result.Confidence,
	})
}
