package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arpansubho/opd-flow-optimizer/internal/mlops"
	"github.com/arpansubho/opd-flow-optimizer/internal/response"
)

// MetricsHandler returns the active model's metrics
// @Summary		Active model metrics
// @Description	Returns version, RMSE, MAE, latency and drift of the currently serving model; never blocks on an in-flight retrain
// @Tags			mlops
// @Produce		json
// @Success		200	{object}	mlops.MetricsView	"Active model metrics"
// @Router			/mlops/metrics [get]
func (a *API) MetricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, a.Orchestrator.Metrics())
}

// RetrainHandler triggers a full retrain cycle
// @Summary		Retrain the consult-duration model
// @Description	Trains a candidate and runs the drift, accuracy and latency gates; promotes atomically on success, otherwise the active model is untouched
// @Tags			mlops
// @Produce		json
// @Success		200	{object}	mlops.RetrainResult	"Candidate promoted"
// @Failure		422	{object}	mlops.RetrainResult	"Candidate rejected by a validation gate"
// @Failure		500	{object}	mlops.RetrainResult	"Training collaborator failed"
// @Router			/mlops/retrain [post]
func (a *API) RetrainHandler(c *gin.Context) {
	result := a.Orchestrator.Retrain(c.Request.Context())
	switch result.Status {
	case mlops.StatusPromoted:
		c.JSON(http.StatusOK, result)
	case mlops.StatusRejected:
		c.JSON(http.StatusUnprocessableEntity, result)
	default:
		c.JSON(http.StatusInternalServerError, result)
	}
}

// RollbackHandler restores the previously active model
// @Summary		Roll back to the previous model
// @Tags			mlops
// @Produce		json
// @Success		200	{object}	response.SuccessResponse	"Previous model restored"
// @Failure		409	{object}	response.ErrorResponse	"No previous model retained (NO_PREVIOUS_MODEL)"
// @Router			/mlops/rollback [post]
func (a *API) RollbackHandler(c *gin.Context) {
	version, err := a.Orchestrator.Rollback()
	if err != nil {
		c.JSON(http.StatusConflict, response.ErrorResponse{
			Code:    "NO_PREVIOUS_MODEL",
			Message: "No previous model retained for rollback",
		})
		return
	}
	c.JSON(http.StatusOK, response.SuccessResponse{
		Message: "Rolled back to model " + version,
	})
}
