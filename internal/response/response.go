package response

// SuccessResponse is the generic success envelope.
type SuccessResponse struct {
	Message string `json:"message" example:"Operation completed successfully"`
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	// Machine-readable error code
	// example: VALIDATION_ERROR
	Code string `json:"code"`

	// Human-readable message
	// example: Request validation failed
	Message string `json:"message"`

	// Optional extra detail
	// example: field Department is required
	Details string `json:"details,omitempty"`
}

// PredictionResponse is the token + wait payload returned by POST /predict.
// Field names follow the front-desk client contract.
type PredictionResponse struct {
	TokenNumber          int     `json:"TokenNumber"`
	DoctorID             string  `json:"DoctorID"`
	WaitTimeMinutes      float64 `json:"WaitTime_Minutes"`
	PredictedConsultTime string  `json:"PredictedConsultTime"`
	Confidence           float64 `json:"Confidence,omitempty"`
}

// DoctorLoad is one row of the doctor-load dashboard view.
type DoctorLoad struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Dept    string  `json:"dept"`
	Queue   int     `json:"queue"`
	AvgWait float64 `json:"avgWait"`
	Busy    bool    `json:"busy"`
}
