package scheduling

import (
	"errors"
	"time"

	"github.com/arpansubho/opd-flow-optimizer/internal/mlops"
	"github.com/arpansubho/opd-flow-optimizer/internal/registry"
)

var (
	ErrInvalidDepartment  = errors.New("department has no doctors")
	ErrDoctorNotFound     = errors.New("preferred doctor does not exist")
	ErrDepartmentMismatch = errors.New("preferred doctor is not in the requested department")
)

// RegistrationRequest is a front-desk registration. DoctorID and ScheduledAt
// are optional; an absent ScheduledAt means "now".
type RegistrationRequest struct {
	Department  string
	PatientID   string
	Priority    int
	ScheduledAt *time.Time
	DoctorID    string
}

// PredictionResult is the token + wait payload handed back to the front desk.
// Transient; the durable form is the doctor's queue entry.
type PredictionResult struct {
	Token            int
	DoctorID         string
	WaitMinutes      float64
	ConsultStart     time.Time
	PredictedMinutes float64
	Confidence       float64
}

// Engine assigns tokens and wait estimates. Steps 2-4 of Schedule read a
// lock-free snapshot; only the final append serializes on the doctor's lock,
// so wait estimates are advisory while token uniqueness is hard.
type Engine struct {
	registry     *registry.Registry
	orchestrator *mlops.Orchestrator
	now          func() time.Time
}

func NewEngine(reg *registry.Registry, orch *mlops.Orchestrator) *Engine {
	return &Engine{registry: reg, orchestrator: orch, now: time.Now}
}

// WithClock overrides the engine's clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Schedule picks a doctor, predicts the consult duration with the active
// model, estimates the wait from the queue snapshot and appends the entry.
// The token is allocated inside the append, never before, so no counter is
// burned on a failed registration.
func (e *Engine) Schedule(req RegistrationRequest) (PredictionResult, error) {
	doctor, err := e.resolveDoctor(req)
	if err != nil {
		return PredictionResult{}, err
	}

	now := e.now()
	handle := e.orchestrator.Active()
	queueLoad := e.registry.QueueLength(doctor.ID)
	minutes, confidence := handle.Predictor.Predict(mlops.Features{
		Department: req.Department,
		Priority:   req.Priority,
		HourOfDay:  now.Hour(),
		DayOfWeek:  int(now.Weekday()),
		QueueLoad:  queueLoad,
	})

	snapshot, err := e.registry.Snapshot(doctor.ID)
	if err != nil {
		return PredictionResult{}, err
	}
	wait := waitAhead(snapshot, req.Priority)

	start := now.Add(time.Duration(wait * float64(time.Minute)))
	if req.ScheduledAt != nil && req.ScheduledAt.After(start) {
		// Booked patients never start before their slot, and booking is not a
		// priority boost past the walk-in queue.
		start = *req.ScheduledAt
		wait = start.Sub(now).Minutes()
	}

	entry := &registry.VisitEntry{
		PatientID:        req.PatientID,
		Priority:         req.Priority,
		ScheduledAt:      req.ScheduledAt,
		PredictedMinutes: minutes,
		PredictedStart:   start,
		WaitMinutes:      wait,
		QueueLoad:        queueLoad,
		RegisteredAt:     now,
	}
	token, err := e.registry.AppendToQueue(doctor.ID, entry)
	if err != nil {
		return PredictionResult{}, err
	}

	return PredictionResult{
		Token:            token,
		DoctorID:         doctor.ID,
		WaitMinutes:      wait,
		ConsultStart:     start,
		PredictedMinutes: minutes,
		Confidence:       confidence,
	}, nil
}

func (e *Engine) resolveDoctor(req RegistrationRequest) (registry.Doctor, error) {
	if req.DoctorID != "" {
		doctor, err := e.registry.Get(req.DoctorID)
		if err != nil {
			return registry.Doctor{}, ErrDoctorNotFound
		}
		if doctor.Department != req.Department {
			return registry.Doctor{}, ErrDepartmentMismatch
		}
		return doctor, nil
	}

	candidates := e.registry.DoctorsInDepartment(req.Department)
	if len(candidates) == 0 {
		return registry.Doctor{}, ErrInvalidDepartment
	}
	// Least loaded first, id tie-break: the registry's ordering.
	return candidates[0].Doctor, nil
}

// waitAhead sums predicted durations of the waiting entries that would sit
// ahead of a new entry of the given priority. A high-priority arrival queues
// behind in-consult entries and earlier high-priority entries only.
func waitAhead(snapshot []registry.VisitEntry, priority int) float64 {
	var wait float64
	for _, e := range snapshot {
		if e.Status != registry.StatusWaiting {
			continue
		}
		if priority == registry.PriorityHigh && e.Priority != registry.PriorityHigh {
			continue
		}
		wait += e.PredictedMinutes
	}
	return wait
}
