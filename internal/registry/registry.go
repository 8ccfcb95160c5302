package registry

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Status of a live queue entry.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusInConsult Status = "in_consult"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// Priority classes. High-priority entries are inserted ahead of normal-priority
// waiting entries but behind earlier high-priority entries and behind anything
// already in consultation.
const (
	PriorityNormal = 0
	PriorityHigh   = 1
)

var (
	ErrDoctorNotFound = errors.New("doctor not found")
	ErrQueueEmpty     = errors.New("queue is empty")
	ErrEntryNotFound  = errors.New("queue entry not found")
)

// VisitEntry is a live position in a doctor's queue. Once appended it never
// migrates to another doctor; reassignment means cancel + new entry.
type VisitEntry struct {
	Token            int
	PatientID        string
	Priority         int
	ScheduledAt      *time.Time // nil means walk-in ("now")
	PredictedMinutes float64
	PredictedStart   time.Time
	WaitMinutes      float64
	QueueLoad        int // queue length observed at registration; a model feature
	Status           Status
	RegisteredAt     time.Time
	ConsultStart     *time.Time
	ConsultEnd       *time.Time
}

// Doctor is the in-memory roster view.
type Doctor struct {
	ID         string
	Name       string
	Department string
}

// DoctorSummary is Doctor plus the current queue length, used for load-ordered
// department listings.
type DoctorSummary struct {
	Doctor
	QueueLength int
}

type doctorState struct {
	info Doctor

	mu        sync.Mutex
	nextToken int
	entries   []*VisitEntry
}

// Registry holds the roster and every doctor's live queue. The per-doctor
// mutex is the only serialization point for queue mutation, so two doctors'
// queues can be mutated fully in parallel.
type Registry struct {
	mu      sync.RWMutex // guards the doctors map, not the queues
	doctors map[string]*doctorState
}

func New() *Registry {
	return &Registry{doctors: make(map[string]*doctorState)}
}

// AddDoctor registers a roster entry. Called at roster load time.
func (r *Registry) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.doctors[d.ID]; ok {
		return
	}
	r.doctors[d.ID] = &doctorState{info: d, nextToken: 1}
}

func (r *Registry) state(doctorID string) (*doctorState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.doctors[doctorID]
	return s, ok
}

// Get returns the roster entry for a doctor.
func (r *Registry) Get(doctorID string) (Doctor, error) {
	s, ok := r.state(doctorID)
	if !ok {
		return Doctor{}, ErrDoctorNotFound
	}
	return s.info, nil
}

// ListDoctors returns summaries for the whole roster, ordered by doctor id.
func (r *Registry) ListDoctors() []DoctorSummary {
	r.mu.RLock()
	states := make([]*doctorState, 0, len(r.doctors))
	for _, s := range r.doctors {
		states = append(states, s)
	}
	r.mu.RUnlock()

	out := make([]DoctorSummary, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		out = append(out, DoctorSummary{Doctor: s.info, QueueLength: len(s.entries)})
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DoctorsInDepartment returns the department's doctors ordered by ascending
// queue length, ties broken by doctor id. The first element is the load
// balancer's pick for a preference-less registration.
func (r *Registry) DoctorsInDepartment(dept string) []DoctorSummary {
	all := r.ListDoctors()
	out := make([]DoctorSummary, 0, len(all))
	for _, d := range all {
		if d.Department == dept {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].QueueLength != out[j].QueueLength {
			return out[i].QueueLength < out[j].QueueLength
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// insertIndex returns where a new entry of the given priority belongs.
// Normal entries go to the back. High-priority entries skip past everything
// that is in consultation or already high-priority, landing just before the
// first normal-priority waiting entry.
func insertIndex(entries []*VisitEntry, priority int) int {
	if priority != PriorityHigh {
		return len(entries)
	}
	idx := 0
	for idx < len(entries) {
		e := entries[idx]
		if e.Status == StatusInConsult || e.Priority == PriorityHigh {
			idx++
			continue
		}
		break
	}
	return idx
}

// AppendToQueue allocates the doctor's next token and inserts the entry under
// the per-doctor lock. This is the single linearization point that makes token
// numbers strictly increasing and gapless even under concurrent registrations.
// The counter is only ever advanced here, never on a failed registration.
func (r *Registry) AppendToQueue(doctorID string, entry *VisitEntry) (int, error) {
	s, ok := r.state(doctorID)
	if !ok {
		return 0, ErrDoctorNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Token = s.nextToken
	s.nextToken++
	entry.Status = StatusWaiting

	idx := insertIndex(s.entries, entry.Priority)
	s.entries = append(s.entries, nil)
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = entry

	return entry.Token, nil
}

// PopFromQueue moves the first waiting entry to in_consult and returns a copy.
func (r *Registry) PopFromQueue(doctorID string) (VisitEntry, error) {
	s, ok := r.state(doctorID)
	if !ok {
		return VisitEntry{}, ErrDoctorNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Status == StatusWaiting {
			now := time.Now()
			e.Status = StatusInConsult
			e.ConsultStart = &now
			return *e, nil
		}
	}
	return VisitEntry{}, ErrQueueEmpty
}

// CompleteConsult transitions an entry to done or cancelled, removes it from
// the live queue and returns it for archival. Terminal entries live on as
// VisitRecord rows, not in the queue.
func (r *Registry) CompleteConsult(doctorID string, token int, status Status) (VisitEntry, error) {
	if status != StatusDone && status != StatusCancelled {
		return VisitEntry{}, errors.New("status must be done or cancelled")
	}
	s, ok := r.state(doctorID)
	if !ok {
		return VisitEntry{}, ErrDoctorNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.Token == token {
			now := time.Now()
			e.Status = status
			e.ConsultEnd = &now
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return *e, nil
		}
	}
	return VisitEntry{}, ErrEntryNotFound
}

// Snapshot returns a consistent copy of the doctor's queue. Wait estimates are
// computed from snapshots outside the lock; they are advisory, the token is not.
func (r *Registry) Snapshot(doctorID string) ([]VisitEntry, error) {
	s, ok := r.state(doctorID)
	if !ok {
		return nil, ErrDoctorNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]VisitEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out, nil
}

// QueueLength returns the doctor's current live queue length.
func (r *Registry) QueueLength(doctorID string) int {
	s, ok := r.state(doctorID)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
