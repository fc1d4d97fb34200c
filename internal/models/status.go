package models

import "time"

// SimState is the lifecycle state of the supervised simulation run.
type SimState string

const (
	StateStopped   SimState = "stopped"
	StateStarting  SimState = "starting"
	StateRunning   SimState = "running"
	StatePaused    SimState = "paused"
	StateStopping  SimState = "stopping"
	StateError     SimState = "error"
	StateCompleted SimState = "completed"
)

// LiveIntent reports whether the state implies a live simulator process.
func (s SimState) LiveIntent() bool {
	return s == StateStarting || s == StateRunning
}

// Terminal reports whether the state ends a run. Terminal states stay in
// place until an operator issues a new start.
func (s SimState) Terminal() bool {
	return s == StateStopped || s == StateError || s == StateCompleted
}

// StatusDocID is the fixed document key for the status record. There is
// exactly one record per installation.
const StatusDocID = "simulation"

// SimConfig is the configuration snapshot captured when a run starts.
type SimConfig struct {
	ConfigPath  string  `bson:"config_path" json:"config_path"`
	StepLength  float64 `bson:"step_length" json:"step_length"`
	GUI         bool    `bson:"gui" json:"gui"`
	CurrentStep int     `bson:"current_step" json:"current_step"`
	TotalSteps  int     `bson:"total_steps" json:"total_steps"`
}

// SimulationStatus is the persisted intended-state record for the one
// supervised simulator process. It is read and fully rewritten on every
// transition and never hard-deleted.
type SimulationStatus struct {
	ID        string     `bson:"_id" json:"id"`
	State     SimState   `bson:"state" json:"state"`
	IsRunning bool       `bson:"is_running" json:"is_running"`
	StartTime *time.Time `bson:"start_time,omitempty" json:"start_time,omitempty"`
	EndTime   *time.Time `bson:"end_time,omitempty" json:"end_time,omitempty"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
	Config    SimConfig  `bson:"config" json:"config"`
}

// NewStatus returns a fresh stopped record. The record is created lazily on
// the first status read if none exists yet.
func NewStatus() *SimulationStatus {
	return &SimulationStatus{
		ID:        StatusDocID,
		State:     StateStopped,
		IsRunning: false,
		UpdatedAt: time.Now(),
	}
}

// SetState moves the record to state, maintaining the invariant that
// IsRunning is true iff the state implies a live process, and that a move
// into a terminal state assigns an end timestamp if none is set.
func (s *SimulationStatus) SetState(state SimState, now time.Time) {
	s.State = state
	s.IsRunning = state.LiveIntent()
	s.UpdatedAt = now
	if state.Terminal() && s.EndTime == nil {
		t := now
		s.EndTime = &t
	}
}
