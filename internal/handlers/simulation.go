package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/sumo-bridge/internal/broadcast"
	"github.com/ukydev/sumo-bridge/internal/db"
	"github.com/ukydev/sumo-bridge/internal/middleware"
	"github.com/ukydev/sumo-bridge/internal/models"
	"github.com/ukydev/sumo-bridge/internal/protocol"
	"github.com/ukydev/sumo-bridge/internal/reconciler"
	"github.com/ukydev/sumo-bridge/internal/resolver"
	"github.com/ukydev/sumo-bridge/internal/supervisor"
)

// ProcessSupervisor is the slice of supervisor behavior the control plane
// needs; the concrete type lives in internal/supervisor.
type ProcessSupervisor interface {
	Spawn(desc supervisor.Descriptor) (int, error)
	Kill(sig syscall.Signal) error
	Signal(sig syscall.Signal) error
	Send(line []byte) error
	IsLive() bool
}

// Publisher pushes a payload to a named realtime topic.
type Publisher interface {
	Publish(topic string, data interface{})
}

// SimulationHandler handles simulation control requests. Every mutating
// request reconciles the persisted status first, performs the action,
// writes one audit record, and publishes the outcome.
type SimulationHandler struct {
	sup             ProcessSupervisor
	statuses        db.StatusCollection
	audits          db.AuditCollection
	hub             Publisher
	resolver        *resolver.Resolver
	settings        *MapSettings
	defaultScenario string
	defaultStep     float64
}

// NewSimulationHandler creates a new simulation control handler.
func NewSimulationHandler(
	sup ProcessSupervisor,
	statuses db.StatusCollection,
	audits db.AuditCollection,
	hub Publisher,
	res *resolver.Resolver,
	settings *MapSettings,
	defaultScenario string,
	defaultStep float64,
) *SimulationHandler {
	return &SimulationHandler{
		sup:             sup,
		statuses:        statuses,
		audits:          audits,
		hub:             hub,
		resolver:        res,
		settings:        settings,
		defaultScenario: defaultScenario,
		defaultStep:     defaultStep,
	}
}

// reconciledStatus reads the persisted record and corrects it against
// actual process liveness before anything else looks at it.
func (h *SimulationHandler) reconciledStatus(ctx context.Context) (*models.SimulationStatus, error) {
	status, err := h.statuses.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	current, changed := reconciler.Reconcile(*status, h.sup.IsLive(), time.Now())
	if changed {
		if err := h.statuses.SaveStatus(ctx, current); err != nil {
			return nil, err
		}
	}
	return &current, nil
}

// audit writes one control-action record. A sink failure is logged but
// never fails the action that already happened.
func (h *SimulationHandler) audit(ctx context.Context, action string, params map[string]interface{}) {
	actor := "anonymous"
	if claims, ok := middleware.GetUserFromContext(ctx); ok && claims.Subject != "" {
		actor = claims.Subject
	}
	record := models.AuditRecord{
		Action:    action,
		Actor:     actor,
		Params:    params,
		Timestamp: time.Now(),
	}
	if err := h.audits.InsertAudit(ctx, record); err != nil {
		log.WithError(err).WithField("action", action).Error("Failed to write audit record")
	}
}

// publishStatus pushes the current status to the sumo topic.
func (h *SimulationHandler) publishStatus(status *models.SimulationStatus) {
	h.hub.Publish(broadcast.TopicSumo, status)
}

// Status returns the reconciled simulation status.
func (h *SimulationHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := h.reconciledStatus(r.Context())
	if err != nil {
		http.Error(w, "Failed to read simulation status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// StartRequest is the body of a start command.
type StartRequest struct {
	Config     string  `json:"config,omitempty"`
	GUI        bool    `json:"gui,omitempty"`
	StepLength float64 `json:"step_length,omitempty"`
	RLModel    string  `json:"rl_model,omitempty"`
	RLDelta    int     `json:"rl_delta,omitempty"`
}

// Start spawns the simulator bridge for the selected scenario.
func (h *SimulationHandler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StartRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}

	status, err := h.reconciledStatus(r.Context())
	if err != nil {
		http.Error(w, "Failed to read simulation status", http.StatusInternalServerError)
		return
	}
	if status.IsRunning && h.sup.IsLive() {
		http.Error(w, "Simulation already running", http.StatusConflict)
		return
	}

	configPath := req.Config
	if configPath == "" {
		configPath = h.defaultScenario
	}
	if configPath == "" {
		http.Error(w, "No simulation config selected", http.StatusBadRequest)
		return
	}
	stepLength := req.StepLength
	if stepLength <= 0 {
		stepLength = h.defaultStep
	}

	now := time.Now()
	status.SetState(models.StateStarting, now)
	status.StartTime = &now
	status.EndTime = nil
	status.Config = models.SimConfig{
		ConfigPath: configPath,
		StepLength: stepLength,
		GUI:        req.GUI,
	}
	if err := h.statuses.SaveStatus(r.Context(), *status); err != nil {
		http.Error(w, "Failed to persist simulation status", http.StatusInternalServerError)
		return
	}

	desc := supervisor.Descriptor{
		ConfigPath: configPath,
		GUI:        req.GUI,
		StepLength: stepLength,
	}
	if req.RLModel != "" {
		desc.RL = &supervisor.RLOptions{ModelPath: req.RLModel, DecisionInterval: req.RLDelta}
	}

	pid, err := h.sup.Spawn(desc)
	if err != nil {
		status.SetState(models.StateError, time.Now())
		if saveErr := h.statuses.SaveStatus(r.Context(), *status); saveErr != nil {
			log.WithError(saveErr).Error("Failed to persist error state after spawn failure")
		}
		h.audit(r.Context(), "simulation_start", map[string]interface{}{
			"config": configPath,
			"error":  err.Error(),
		})
		h.hub.Publish(broadcast.TopicAlerts, protocol.NewLogFrame("error", err.Error()))
		h.publishStatus(status)

		switch {
		case errors.Is(err, supervisor.ErrConfigNotFound), errors.Is(err, supervisor.ErrModelNotFound):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	status.SetState(models.StateRunning, time.Now())
	if err := h.statuses.SaveStatus(r.Context(), *status); err != nil {
		http.Error(w, "Failed to persist simulation status", http.StatusInternalServerError)
		return
	}

	h.audit(r.Context(), "simulation_start", map[string]interface{}{
		"config":      configPath,
		"step_length": stepLength,
		"gui":         req.GUI,
		"rl":          req.RLModel != "",
		"pid":         pid,
	})
	h.publishStatus(status)
	h.hub.Publish(broadcast.TopicSumo, protocol.NewLogFrame("info", "simulation started"))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": status, "pid": pid})
}

// Stop terminates the simulator. The record is marked stopped immediately;
// the supervisor does not wait for OS-level exit confirmation, and the next
// start detects any still-draining handle itself.
func (h *SimulationHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := h.reconciledStatus(r.Context())
	if err != nil {
		http.Error(w, "Failed to read simulation status", http.StatusInternalServerError)
		return
	}

	if h.sup.IsLive() {
		status.SetState(models.StateStopping, time.Now())
		if err := h.statuses.SaveStatus(r.Context(), *status); err != nil {
			http.Error(w, "Failed to persist simulation status", http.StatusInternalServerError)
			return
		}
		if err := h.sup.Kill(syscall.SIGTERM); err != nil && !errors.Is(err, supervisor.ErrNoProcess) {
			log.WithError(err).Warn("Failed to signal simulator for termination")
		}
	}

	status.SetState(models.StateStopped, time.Now())
	if err := h.statuses.SaveStatus(r.Context(), *status); err != nil {
		http.Error(w, "Failed to persist simulation status", http.StatusInternalServerError)
		return
	}

	h.audit(r.Context(), "simulation_stop", nil)
	h.publishStatus(status)
	h.hub.Publish(broadcast.TopicSumo, protocol.NewLogFrame("info", "simulation stopped"))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Pause suspends the simulator process.
func (h *SimulationHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := h.reconciledStatus(r.Context())
	if err != nil {
		http.Error(w, "Failed to read simulation status", http.StatusInternalServerError)
		return
	}
	if !h.sup.IsLive() {
		http.Error(w, "No live simulator process", http.StatusConflict)
		return
	}

	if err := h.sup.Signal(syscall.SIGSTOP); err != nil {
		http.Error(w, "Failed to pause simulator", http.StatusInternalServerError)
		return
	}

	status.SetState(models.StatePaused, time.Now())
	if err := h.statuses.SaveStatus(r.Context(), *status); err != nil {
		http.Error(w, "Failed to persist simulation status", http.StatusInternalServerError)
		return
	}

	h.audit(r.Context(), "simulation_pause", nil)
	h.publishStatus(status)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Resume continues a paused simulator process.
func (h *SimulationHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := h.reconciledStatus(r.Context())
	if err != nil {
		http.Error(w, "Failed to read simulation status", http.StatusInternalServerError)
		return
	}
	if !h.sup.IsLive() || status.State != models.StatePaused {
		http.Error(w, "Simulation is not paused", http.StatusConflict)
		return
	}

	if err := h.sup.Signal(syscall.SIGCONT); err != nil {
		http.Error(w, "Failed to resume simulator", http.StatusInternalServerError)
		return
	}

	status.SetState(models.StateRunning, time.Now())
	if err := h.statuses.SaveStatus(r.Context(), *status); err != nil {
		http.Error(w, "Failed to persist simulation status", http.StatusInternalServerError)
		return
	}

	h.audit(r.Context(), "simulation_resume", nil)
	h.publishStatus(status)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// TLSCommandRequest drives a controller's phase program by friendly or
// internal id.
type TLSCommandRequest struct {
	ID         string `json:"id"`
	Cmd        string `json:"cmd"`
	PhaseIndex *int   `json:"phase_index,omitempty"`
}

// TLSCommand forwards a phase-program command to the simulator. The write
// is fire-and-forget: there is no acknowledgment protocol, so a 202 only
// means the command line reached the process's stdin.
func (h *SimulationHandler) TLSCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TLSCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ID == "" || !protocol.ValidTLSOp(req.Cmd) {
		http.Error(w, "A controller id and a valid cmd are required", http.StatusBadRequest)
		return
	}
	if req.PhaseIndex != nil && *req.PhaseIndex < 0 {
		http.Error(w, "Phase index must not be negative", http.StatusBadRequest)
		return
	}

	if _, err := h.reconciledStatus(r.Context()); err != nil {
		http.Error(w, "Failed to read simulation status", http.StatusInternalServerError)
		return
	}
	if !h.sup.IsLive() {
		http.Error(w, "No live simulator process", http.StatusConflict)
		return
	}

	internalID := h.resolver.Resolve(req.ID)
	line, err := protocol.EncodeCommand(protocol.NewTLSCommand(internalID, req.Cmd, req.PhaseIndex))
	if err != nil {
		http.Error(w, "Failed to encode command", http.StatusInternalServerError)
		return
	}
	if err := h.sup.Send(line); err != nil {
		if errors.Is(err, supervisor.ErrNoProcess) {
			http.Error(w, "No live simulator process", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}

	h.audit(r.Context(), "tls_command", map[string]interface{}{
		"id":  internalID,
		"cmd": req.Cmd,
	})
	h.hub.Publish(broadcast.TopicSumo, protocol.NewLogFrame("info", "tls command sent: "+req.Cmd+" "+internalID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{"accepted": true, "id": internalID})
}

// TLSStateRequest forces an explicit phase string on a controller.
type TLSStateRequest struct {
	ID    string `json:"id"`
	Phase string `json:"phase"`
}

// TLSState forwards a forced-phase command to the simulator.
func (h *SimulationHandler) TLSState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TLSStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Phase == "" {
		http.Error(w, "A controller id and phase are required", http.StatusBadRequest)
		return
	}

	if _, err := h.reconciledStatus(r.Context()); err != nil {
		http.Error(w, "Failed to read simulation status", http.StatusInternalServerError)
		return
	}
	if !h.sup.IsLive() {
		http.Error(w, "No live simulator process", http.StatusConflict)
		return
	}

	internalID := h.resolver.Resolve(req.ID)
	line, err := protocol.EncodeCommand(protocol.NewTLSStateCommand(internalID, req.Phase))
	if err != nil {
		http.Error(w, "Failed to encode command", http.StatusInternalServerError)
		return
	}
	if err := h.sup.Send(line); err != nil {
		if errors.Is(err, supervisor.ErrNoProcess) {
			http.Error(w, "No live simulator process", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}

	h.audit(r.Context(), "tls_state", map[string]interface{}{
		"id":    internalID,
		"phase": req.Phase,
	})
	h.hub.Publish(broadcast.TopicSumo, protocol.NewLogFrame("info", "tls state forced on "+internalID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{"accepted": true, "id": internalID})
}

// Controllers exposes the identity mapping for discovery.
func (h *SimulationHandler) Controllers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	total, friendly := h.resolver.Counts()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total":    total,
		"friendly": friendly,
		"mapping":  h.resolver.Mapping(),
		"inverse":  h.resolver.Inverse(),
		"known":    h.resolver.KnownIDs(),
	})
}

// MapSettingsRequest updates the bounding box and feed mode.
type MapSettingsRequest struct {
	BBox models.BoundingBox `json:"bbox"`
	Mode models.MapMode     `json:"mode"`
}

// Map reads or updates the shared map settings.
func (h *SimulationHandler) Map(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		bbox, mode := h.settings.Get()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(MapSettingsRequest{BBox: bbox, Mode: mode})

	case http.MethodPut:
		var req MapSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		// A zero box turns geofiltering off; anything else must span a
		// positive area.
		if req.BBox != (models.BoundingBox{}) && !req.BBox.Valid() {
			http.Error(w, "Bounding box must span a positive area", http.StatusBadRequest)
			return
		}
		if !models.ValidMapMode(req.Mode) {
			http.Error(w, "Invalid map mode", http.StatusBadRequest)
			return
		}

		h.settings.Set(req.BBox, req.Mode)
		h.audit(r.Context(), "map_settings", map[string]interface{}{
			"bbox": req.BBox,
			"mode": req.Mode,
		})
		h.hub.Publish(broadcast.TopicSumo, map[string]interface{}{
			"event": "map_settings_changed",
			"bbox":  req.BBox,
			"mode":  req.Mode,
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(req)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
