package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/sumo-bridge/internal/models"
	"github.com/ukydev/sumo-bridge/internal/resolver"
	"github.com/ukydev/sumo-bridge/internal/supervisor"
)

type mockSupervisor struct {
	live     bool
	spawnPID int
	spawnErr error
	sendErr  error

	spawned  []supervisor.Descriptor
	sent     [][]byte
	killed   []syscall.Signal
	signaled []syscall.Signal
}

func (m *mockSupervisor) Spawn(desc supervisor.Descriptor) (int, error) {
	m.spawned = append(m.spawned, desc)
	if m.spawnErr != nil {
		return 0, m.spawnErr
	}
	m.live = true
	return m.spawnPID, nil
}

func (m *mockSupervisor) Kill(sig syscall.Signal) error {
	m.killed = append(m.killed, sig)
	m.live = false
	return nil
}

func (m *mockSupervisor) Signal(sig syscall.Signal) error {
	m.signaled = append(m.signaled, sig)
	return nil
}

func (m *mockSupervisor) Send(line []byte) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, line)
	return nil
}

func (m *mockSupervisor) IsLive() bool { return m.live }

type mockStatuses struct {
	status models.SimulationStatus
	saves  int
}

func (m *mockStatuses) GetStatus(ctx context.Context) (*models.SimulationStatus, error) {
	out := m.status
	return &out, nil
}

func (m *mockStatuses) SaveStatus(ctx context.Context, status models.SimulationStatus) error {
	m.status = status
	m.saves++
	return nil
}

type mockAudits struct {
	records []models.AuditRecord
}

func (m *mockAudits) InsertAudit(ctx context.Context, record models.AuditRecord) error {
	m.records = append(m.records, record)
	return nil
}

type mockPublisher struct {
	topics []string
}

func (m *mockPublisher) Publish(topic string, data interface{}) {
	m.topics = append(m.topics, topic)
}

type fixture struct {
	sup      *mockSupervisor
	statuses *mockStatuses
	audits   *mockAudits
	pub      *mockPublisher
	handler  *SimulationHandler
}

func newFixture(state models.SimState) *fixture {
	f := &fixture{
		sup:      &mockSupervisor{spawnPID: 4242},
		statuses: &mockStatuses{status: *models.NewStatus()},
		audits:   &mockAudits{},
		pub:      &mockPublisher{},
	}
	f.statuses.status.SetState(state, time.Now())
	f.handler = NewSimulationHandler(
		f.sup, f.statuses, f.audits, f.pub,
		resolver.New(map[string]string{"Meskel Square": "cluster_2505"}, []string{"gneJ44"}),
		NewMapSettings(),
		"scenarios/addis.sumocfg", 1.0,
	)
	return f
}

func TestStatus_ReconcilesStaleRecord(t *testing.T) {
	f := newFixture(models.StateRunning)
	f.sup.live = false

	w := httptest.NewRecorder()
	f.handler.Status(w, httptest.NewRequest("GET", "/api/simulation/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got models.SimulationStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.StateStopped, got.State)
	assert.False(t, got.IsRunning)
	assert.Equal(t, 1, f.statuses.saves, "corrected record must be persisted")
}

func TestStart_Success(t *testing.T) {
	f := newFixture(models.StateStopped)

	body := bytes.NewBufferString(`{"config":"scenarios/custom.sumocfg","gui":true,"step_length":0.5}`)
	w := httptest.NewRecorder()
	f.handler.Start(w, httptest.NewRequest("POST", "/api/simulation/start", body))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, f.sup.spawned, 1)
	desc := f.sup.spawned[0]
	assert.Equal(t, "scenarios/custom.sumocfg", desc.ConfigPath)
	assert.True(t, desc.GUI)
	assert.Equal(t, 0.5, desc.StepLength)

	assert.Equal(t, models.StateRunning, f.statuses.status.State)
	assert.True(t, f.statuses.status.IsRunning)
	assert.NotNil(t, f.statuses.status.StartTime)
	assert.Nil(t, f.statuses.status.EndTime)

	require.Len(t, f.audits.records, 1)
	assert.Equal(t, "simulation_start", f.audits.records[0].Action)
	assert.Equal(t, "anonymous", f.audits.records[0].Actor)
	assert.NotEmpty(t, f.pub.topics)
}

func TestStart_DefaultsApplied(t *testing.T) {
	f := newFixture(models.StateStopped)

	w := httptest.NewRecorder()
	f.handler.Start(w, httptest.NewRequest("POST", "/api/simulation/start", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.sup.spawned, 1)
	assert.Equal(t, "scenarios/addis.sumocfg", f.sup.spawned[0].ConfigPath)
	assert.Equal(t, 1.0, f.sup.spawned[0].StepLength)
}

func TestStart_AlreadyRunning(t *testing.T) {
	f := newFixture(models.StateRunning)
	f.sup.live = true

	w := httptest.NewRecorder()
	f.handler.Start(w, httptest.NewRequest("POST", "/api/simulation/start", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, f.sup.spawned)
}

func TestStart_ConfigNotFound(t *testing.T) {
	f := newFixture(models.StateStopped)
	f.sup.spawnErr = supervisor.ErrConfigNotFound

	w := httptest.NewRecorder()
	f.handler.Start(w, httptest.NewRequest("POST", "/api/simulation/start", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.StateError, f.statuses.status.State)
	assert.False(t, f.statuses.status.IsRunning)
}

func TestStart_SpawnFailure(t *testing.T) {
	f := newFixture(models.StateStopped)
	f.sup.spawnErr = supervisor.ErrSpawn

	w := httptest.NewRecorder()
	f.handler.Start(w, httptest.NewRequest("POST", "/api/simulation/start", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, models.StateError, f.statuses.status.State)
}

func TestStop_LiveProcess(t *testing.T) {
	f := newFixture(models.StateRunning)
	f.sup.live = true

	w := httptest.NewRecorder()
	f.handler.Stop(w, httptest.NewRequest("POST", "/api/simulation/stop", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.sup.killed, 1)
	assert.Equal(t, syscall.SIGTERM, f.sup.killed[0])
	assert.Equal(t, models.StateStopped, f.statuses.status.State)
	assert.NotNil(t, f.statuses.status.EndTime)
	require.Len(t, f.audits.records, 1)
	assert.Equal(t, "simulation_stop", f.audits.records[0].Action)
}

func TestStop_AlreadyStopped(t *testing.T) {
	f := newFixture(models.StateStopped)

	w := httptest.NewRecorder()
	f.handler.Stop(w, httptest.NewRequest("POST", "/api/simulation/stop", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.sup.killed)
	assert.Equal(t, models.StateStopped, f.statuses.status.State)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(models.StateRunning)
	f.sup.live = true

	w := httptest.NewRecorder()
	f.handler.Pause(w, httptest.NewRequest("POST", "/api/simulation/pause", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.sup.signaled, 1)
	assert.Equal(t, syscall.SIGSTOP, f.sup.signaled[0])
	assert.Equal(t, models.StatePaused, f.statuses.status.State)
	assert.False(t, f.statuses.status.IsRunning)

	w = httptest.NewRecorder()
	f.handler.Resume(w, httptest.NewRequest("POST", "/api/simulation/resume", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.sup.signaled, 2)
	assert.Equal(t, syscall.SIGCONT, f.sup.signaled[1])
	assert.Equal(t, models.StateRunning, f.statuses.status.State)
}

func TestPause_NoProcess(t *testing.T) {
	f := newFixture(models.StateStopped)

	w := httptest.NewRecorder()
	f.handler.Pause(w, httptest.NewRequest("POST", "/api/simulation/pause", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, f.sup.signaled)
}

func TestResume_NotPaused(t *testing.T) {
	f := newFixture(models.StateRunning)
	f.sup.live = true

	w := httptest.NewRecorder()
	f.handler.Resume(w, httptest.NewRequest("POST", "/api/simulation/resume", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, f.sup.signaled)
}

func TestTLSCommand_Accepted(t *testing.T) {
	f := newFixture(models.StateRunning)
	f.sup.live = true

	body := bytes.NewBufferString(`{"id":"Meskel Square","cmd":"set","phase_index":2}`)
	w := httptest.NewRecorder()
	f.handler.TLSCommand(w, httptest.NewRequest("POST", "/api/simulation/tls", body))

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, f.sup.sent, 1)
	line := f.sup.sent[0]
	assert.Contains(t, string(line), `"cluster_2505"`, "friendly name must resolve before hitting the wire")
	assert.Contains(t, string(line), `"phaseIndex":2`)
	assert.True(t, bytes.HasSuffix(line, []byte("\n")))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["accepted"])
	assert.Equal(t, "cluster_2505", resp["id"])
}

func TestTLSCommand_RejectedWithoutProcess(t *testing.T) {
	f := newFixture(models.StateStopped)

	body := bytes.NewBufferString(`{"id":"gneJ44","cmd":"next"}`)
	w := httptest.NewRecorder()
	f.handler.TLSCommand(w, httptest.NewRequest("POST", "/api/simulation/tls", body))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, f.sup.sent)
	assert.Empty(t, f.audits.records)
}

func TestTLSCommand_NegativePhaseIndex(t *testing.T) {
	f := newFixture(models.StateRunning)
	f.sup.live = true

	body := bytes.NewBufferString(`{"id":"gneJ44","cmd":"set","phase_index":-1}`)
	w := httptest.NewRecorder()
	f.handler.TLSCommand(w, httptest.NewRequest("POST", "/api/simulation/tls", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.sup.sent)
}

func TestTLSCommand_InvalidOp(t *testing.T) {
	f := newFixture(models.StateRunning)
	f.sup.live = true

	body := bytes.NewBufferString(`{"id":"gneJ44","cmd":"teleport"}`)
	w := httptest.NewRecorder()
	f.handler.TLSCommand(w, httptest.NewRequest("POST", "/api/simulation/tls", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.sup.sent)
}

func TestTLSState_Accepted(t *testing.T) {
	f := newFixture(models.StateRunning)
	f.sup.live = true

	body := bytes.NewBufferString(`{"id":"gneJ44","phase":"rrGG"}`)
	w := httptest.NewRecorder()
	f.handler.TLSState(w, httptest.NewRequest("POST", "/api/simulation/tls/state", body))

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, f.sup.sent, 1)
	assert.Contains(t, string(f.sup.sent[0]), `"tls_state"`)
	assert.Contains(t, string(f.sup.sent[0]), `"rrGG"`)
}

func TestControllers(t *testing.T) {
	f := newFixture(models.StateStopped)

	w := httptest.NewRecorder()
	f.handler.Controllers(w, httptest.NewRequest("GET", "/api/controllers", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Total    int               `json:"total"`
		Friendly int               `json:"friendly"`
		Mapping  map[string]string `json:"mapping"`
		Known    []string          `json:"known"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Friendly)
	assert.Equal(t, "cluster_2505", resp.Mapping["Meskel Square"])
	assert.Equal(t, []string{"cluster_2505", "gneJ44"}, resp.Known)
}

func TestMapSettings(t *testing.T) {
	f := newFixture(models.StateStopped)

	t.Run("put valid box", func(t *testing.T) {
		body := bytes.NewBufferString(`{"bbox":{"minLat":8.85,"minLon":38.6,"maxLat":9.15,"maxLon":38.9},"mode":"live"}`)
		w := httptest.NewRecorder()
		f.handler.Map(w, httptest.NewRequest("PUT", "/api/settings/map", body))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		bbox, mode := f.handler.settings.Get()
		assert.Equal(t, 8.85, bbox.MinLat)
		assert.Equal(t, models.MapModeLive, mode)
		require.Len(t, f.audits.records, 1)
		assert.Equal(t, "map_settings", f.audits.records[0].Action)
	})

	t.Run("get reflects update", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.handler.Map(w, httptest.NewRequest("GET", "/api/settings/map", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp MapSettingsRequest
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 9.15, resp.BBox.MaxLat)
		assert.Equal(t, models.MapModeLive, resp.Mode)
	})

	t.Run("zero box disables filtering", func(t *testing.T) {
		body := bytes.NewBufferString(`{"bbox":{},"mode":"simulated"}`)
		w := httptest.NewRecorder()
		f.handler.Map(w, httptest.NewRequest("PUT", "/api/settings/map", body))

		require.Equal(t, http.StatusOK, w.Code)
		bbox, _ := f.handler.settings.Get()
		assert.False(t, bbox.Valid())
	})

	t.Run("inverted box rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"bbox":{"minLat":9.15,"minLon":38.6,"maxLat":8.85,"maxLon":38.9},"mode":"simulated"}`)
		w := httptest.NewRecorder()
		f.handler.Map(w, httptest.NewRequest("PUT", "/api/settings/map", body))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown mode rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"bbox":{"minLat":8.85,"minLon":38.6,"maxLat":9.15,"maxLon":38.9},"mode":"hybrid"}`)
		w := httptest.NewRecorder()
		f.handler.Map(w, httptest.NewRequest("PUT", "/api/settings/map", body))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
