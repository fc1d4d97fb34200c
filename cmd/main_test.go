package main

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/sumo-bridge/internal/broadcast"
	"github.com/ukydev/sumo-bridge/internal/handlers"
	"github.com/ukydev/sumo-bridge/internal/models"
	"github.com/ukydev/sumo-bridge/internal/protocol"
)

type captureClient struct {
	id string

	mu       sync.Mutex
	received int
}

func (c *captureClient) ID() string { return c.id }

func (c *captureClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received++
	return nil
}

func (c *captureClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

func f64(v float64) *float64 { return &v }

func vizFrame(step int, vehicles ...protocol.Vehicle) protocol.Frame {
	return protocol.Frame{Type: protocol.FrameViz, Viz: &protocol.VizFrame{
		Step:     step,
		TS:       1700000000000,
		Vehicles: vehicles,
	}}
}

func newTestPipeline() (*pipeline, *captureClient) {
	hub := broadcast.NewHub()
	client := &captureClient{id: "c"}
	hub.Register(client)
	return &pipeline{hub: hub, settings: handlers.NewMapSettings()}, client
}

func TestOnFrame_ModeGatesSimulatedFeed(t *testing.T) {
	p, client := newTestPipeline()

	// Default simulated mode forwards viz frames.
	p.onFrame(vizFrame(1, protocol.Vehicle{ID: "v1", Speed: 3}))
	assert.Equal(t, 1, client.count())

	// Live mode holds the simulated feed back but still records the frame
	// for the producers.
	p.settings.Set(models.BoundingBox{}, models.MapModeLive)
	p.onFrame(vizFrame(2, protocol.Vehicle{ID: "v1", Speed: 3}))
	assert.Equal(t, 1, client.count())
	require.NotNil(t, p.lastViz)
	assert.Equal(t, 2, p.lastViz.Step)

	// Network geometry and diagnostics are mode-independent.
	p.onFrame(protocol.Frame{Type: protocol.FrameNet, Net: &protocol.NetFrame{}})
	p.onFrame(protocol.NewLogFrame("info", "still flowing"))
	assert.Equal(t, 3, client.count())
}

func TestOnFrame_AppliesBoundingBox(t *testing.T) {
	p, _ := newTestPipeline()
	p.settings.Set(models.BoundingBox{MinLat: 8.85, MinLon: 38.6, MaxLat: 9.15, MaxLon: 38.9}, models.MapModeSimulated)

	p.onFrame(vizFrame(1,
		protocol.Vehicle{ID: "inside", Lat: f64(9.0), Lon: f64(38.7)},
		protocol.Vehicle{ID: "outside", Lat: f64(10.0), Lon: f64(38.7)},
	))

	require.NotNil(t, p.lastViz)
	require.Len(t, p.lastViz.Vehicles, 1)
	assert.Equal(t, "inside", p.lastViz.Vehicles[0].ID)
}

func TestTrafficSnapshot(t *testing.T) {
	p, _ := newTestPipeline()

	assert.Nil(t, p.trafficSnapshot(), "no viz frame yet must skip the tick")

	p.onFrame(vizFrame(7,
		protocol.Vehicle{ID: "moving", Speed: 10},
		protocol.Vehicle{ID: "stopped", Speed: 0},
	))

	snapshot, ok := p.trafficSnapshot().(trafficSummary)
	require.True(t, ok)
	assert.Equal(t, 7, snapshot.Step)
	assert.Equal(t, 2, snapshot.Vehicles)
	assert.Equal(t, 1, snapshot.Moving)
	assert.Equal(t, 5.0, snapshot.AvgSpeed)
}

func TestDrainAlerts(t *testing.T) {
	p, _ := newTestPipeline()

	assert.Nil(t, p.drainAlerts(), "empty digest must skip the tick")

	p.onStderr("MemoryError: unable to allocate", true)
	p.onFrame(protocol.Frame{Type: protocol.FrameError, Error: &protocol.ErrorFrame{Message: "bridge crashed"}})
	p.onStderr("Step #10", false)

	digest, ok := p.drainAlerts().(alertDigest)
	require.True(t, ok)
	assert.Equal(t, 2, digest.Count)
	assert.Equal(t, []string{"MemoryError: unable to allocate", "bridge crashed"}, digest.Lines)

	assert.Nil(t, p.drainAlerts(), "drain must clear the digest")
}

func TestRecordAlert_Capped(t *testing.T) {
	p, _ := newTestPipeline()
	for i := 0; i < maxAlertLines*2; i++ {
		p.recordAlert("MemoryError")
	}

	digest, ok := p.drainAlerts().(alertDigest)
	require.True(t, ok)
	assert.Equal(t, maxAlertLines, digest.Count)
}
