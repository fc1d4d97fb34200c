package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/sumo-bridge/internal/broadcast"
	"github.com/ukydev/sumo-bridge/internal/config"
	"github.com/ukydev/sumo-bridge/internal/db"
	"github.com/ukydev/sumo-bridge/internal/emitter"
	"github.com/ukydev/sumo-bridge/internal/geofilter"
	"github.com/ukydev/sumo-bridge/internal/handlers"
	"github.com/ukydev/sumo-bridge/internal/middleware"
	"github.com/ukydev/sumo-bridge/internal/models"
	"github.com/ukydev/sumo-bridge/internal/protocol"
	"github.com/ukydev/sumo-bridge/internal/resolver"
	"github.com/ukydev/sumo-bridge/internal/supervisor"
)

// maxAlertLines caps the soft-failure digest between alert producer ticks.
const maxAlertLines = 20

// pipeline fans decoded bridge frames out to realtime topics, applying the
// shared geofilter settings and keeping the latest viz frame plus a
// soft-failure digest for the periodic producers.
type pipeline struct {
	hub      *broadcast.Hub
	settings *handlers.MapSettings
	statuses db.StatusCollection

	mu         sync.Mutex
	lastViz    *protocol.VizFrame
	alertLines []string
}

// onFrame routes one decoded frame. The map mode gates the simulated
// vehicle feed: in live mode the map renders an external feed, so
// simulated viz and route frames are held back from the traffic topic,
// while network geometry and diagnostics still flow.
func (p *pipeline) onFrame(frame protocol.Frame) {
	bbox, mode := p.settings.Get()
	if bbox.Valid() {
		frame = geofilter.Filter(frame, bbox)
	}
	simulated := mode == models.MapModeSimulated

	switch frame.Type {
	case protocol.FrameViz:
		p.mu.Lock()
		p.lastViz = frame.Viz
		p.mu.Unlock()
		if simulated {
			p.hub.Publish(broadcast.TopicTraffic, frame)
		}
	case protocol.FrameNet:
		p.hub.Publish(broadcast.TopicSumo, frame)
	case protocol.FrameRoute:
		if simulated {
			p.hub.Publish(broadcast.TopicTraffic, frame)
		}
	case protocol.FrameLog:
		p.hub.Publish(broadcast.TopicSumo, frame)
	case protocol.FrameError:
		p.recordAlert(frame.Error.Message)
		p.hub.Publish(broadcast.TopicAlerts, frame)
	}
}

func (p *pipeline) onStderr(line string, fatal bool) {
	if fatal {
		log.WithField("line", line).Error("Fatal simulator diagnostic")
		p.recordAlert(line)
		p.hub.Publish(broadcast.TopicAlerts, protocol.NewLogFrame("error", line))
		return
	}
	log.WithField("line", line).Debug("Simulator stderr")
}

func (p *pipeline) recordAlert(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.alertLines) < maxAlertLines {
		p.alertLines = append(p.alertLines, line)
	}
}

// onExit folds the classified process exit back into the persisted status.
// An operator-initiated stop already wrote its terminal state, so a
// stopped-class exit of an already terminal record is left alone.
func (p *pipeline) onExit(class supervisor.ExitClass) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := p.statuses.GetStatus(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to read status after simulator exit")
		return
	}

	now := time.Now()
	switch class {
	case supervisor.ExitCompleted:
		status.SetState(models.StateCompleted, now)
	case supervisor.ExitError:
		status.SetState(models.StateError, now)
	case supervisor.ExitStopped:
		if !status.State.Terminal() {
			status.SetState(models.StateStopped, now)
		}
	}

	if err := p.statuses.SaveStatus(ctx, *status); err != nil {
		log.WithError(err).Error("Failed to persist status after simulator exit")
		return
	}
	p.hub.Publish(broadcast.TopicSumo, status)
	if class == supervisor.ExitError {
		p.hub.Publish(broadcast.TopicAlerts, protocol.NewLogFrame("error", "simulator exited with an error"))
	}
}

// dashboardSummary is the periodic aggregate pushed to dashboard clients.
type dashboardSummary struct {
	State       models.SimState `json:"state"`
	Step        int             `json:"step"`
	Vehicles    int             `json:"vehicles"`
	Controllers int             `json:"controllers"`
	Clients     int             `json:"clients"`
}

// trafficSummary is the periodic flow aggregate for the traffic topic.
type trafficSummary struct {
	Step     int     `json:"step"`
	TS       int64   `json:"ts"`
	Vehicles int     `json:"vehicles"`
	Moving   int     `json:"moving"`
	AvgSpeed float64 `json:"avg_speed"`
}

// alertDigest batches soft failures between alert producer ticks.
type alertDigest struct {
	Count int      `json:"count"`
	Lines []string `json:"lines"`
}

// trafficSnapshot aggregates the latest viz frame. Nil before the first
// frame arrives, which skips the producer tick.
func (p *pipeline) trafficSnapshot() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastViz == nil {
		return nil
	}

	summary := trafficSummary{
		Step:     p.lastViz.Step,
		TS:       p.lastViz.TS,
		Vehicles: len(p.lastViz.Vehicles),
	}
	var total float64
	for _, v := range p.lastViz.Vehicles {
		total += v.Speed
		if v.Speed > 0.1 {
			summary.Moving++
		}
	}
	if summary.Vehicles > 0 {
		summary.AvgSpeed = total / float64(summary.Vehicles)
	}
	return summary
}

// drainAlerts takes the accumulated soft-failure digest, clearing it. Nil
// when nothing happened since the last tick.
func (p *pipeline) drainAlerts() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.alertLines) == 0 {
		return nil
	}
	digest := alertDigest{Count: len(p.alertLines), Lines: p.alertLines}
	p.alertLines = nil
	return digest
}

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)

	cfg := config.Load()

	mongoClient, err := db.ConnectMongo()
	if err != nil {
		log.Fatal("Failed to connect to MongoDB: ", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Error("Error disconnecting from MongoDB: ", err)
		}
	}()
	log.Info("Connected to MongoDB successfully")

	database := mongoClient.Database("sumo_bridge")
	statuses := &db.MongoStatusCollection{Collection: database.Collection("simulation_status")}
	audits := &db.MongoAuditCollection{Collection: database.Collection("audit_log")}

	cm, err := config.LoadControllerMap(cfg.ControllerMap)
	if err != nil {
		log.Fatal("Failed to load controller name file: ", err)
	}
	res := resolver.New(cm.Controllers, cm.KnownIDs)
	total, friendly := res.Counts()
	log.WithFields(log.Fields{
		"controllers": total,
		"friendly":    friendly,
	}).Info("Controller resolver ready")

	settings := handlers.NewMapSettings()
	hub := broadcast.NewHub()

	if cfg.MQTTBroker != "" {
		em := emitter.NewMQTTEmitter(cfg.MQTTBroker, cfg.MQTTClientID, "sumo")
		if err := em.Connect(); err != nil {
			log.WithError(err).Warn("MQTT mirror unavailable, realtime feed is websocket only")
		} else {
			hub.Mirror = em.Publish
			defer em.Disconnect()
		}
	}

	pipe := &pipeline{hub: hub, settings: settings, statuses: statuses}
	sup := supervisor.New(supervisor.Config{
		BridgeCommand: cfg.BridgeCommand,
		SumoBinary:    cfg.SumoBinary,
		SumoHome:      cfg.SumoHome,
		KillGrace:     cfg.KillGrace,
		OnFrame:       pipe.onFrame,
		OnStderr:      pipe.onStderr,
		OnExit:        pipe.onExit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.StartProducers(ctx, []broadcast.Producer{
		{
			Topic:    broadcast.TopicDashboard,
			Interval: 2 * time.Second,
			Fetch: func(ctx context.Context) (interface{}, error) {
				status, err := statuses.GetStatus(ctx)
				if err != nil {
					return nil, err
				}
				summary := dashboardSummary{
					State:   status.State,
					Clients: hub.ClientCount(),
				}
				pipe.mu.Lock()
				if pipe.lastViz != nil {
					summary.Step = pipe.lastViz.Step
					summary.Vehicles = len(pipe.lastViz.Vehicles)
					summary.Controllers = len(pipe.lastViz.TLS)
				}
				pipe.mu.Unlock()
				return summary, nil
			},
		},
		{
			Topic:    broadcast.TopicTraffic,
			Interval: 3 * time.Second,
			Fetch: func(ctx context.Context) (interface{}, error) {
				return pipe.trafficSnapshot(), nil
			},
		},
		{
			Topic:    broadcast.TopicAlerts,
			Interval: 10 * time.Second,
			Fetch: func(ctx context.Context) (interface{}, error) {
				return pipe.drainAlerts(), nil
			},
		},
		{
			Topic:    broadcast.TopicSumo,
			Interval: 5 * time.Second,
			Fetch: func(ctx context.Context) (interface{}, error) {
				status, err := statuses.GetStatus(ctx)
				if err != nil {
					return nil, err
				}
				// Fold the latest observed step into the persisted snapshot
				// so a restart resumes with an accurate progress reading.
				pipe.mu.Lock()
				step := 0
				if pipe.lastViz != nil {
					step = pipe.lastViz.Step
				}
				pipe.mu.Unlock()
				if status.IsRunning && step > status.Config.CurrentStep {
					status.Config.CurrentStep = step
					if err := statuses.SaveStatus(ctx, *status); err != nil {
						log.WithError(err).Warn("Failed to persist simulation progress")
					}
				}
				return status, nil
			},
		},
	})

	simHandler := handlers.NewSimulationHandler(
		sup, statuses, audits, hub, res, settings,
		cfg.DefaultScenario, cfg.StepLength,
	)
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/simulation/status", simHandler.Status)
	mux.HandleFunc("/api/simulation/start", simHandler.Start)
	mux.HandleFunc("/api/simulation/stop", simHandler.Stop)
	mux.HandleFunc("/api/simulation/pause", simHandler.Pause)
	mux.HandleFunc("/api/simulation/resume", simHandler.Resume)
	mux.HandleFunc("/api/simulation/tls", simHandler.TLSCommand)
	mux.HandleFunc("/api/simulation/tls/state", simHandler.TLSState)
	mux.HandleFunc("/api/settings/map", simHandler.Map)
	mux.HandleFunc("/api/controllers", simHandler.Controllers)
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := ":" + cfg.HTTPPort
	log.Info("Server starting on port ", cfg.HTTPPort)
	if err := http.ListenAndServe(addr, authMiddleware.Authenticate(mux)); err != nil {
		log.Fatal("Server failed to start: ", err)
	}
}
