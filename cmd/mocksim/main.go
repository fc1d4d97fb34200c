// mocksim is a stand-in for the real simulator bridge. It accepts the same
// command line, speaks the same newline-delimited JSON protocol on stdout
// and stdin, and fabricates plausible traffic around Addis Ababa, which
// makes it useful for developing the service without a simulator install.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/sumo-bridge/internal/protocol"
)

// Junctions of the fabricated network, roughly central Addis Ababa.
var junctions = []protocol.GeoPoint{
	{Lat: 9.0108, Lon: 38.7613}, // Meskel Square
	{Lat: 9.0301, Lon: 38.7635}, // Arat Kilo
	{Lat: 9.0370, Lon: 38.7616}, // Sidist Kilo
	{Lat: 9.0054, Lon: 38.7636}, // Bole Road
	{Lat: 9.0220, Lon: 38.7468}, // Piassa
	{Lat: 8.9983, Lon: 38.7890}, // Bole Airport
}

var tlsIDs = []string{
	"cluster_2505", "cluster_2812", "joinedS_10", "joinedS_21", "gneJ44",
}

var phaseCycle = []string{"GGrr", "yyrr", "rrGG", "rryy"}

// normalizePhase wraps i into [0, n), handling negative indices so an
// out-of-range command can never index past the cycle.
func normalizePhase(i, n int) int {
	return ((i % n) + n) % n
}

func jitterPoint(base protocol.GeoPoint, meters float64) protocol.GeoPoint {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return protocol.GeoPoint{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

// sim holds the fabricated world plus the stdout encoder. Stdout carries
// the frame protocol, so every write goes through one mutex and nothing
// else may print there.
type sim struct {
	mu  sync.Mutex
	enc *json.Encoder

	stateMu sync.Mutex
	phases  map[string]int
	paused  map[string]bool
}

func newSim() *sim {
	phases := make(map[string]int, len(tlsIDs))
	for _, id := range tlsIDs {
		phases[id] = rand.Intn(len(phaseCycle))
	}
	return &sim{
		enc:    json.NewEncoder(os.Stdout),
		phases: phases,
		paused: make(map[string]bool),
	}
}

func (s *sim) emit(frame protocol.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(frame); err != nil {
		log.WithError(err).Fatal("Cannot write to stdout")
	}
}

func (s *sim) emitLog(level, message string) {
	s.emit(protocol.NewLogFrame(level, message))
}

// emitNet sends the static lane geometry once, before any viz frames.
func (s *sim) emitNet() {
	lanes := make([]protocol.Lane, 0, len(junctions)-1)
	geo := &protocol.GeoBounds{MinLat: 90, MinLon: 180, MaxLat: -90, MaxLon: -180}
	for i := 0; i+1 < len(junctions); i++ {
		a, b := junctions[i], junctions[i+1]
		lane := protocol.Lane{
			ID:     "lane_" + tlsIDs[i%len(tlsIDs)],
			Speed:  13.89,
			Length: 400 + rand.Float64()*600,
			Points: []protocol.Point{{X: float64(i) * 400}, {X: float64(i+1) * 400}},
			LonLat: []protocol.GeoPoint{a, jitterPoint(a, 100), b},
		}
		lanes = append(lanes, lane)
		for _, p := range lane.LonLat {
			geo.MinLat = math.Min(geo.MinLat, p.Lat)
			geo.MinLon = math.Min(geo.MinLon, p.Lon)
			geo.MaxLat = math.Max(geo.MaxLat, p.Lat)
			geo.MaxLon = math.Max(geo.MaxLon, p.Lon)
		}
	}
	s.emit(protocol.Frame{Type: protocol.FrameNet, Net: &protocol.NetFrame{
		Bounds:    &protocol.Bounds{MaxX: float64(len(junctions)) * 400, MaxY: 400},
		Lanes:     lanes,
		GeoBounds: geo,
	}})
}

func (s *sim) emitViz(step, vehicleCount int) {
	vehicles := make([]protocol.Vehicle, 0, vehicleCount)
	for i := 0; i < vehicleCount; i++ {
		base := junctions[i%len(junctions)]
		p := jitterPoint(base, 250)
		lat, lon := p.Lat, p.Lon
		vehicles = append(vehicles, protocol.Vehicle{
			ID:    "veh_" + string(rune('a'+i%26)) + "_" + tlsIDs[i%len(tlsIDs)],
			X:     rand.Float64() * 2000,
			Y:     rand.Float64() * 400,
			Speed: rand.Float64() * 15,
			Angle: rand.Float64() * 360,
			Lat:   &lat,
			Lon:   &lon,
		})
	}

	s.stateMu.Lock()
	tls := make([]protocol.Controller, 0, len(tlsIDs))
	for _, id := range tlsIDs {
		if !s.paused[id] && step%5 == 0 {
			s.phases[id] = normalizePhase(s.phases[id]+1, len(phaseCycle))
		}
		base := junctions[len(tls)%len(junctions)]
		lat, lon := base.Lat, base.Lon
		tls = append(tls, protocol.Controller{
			ID:    id,
			State: phaseCycle[s.phases[id]],
			Lat:   &lat,
			Lon:   &lon,
		})
	}
	s.stateMu.Unlock()

	s.emit(protocol.Frame{Type: protocol.FrameViz, Viz: &protocol.VizFrame{
		Step:     step,
		TS:       time.Now().UnixMilli(),
		Vehicles: vehicles,
		TLS:      tls,
	}})
}

// readCommands consumes tls commands from stdin until EOF. EOF means the
// supervisor is gone and the run is over.
func (s *sim) readCommands() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		var cmd struct {
			Type       string `json:"type"`
			ID         string `json:"id"`
			Cmd        string `json:"cmd"`
			PhaseIndex *int   `json:"phaseIndex"`
			Phase      string `json:"phase"`
		}
		if err := json.Unmarshal(line, &cmd); err != nil {
			s.emitLog("warn", "unparseable command line ignored")
			continue
		}

		s.stateMu.Lock()
		switch {
		case cmd.Type == "tls" && cmd.Cmd == "next":
			s.phases[cmd.ID] = normalizePhase(s.phases[cmd.ID]+1, len(phaseCycle))
			s.paused[cmd.ID] = true
		case cmd.Type == "tls" && cmd.Cmd == "prev":
			s.phases[cmd.ID] = normalizePhase(s.phases[cmd.ID]-1, len(phaseCycle))
			s.paused[cmd.ID] = true
		case cmd.Type == "tls" && cmd.Cmd == "set" && cmd.PhaseIndex != nil:
			s.phases[cmd.ID] = normalizePhase(*cmd.PhaseIndex, len(phaseCycle))
			s.paused[cmd.ID] = true
		case cmd.Type == "tls" && (cmd.Cmd == "resume" || cmd.Cmd == "reset"):
			s.paused[cmd.ID] = false
		case cmd.Type == "tls_state":
			s.paused[cmd.ID] = true
		default:
			s.stateMu.Unlock()
			s.emitLog("warn", "unknown command ignored: "+cmd.Type+"/"+cmd.Cmd)
			continue
		}
		s.stateMu.Unlock()
		s.emitLog("info", "applied "+cmd.Type+" command on "+cmd.ID)
	}
	os.Exit(0)
}

func main() {
	sumoBin := flag.String("sumo-bin", "sumo", "simulator binary (accepted for interface parity, unused)")
	sumoCfg := flag.String("sumo-cfg", "", "scenario config path")
	stepLength := flag.Float64("step-length", 1.0, "seconds of simulated time per step")
	rlModel := flag.String("rl-model", "", "signal-control model path (accepted, unused)")
	flag.Int("rl-delta", 15, "steps between model decisions (accepted, unused)")
	flag.Bool("rl-use-gui", false, "accepted, unused")
	steps := flag.Int("steps", 0, "total steps to run, 0 for unbounded")
	vehicles := flag.Int("vehicles", 40, "simulated vehicle count")
	flag.Parse()

	// Stdout is the protocol channel; diagnostics go to stderr like the
	// real bridge.
	log.SetOutput(os.Stderr)

	if *sumoCfg == "" {
		log.Fatal("--sumo-cfg is required")
	}

	s := newSim()
	s.emitLog("info", "mock simulation loaded: "+*sumoCfg+" via "+*sumoBin)
	if *rlModel != "" {
		s.emitLog("info", "mock rl model loaded: "+*rlModel)
	}
	s.emitNet()

	go s.readCommands()

	interval := time.Duration(float64(time.Second) * *stepLength)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	step := 0
	for range ticker.C {
		step++
		s.emitViz(step, *vehicles)
		if *steps > 0 && step >= *steps {
			s.emitLog("info", "mock simulation finished")
			return
		}
	}
}
