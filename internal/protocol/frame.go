package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType discriminates decoded stdio frames.
type FrameType string

const (
	FrameLog   FrameType = "log"
	FrameViz   FrameType = "viz"
	FrameNet   FrameType = "net"
	FrameRoute FrameType = "route"
	FrameError FrameType = "error"
)

// Point is a lane shape vertex in network-local coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GeoPoint is a vertex in geographic coordinates.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Vehicle is one simulated vehicle within a viz tick. Lat/Lon are only
// present when the network carries a geographic projection.
type Vehicle struct {
	ID     string   `json:"id"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Speed  float64  `json:"speed"`
	Angle  float64  `json:"angle"`
	Length float64  `json:"length,omitempty"`
	Width  float64  `json:"width,omitempty"`
	Type   string   `json:"type,omitempty"`
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
}

// Controller is one traffic-signal controller state within a viz tick.
// State is the simulator's red/yellow/green phase string.
type Controller struct {
	ID    string   `json:"id"`
	State string   `json:"state"`
	Lat   *float64 `json:"lat,omitempty"`
	Lon   *float64 `json:"lon,omitempty"`
}

// Bounds is an axis-aligned rectangle in network-local coordinates.
type Bounds struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// GeoBounds is a geographic bounding rectangle.
type GeoBounds struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// Lane describes one lane's static geometry. LonLat mirrors Points in
// geographic coordinates when the network has a projection.
type Lane struct {
	ID     string     `json:"id"`
	Speed  float64    `json:"speed"`
	Length float64    `json:"length"`
	Points []Point    `json:"points"`
	LonLat []GeoPoint `json:"lonlat,omitempty"`
}

// LogFrame is diagnostic text from the simulator bridge.
type LogFrame struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// VizFrame is the steady-state telemetry tick.
type VizFrame struct {
	Step     int          `json:"step"`
	TS       int64        `json:"ts"`
	Vehicles []Vehicle    `json:"vehicles"`
	TLS      []Controller `json:"tls"`
}

// NetFrame is the static lane geometry description, emitted once per run.
type NetFrame struct {
	Bounds    *Bounds    `json:"bounds,omitempty"`
	Lanes     []Lane     `json:"lanes"`
	GeoBounds *GeoBounds `json:"geoBounds,omitempty"`
}

// RouteFrame is a vehicle's planned path, used for emergency-vehicle
// visualization.
type RouteFrame struct {
	VehicleID string     `json:"vehicleId"`
	Points    []GeoPoint `json:"points"`
}

// ErrorFrame reports a fatal condition inside the bridge process.
type ErrorFrame struct {
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// Frame is the tagged union of the stdio protocol. Exactly one variant is
// non-nil, selected by Type. Frames are immutable once decoded; consumers
// that need a modified frame build a new one.
type Frame struct {
	Type  FrameType
	Log   *LogFrame
	Viz   *VizFrame
	Net   *NetFrame
	Route *RouteFrame
	Error *ErrorFrame
}

// NewLogFrame builds a log frame, used when the service surfaces its own
// diagnostics alongside bridge output.
func NewLogFrame(level, message string) Frame {
	return Frame{Type: FrameLog, Log: &LogFrame{Level: level, Message: message}}
}

// MarshalJSON re-emits the frame in its wire form, with the discriminator
// folded back into the object.
func (f Frame) MarshalJSON() ([]byte, error) {
	switch f.Type {
	case FrameLog:
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			*LogFrame
		}{f.Type, f.Log})
	case FrameViz:
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			*VizFrame
		}{f.Type, f.Viz})
	case FrameNet:
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			*NetFrame
		}{f.Type, f.Net})
	case FrameRoute:
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			*RouteFrame
		}{f.Type, f.Route})
	case FrameError:
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			*ErrorFrame
		}{f.Type, f.Error})
	}
	return nil, fmt.Errorf("cannot marshal frame with unknown type %q", f.Type)
}

// decodeLine decodes one trimmed protocol line into a frame.
func decodeLine(line []byte) (Frame, error) {
	var probe struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return Frame{}, fmt.Errorf("invalid frame line: %w", err)
	}

	switch probe.Type {
	case FrameLog:
		var v LogFrame
		if err := json.Unmarshal(line, &v); err != nil {
			return Frame{}, fmt.Errorf("invalid log frame: %w", err)
		}
		return Frame{Type: FrameLog, Log: &v}, nil
	case FrameViz:
		var v VizFrame
		if err := json.Unmarshal(line, &v); err != nil {
			return Frame{}, fmt.Errorf("invalid viz frame: %w", err)
		}
		return Frame{Type: FrameViz, Viz: &v}, nil
	case FrameNet:
		var v NetFrame
		if err := json.Unmarshal(line, &v); err != nil {
			return Frame{}, fmt.Errorf("invalid net frame: %w", err)
		}
		return Frame{Type: FrameNet, Net: &v}, nil
	case FrameRoute:
		var v RouteFrame
		if err := json.Unmarshal(line, &v); err != nil {
			return Frame{}, fmt.Errorf("invalid route frame: %w", err)
		}
		return Frame{Type: FrameRoute, Route: &v}, nil
	case FrameError:
		var v ErrorFrame
		if err := json.Unmarshal(line, &v); err != nil {
			return Frame{}, fmt.Errorf("invalid error frame: %w", err)
		}
		return Frame{Type: FrameError, Error: &v}, nil
	}
	return Frame{}, fmt.Errorf("unknown frame type %q", probe.Type)
}
