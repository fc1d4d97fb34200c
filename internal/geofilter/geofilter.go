// Package geofilter restricts decoded frames to a geographic bounding box
// before they are handed to the map renderer.
package geofilter

import (
	"github.com/ukydev/sumo-bridge/internal/models"
	"github.com/ukydev/sumo-bridge/internal/protocol"
)

// Filter returns a copy of frame restricted to bbox. The input frame is
// never mutated. log, route and error frames pass through unfiltered.
func Filter(frame protocol.Frame, bbox models.BoundingBox) protocol.Frame {
	switch frame.Type {
	case protocol.FrameViz:
		return filterViz(frame, bbox)
	case protocol.FrameNet:
		return filterNet(frame, bbox)
	}
	return frame
}

// filterViz keeps coordinate-bearing entries inside the box. Entries with
// no coordinate pair carry only local-frame positions and are retained
// unconditionally so identifier-based joins on the consumer side keep
// working.
func filterViz(frame protocol.Frame, bbox models.BoundingBox) protocol.Frame {
	src := frame.Viz
	out := &protocol.VizFrame{
		Step:     src.Step,
		TS:       src.TS,
		Vehicles: make([]protocol.Vehicle, 0, len(src.Vehicles)),
		TLS:      make([]protocol.Controller, 0, len(src.TLS)),
	}

	for _, v := range src.Vehicles {
		if v.Lat == nil || v.Lon == nil || bbox.Contains(*v.Lat, *v.Lon) {
			out.Vehicles = append(out.Vehicles, v)
		}
	}
	for _, c := range src.TLS {
		if c.Lat == nil || c.Lon == nil || bbox.Contains(*c.Lat, *c.Lon) {
			out.TLS = append(out.TLS, c)
		}
	}

	return protocol.Frame{Type: protocol.FrameViz, Viz: out}
}

// filterNet trims each lane's geographic point sequence to in-box points
// and drops lanes left with fewer than two points, since a line needs at
// least two. Lanes with no geographic geometry are kept whole. The active
// box is attached as explicit bounds so a renderer can fit its viewport
// without recomputing.
func filterNet(frame protocol.Frame, bbox models.BoundingBox) protocol.Frame {
	src := frame.Net
	out := &protocol.NetFrame{
		Bounds: src.Bounds,
		Lanes:  make([]protocol.Lane, 0, len(src.Lanes)),
		GeoBounds: &protocol.GeoBounds{
			MinLat: bbox.MinLat,
			MinLon: bbox.MinLon,
			MaxLat: bbox.MaxLat,
			MaxLon: bbox.MaxLon,
		},
	}

	for _, lane := range src.Lanes {
		if len(lane.LonLat) == 0 {
			out.Lanes = append(out.Lanes, lane)
			continue
		}
		kept := make([]protocol.GeoPoint, 0, len(lane.LonLat))
		for _, p := range lane.LonLat {
			if bbox.Contains(p.Lat, p.Lon) {
				kept = append(kept, p)
			}
		}
		if len(kept) < 2 {
			continue
		}
		filtered := lane
		filtered.LonLat = kept
		out.Lanes = append(out.Lanes, filtered)
	}

	return protocol.Frame{Type: protocol.FrameNet, Net: out}
}
