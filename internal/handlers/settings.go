package handlers

import (
	"sync"

	"github.com/ukydev/sumo-bridge/internal/models"
)

// MapSettings is the shared mutable map configuration: the active bounding
// box plus the feed mode. It is mutated by the settings endpoint and read
// by the frame pipeline on every frame, so access is guarded. No
// persistence is required; a restart reverts to defaults.
type MapSettings struct {
	mu   sync.RWMutex
	bbox models.BoundingBox
	mode models.MapMode
}

// NewMapSettings returns settings with simulated mode and no bounding box,
// which disables geographic filtering until one is set.
func NewMapSettings() *MapSettings {
	return &MapSettings{mode: models.MapModeSimulated}
}

// Get returns the current box and mode.
func (s *MapSettings) Get() (models.BoundingBox, models.MapMode) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bbox, s.mode
}

// Set replaces the box and mode.
func (s *MapSettings) Set(bbox models.BoundingBox, mode models.MapMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bbox = bbox
	s.mode = mode
}
