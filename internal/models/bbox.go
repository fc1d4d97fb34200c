package models

// BoundingBox is a geographic window used to filter visualized entities.
type BoundingBox struct {
	MinLat float64 `bson:"min_lat" json:"minLat"`
	MinLon float64 `bson:"min_lon" json:"minLon"`
	MaxLat float64 `bson:"max_lat" json:"maxLat"`
	MaxLon float64 `bson:"max_lon" json:"maxLon"`
}

// Contains reports whether the coordinate pair falls within the box,
// boundaries included.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Valid reports whether the box spans a positive area. A zero box disables
// geographic filtering.
func (b BoundingBox) Valid() bool {
	return b.MaxLat > b.MinLat && b.MaxLon > b.MinLon
}

// MapMode selects which vehicle feed the map renders.
type MapMode string

const (
	MapModeSimulated MapMode = "simulated"
	MapModeLive      MapMode = "live"
)

// ValidMapMode reports whether m is a known map mode.
func ValidMapMode(m MapMode) bool {
	return m == MapModeSimulated || m == MapModeLive
}
