package types

// FeatureCollection is the root of the GeoJSON feed response.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Features []Feature `json:"features"`
}

// Metadata describes the feed query that produced the collection.
type Metadata struct {
	Generated int64  `json:"generated"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Count     int    `json:"count"`
}

// Feature is one event in the feed. Properties and Geometry are pointers so
// that a missing object can be told apart from an empty one.
type Feature struct {
	Type       string      `json:"type"`
	ID         string      `json:"id"`
	Properties *Properties `json:"properties"`
	Geometry   *Geometry   `json:"geometry"`
}

// Properties holds the subset of feed properties this service reads.
// Time and Updated are epoch milliseconds.
type Properties struct {
	Mag     *float64 `json:"mag"`
	Place   string   `json:"place"`
	Time    *int64   `json:"time"`
	Updated *int64   `json:"updated"`
	Status  string   `json:"status"`
	Type    string   `json:"type"`
	Title   string   `json:"title"`
}

// Geometry coordinates are [longitude, latitude, depth].
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}
