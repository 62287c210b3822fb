package models

import (
	"fmt"
	"time"
)

// Location is a GeoJSON point. Coordinates are stored as [lng, lat] so the
// document can be indexed with 2dsphere.
type Location struct {
	Type        string    `json:"type,omitempty" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates" validate:"required,coordinates"`
	Address     string    `json:"address,omitempty" bson:"address,omitempty"`
	PlaceID     string    `json:"place_id,omitempty" bson:"place_id,omitempty"`
}

func NewPoint(lat, lng float64) Location {
	return Location{
		Type:        "Point",
		Coordinates: []float64{lng, lat},
	}
}

func (l Location) Latitude() float64 {
	if len(l.Coordinates) >= 2 {
		return l.Coordinates[1]
	}
	return 0
}

func (l Location) Longitude() float64 {
	if len(l.Coordinates) >= 1 {
		return l.Coordinates[0]
	}
	return 0
}

func (l Location) HasCoordinates() bool {
	return len(l.Coordinates) == 2
}

// Valid reports whether the point has both coordinates inside WGS84 bounds.
func (l Location) Valid() bool {
	if !l.HasCoordinates() {
		return false
	}
	lat, lng := l.Latitude(), l.Longitude()
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Normalize returns a copy with the GeoJSON type set.
func (l Location) Normalize() Location {
	l.Type = "Point"
	return l
}

func (l Location) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Latitude(), l.Longitude())
}

// DriverLocation is the last known driver position attached to a ride.
type DriverLocation struct {
	Location    Location  `json:"location" bson:"location"`
	LastUpdated time.Time `json:"last_updated" bson:"last_updated"`
}
