package models

import (
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DocumentStatus string
type DevicePlatform string

const (
	DocumentStatusPending  DocumentStatus = "pending"
	DocumentStatusApproved DocumentStatus = "approved"
	DocumentStatusRejected DocumentStatus = "rejected"
	DocumentStatusExpired  DocumentStatus = "expired"

	PlatformAndroid DevicePlatform = "android"
	PlatformIOS     DevicePlatform = "ios"
)

// Driver is both the driver profile and its availability record. The id is
// the driver's user id from the identity provider.
type Driver struct {
	ID                    primitive.ObjectID  `json:"id" bson:"_id"`
	Name                  string              `json:"name" bson:"name"`
	Phone                 string              `json:"phone" bson:"phone"`
	Vehicle               Vehicle             `json:"vehicle" bson:"vehicle"`
	LicenseStatus         DocumentStatus      `json:"license_status" bson:"license_status"`
	InsuranceStatus       DocumentStatus      `json:"insurance_status" bson:"insurance_status"`
	BackgroundCheckStatus DocumentStatus      `json:"background_check_status" bson:"background_check_status"`
	IsOnline              bool                `json:"is_online" bson:"is_online"`
	IsAvailable           bool                `json:"is_available" bson:"is_available"`
	CurrentRideID         *primitive.ObjectID `json:"current_ride_id,omitempty" bson:"current_ride_id"`
	CurrentLocation       *Location           `json:"current_location,omitempty" bson:"current_location,omitempty"`
	LastLocationUpdate    *time.Time          `json:"last_location_update,omitempty" bson:"last_location_update"`
	DeviceToken           string              `json:"-" bson:"device_token,omitempty"`
	DevicePlatform        DevicePlatform      `json:"device_platform,omitempty" bson:"device_platform,omitempty"`
	CreatedAt             time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at" bson:"updated_at"`
}

type Vehicle struct {
	Make         string `json:"make" bson:"make"`
	Model        string `json:"model" bson:"model"`
	Color        string `json:"color" bson:"color"`
	LicensePlate string `json:"license_plate" bson:"license_plate"`
}

func (v Vehicle) Descriptor() string {
	switch {
	case v.Color != "" && v.Make != "":
		return fmt.Sprintf("%s %s %s", v.Color, v.Make, v.Model)
	case v.Make != "":
		return fmt.Sprintf("%s %s", v.Make, v.Model)
	}
	return v.Model
}

// IsApproved reports whether every verification document has been approved.
func (d *Driver) IsApproved() bool {
	return d.LicenseStatus == DocumentStatusApproved &&
		d.InsuranceStatus == DocumentStatusApproved &&
		d.BackgroundCheckStatus == DocumentStatusApproved
}

// CanBeMatched is the matching predicate.
func (d *Driver) CanBeMatched() bool {
	return d.IsOnline && d.IsAvailable && d.CurrentRideID == nil && d.IsApproved()
}

func (d *Driver) Snapshot() *DriverSnapshot {
	return &DriverSnapshot{
		Name:         d.Name,
		Phone:        d.Phone,
		Vehicle:      d.Vehicle.Descriptor(),
		LicensePlate: d.Vehicle.LicensePlate,
	}
}

func (d *Driver) Clone() *Driver {
	if d == nil {
		return nil
	}
	c := *d
	c.CurrentRideID = cloneID(d.CurrentRideID)
	c.LastLocationUpdate = cloneTime(d.LastLocationUpdate)
	if d.CurrentLocation != nil {
		l := *d.CurrentLocation
		l.Coordinates = append([]float64(nil), d.CurrentLocation.Coordinates...)
		c.CurrentLocation = &l
	}
	return &c
}

// NearbyDriver is a matching candidate with its distance to the pickup.
type NearbyDriver struct {
	Driver     *Driver `json:"driver"`
	DistanceKM float64 `json:"distance_km"`
}

// DistanceToleranceKM is the gap under which two candidates count as equidistant.
const DistanceToleranceKM = 1e-9

// SortNearby orders candidates nearest first. Equidistant candidates are
// ordered by ascending driver id so the choice is deterministic.
func SortNearby(candidates []*NearbyDriver) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if diff := a.DistanceKM - b.DistanceKM; diff < -DistanceToleranceKM || diff > DistanceToleranceKM {
			return diff < 0
		}
		return a.Driver.ID.Hex() < b.Driver.ID.Hex()
	})
}
