package models

import (
	"math"
	"time"
)

// GPSPosition is one location sample sent to the ingestion endpoint.
type GPSPosition struct {
	TruckID   string    `json:"truckId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *int      `json:"heading,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Location is a raw fix from a location provider.
type Location struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	Speed     float64
	Heading   float64
	Accuracy  float64
}

// NewGPSPosition converts a fix into a wire position. Zero optional values
// are omitted, heading is rounded and the timestamp is second precision UTC.
func NewGPSPosition(truckID string, loc Location, at time.Time) GPSPosition {
	pos := GPSPosition{
		TruckID:   truckID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Timestamp: at.UTC().Truncate(time.Second),
	}
	if loc.Altitude != 0 {
		v := loc.Altitude
		pos.Altitude = &v
	}
	if loc.Speed != 0 {
		v := loc.Speed
		pos.Speed = &v
	}
	if loc.Heading != 0 {
		v := int(math.Round(loc.Heading))
		pos.Heading = &v
	}
	if loc.Accuracy != 0 {
		v := loc.Accuracy
		pos.Accuracy = &v
	}
	return pos
}

// BatchResult is the response of the bulk position endpoint.
type BatchResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

type TruckStatus string

const (
	TruckAvailable  TruckStatus = "AVAILABLE"
	TruckInDelivery TruckStatus = "IN_DELIVERY"
	TruckOnBreak    TruckStatus = "ON_BREAK"
	TruckOffline    TruckStatus = "OFFLINE"
)

// Trackable reports whether GPS sampling runs in this status.
func (s TruckStatus) Trackable() bool {
	return s == TruckAvailable || s == TruckInDelivery
}

// Valid reports whether s is a known status.
func (s TruckStatus) Valid() bool {
	switch s {
	case TruckAvailable, TruckInDelivery, TruckOnBreak, TruckOffline:
		return true
	}
	return false
}
