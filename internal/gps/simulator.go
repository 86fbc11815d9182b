package gps

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"fleetsync/internal/models"

	"gopkg.in/yaml.v3"
)

const earthRadiusM = 6371000.0

type Waypoint struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"lat"`
	Longitude float64 `yaml:"lon"`
}

// Route is a simulated drive. Speed is in km/h as in dispatch tooling;
// reported speeds are m/s like a device fix.
type Route struct {
	Name      string     `yaml:"name"`
	SpeedKMH  float64    `yaml:"speed_kmh"`
	Altitude  float64    `yaml:"altitude"`
	Accuracy  float64    `yaml:"accuracy"`
	Loop      bool       `yaml:"loop"`
	Waypoints []Waypoint `yaml:"waypoints"`
}

func LoadRoute(path string) (*Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route: %w", err)
	}
	var route Route
	if err := yaml.Unmarshal(data, &route); err != nil {
		return nil, fmt.Errorf("parse route: %w", err)
	}
	return &route, nil
}

type segment struct {
	from, to Waypoint
	length   float64
	start    float64
	heading  float64
}

// RouteSimulator is a LocationProvider that drives along a route at a
// constant speed, interpolating between waypoints.
type RouteSimulator struct {
	route    Route
	segments []segment
	total    float64
	speedMS  float64
	started  time.Time
	now      func() time.Time
}

func NewRouteSimulator(route Route) (*RouteSimulator, error) {
	if len(route.Waypoints) < 2 {
		return nil, errors.New("route needs at least two waypoints")
	}
	if route.SpeedKMH <= 0 {
		return nil, errors.New("route speed must be positive")
	}
	if route.Accuracy == 0 {
		route.Accuracy = 5
	}

	s := &RouteSimulator{
		route:   route,
		speedMS: route.SpeedKMH / 3.6,
		now:     time.Now,
	}
	for i := 0; i+1 < len(route.Waypoints); i++ {
		from, to := route.Waypoints[i], route.Waypoints[i+1]
		length := haversine(from, to)
		s.segments = append(s.segments, segment{
			from:    from,
			to:      to,
			length:  length,
			start:   s.total,
			heading: bearing(from, to),
		})
		s.total += length
	}
	if s.total == 0 {
		return nil, errors.New("route has zero length")
	}
	s.started = s.now()
	return s, nil
}

func (s *RouteSimulator) CurrentLocation(ctx context.Context) (models.Location, error) {
	if err := ctx.Err(); err != nil {
		return models.Location{}, err
	}
	travelled := s.now().Sub(s.started).Seconds() * s.speedMS
	return s.locationAt(travelled), nil
}

func (s *RouteSimulator) locationAt(travelled float64) models.Location {
	speed := s.speedMS
	if travelled >= s.total {
		if s.route.Loop {
			travelled = math.Mod(travelled, s.total)
		} else {
			last := s.segments[len(s.segments)-1]
			return models.Location{
				Latitude:  last.to.Latitude,
				Longitude: last.to.Longitude,
				Altitude:  s.route.Altitude,
				Heading:   last.heading,
				Accuracy:  s.route.Accuracy,
			}
		}
	}

	seg := s.segments[0]
	for _, candidate := range s.segments {
		if travelled >= candidate.start {
			seg = candidate
		}
	}

	frac := 0.0
	if seg.length > 0 {
		frac = (travelled - seg.start) / seg.length
	}
	return models.Location{
		Latitude:  seg.from.Latitude + (seg.to.Latitude-seg.from.Latitude)*frac,
		Longitude: seg.from.Longitude + (seg.to.Longitude-seg.from.Longitude)*frac,
		Altitude:  s.route.Altitude,
		Speed:     speed,
		Heading:   seg.heading,
		Accuracy:  s.route.Accuracy,
	}
}

func haversine(a, b Waypoint) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// bearing returns the initial compass heading from a to b in [0, 360).
func bearing(a, b Waypoint) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dLon := radians(b.Longitude - a.Longitude)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// ErrNoLocationSource is returned by UnavailableProvider.
var ErrNoLocationSource = errors.New("no location source configured")

// UnavailableProvider stands in when the host has no location source.
type UnavailableProvider struct{}

func (UnavailableProvider) CurrentLocation(context.Context) (models.Location, error) {
	return models.Location{}, ErrNoLocationSource
}
