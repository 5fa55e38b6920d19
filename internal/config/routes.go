package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"bus-tracker/internal/route"
)

// RoutesFile is the static route configuration.
type RoutesFile struct {
	Routes []RouteConfig `yaml:"routes" validate:"required,min=1,dive"`
}

type RouteConfig struct {
	ID       string       `yaml:"id" validate:"required"`
	Name     string       `yaml:"name"`
	Polyline string       `yaml:"polyline"`
	Stops    []StopConfig `yaml:"stops" validate:"required,min=2,dive"`
}

type StopConfig struct {
	Name string  `yaml:"name" validate:"required"`
	Lat  float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lng  float64 `yaml:"lng" validate:"gte=-180,lte=180"`
}

// LoadRoutes reads and validates a YAML route file.
func LoadRoutes(path string) (*RoutesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRoutes(data)
}

func ParseRoutes(data []byte) (*RoutesFile, error) {
	var rf RoutesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	if err := validator.New().Struct(rf); err != nil {
		return nil, fmt.Errorf("validate routes: %w", err)
	}
	seen := make(map[string]bool, len(rf.Routes))
	for _, r := range rf.Routes {
		if seen[r.ID] {
			return nil, fmt.Errorf("validate routes: duplicate route id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return &rf, nil
}

// Route finds the route with the given id and builds it.
func (rf *RoutesFile) Route(id string) (*route.Route, error) {
	for _, rc := range rf.Routes {
		if rc.ID == id {
			return rc.Build()
		}
	}
	return nil, fmt.Errorf("route %q not found", id)
}

func (rc RouteConfig) Build() (*route.Route, error) {
	stops := make([]route.Stop, 0, len(rc.Stops))
	for _, s := range rc.Stops {
		stops = append(stops, route.Stop{Name: s.Name, Lat: s.Lat, Lng: s.Lng})
	}
	r, err := route.New(rc.ID, rc.Name, stops)
	if err != nil {
		return nil, err
	}
	if rc.Polyline == "" {
		return r, nil
	}
	path, err := route.DecodePath(rc.Polyline)
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", rc.ID, err)
	}
	return r.WithPath(path), nil
}
