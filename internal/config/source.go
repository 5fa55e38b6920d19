package config

import (
	"context"
	"log"

	"bus-tracker/internal/db"
	"bus-tracker/internal/route"
)

// LoadRoute resolves the configured route: from the GTFS database when one is
// configured, otherwise from the route file.
func (c *Config) LoadRoute(ctx context.Context) (*route.Route, error) {
	if c.DatabaseURL != "" {
		sqlDB, err := db.Open(c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer sqlDB.Close()
		if err := db.Ping(ctx, sqlDB); err != nil {
			return nil, err
		}
		r, err := db.FetchRoute(ctx, sqlDB, c.RouteID)
		if err != nil {
			return nil, err
		}
		log.Printf("loaded route %s (%s) from database: %d stops", r.ID(), r.Name(), r.Len())
		return r, nil
	}

	rf, err := LoadRoutes(c.RoutesFile)
	if err != nil {
		return nil, err
	}
	r, err := rf.Route(c.RouteID)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded route %s (%s) from %s: %d stops", r.ID(), r.Name(), c.RoutesFile, r.Len())
	return r, nil
}
