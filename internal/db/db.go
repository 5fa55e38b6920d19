package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bus-tracker/internal/route"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Querier is the subset of *sql.DB used to read routes.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// FetchRoute builds a route from a GTFS database: the stops of the route's
// longest trip, in stop_sequence order.
func FetchRoute(ctx context.Context, db Querier, routeID string) (*route.Route, error) {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(NULLIF(route_short_name, ''), route_long_name, route_id) FROM routes WHERE route_id = $1`,
		routeID).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("route %q not found", routeID)
	}
	if err != nil {
		return nil, fmt.Errorf("query route: %w", err)
	}

	var tripID string
	err = db.QueryRowContext(ctx, `
SELECT t.trip_id
FROM trips t
JOIN stop_times st ON st.trip_id = t.trip_id
WHERE t.route_id = $1
GROUP BY t.trip_id
ORDER BY COUNT(*) DESC, t.trip_id
LIMIT 1`, routeID).Scan(&tripID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("route %q has no trips with stop_times", routeID)
	}
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}

	stops, err := FetchTripStops(ctx, db, tripID)
	if err != nil {
		return nil, err
	}
	return route.New(routeID, name, stops)
}

func FetchTripStops(ctx context.Context, db Querier, tripID string) ([]route.Stop, error) {
	// Prefer stop_lat/stop_lon, but support PostGIS stop_loc geography as fallback
	latlonExists, err := hasColumns(ctx, db, "public", "stops", "stop_lat", "stop_lon")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	var q string
	if latlonExists["stop_lat"] && latlonExists["stop_lon"] {
		q = `SELECT COALESCE(s.stop_name, s.stop_id), s.stop_lat, s.stop_lon
             FROM stop_times st
             JOIN stops s ON s.stop_id = st.stop_id
             WHERE st.trip_id = $1
             ORDER BY st.stop_sequence`
	} else {
		locExists, err := hasColumns(ctx, db, "public", "stops", "stop_loc")
		if err != nil {
			return nil, fmt.Errorf("introspect stops stop_loc: %w", err)
		}
		if !locExists["stop_loc"] {
			return nil, fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
		}
		q = `SELECT COALESCE(s.stop_name, s.stop_id),
                    ST_Y(s.stop_loc::geometry),
                    ST_X(s.stop_loc::geometry)
             FROM stop_times st
             JOIN stops s ON s.stop_id = st.stop_id
             WHERE st.trip_id = $1
             ORDER BY st.stop_sequence`
	}
	rows, err := db.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	defer rows.Close()

	var stops []route.Stop
	for rows.Next() {
		var s route.Stop
		if err := rows.Scan(&s.Name, &s.Lat, &s.Lng); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db Querier, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
