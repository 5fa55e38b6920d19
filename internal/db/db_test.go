package db

import (
	"context"
	"os"
	"testing"
)

// Runs against a GTFS database when TEST_DATABASE_URL and TEST_ROUTE_ID are set.
func TestFetchRoute_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	routeID := os.Getenv("TEST_ROUTE_ID")
	if dsn == "" || routeID == "" {
		t.Skip("TEST_DATABASE_URL / TEST_ROUTE_ID not set - skipping integration test")
	}

	sqlDB, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sqlDB.Close()

	ctx := context.Background()
	if err := Ping(ctx, sqlDB); err != nil {
		t.Fatalf("ping: %v", err)
	}

	r, err := FetchRoute(ctx, sqlDB, routeID)
	if err != nil {
		t.Fatalf("FetchRoute: %v", err)
	}
	if r.Len() < 2 {
		t.Fatalf("route %s has %d stops", routeID, r.Len())
	}
	t.Logf("route %s (%s): %d stops", r.ID(), r.Name(), r.Len())
}

func TestFetchRoute_UnknownRoute(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set - skipping integration test")
	}
	sqlDB, err := Open(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer sqlDB.Close()

	if _, err := FetchRoute(context.Background(), sqlDB, "no-such-route-for-tests"); err == nil {
		t.Error("expected error for unknown route")
	}
}
