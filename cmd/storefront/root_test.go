package main

import (
	"context"
	"testing"

	"github.com/angelmondragon/storefront-engine/internal/geo"
)

func TestParseItems(t *testing.T) {
	lines, err := parseItems([]string{"p1=2", " p7 ", "p9 = 3"})
	if err != nil {
		t.Fatalf("parse items: %v", err)
	}
	if len(lines) != 3 || lines[0].Quantity != 2 || lines[1].ProductID != "p7" || lines[1].Quantity != 1 || lines[2].Quantity != 3 {
		t.Fatalf("unexpected lines %+v", lines)
	}
	for _, bad := range []string{"=2", "p1=0", "p1=x"} {
		if _, err := parseItems([]string{bad}); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"serve"}, {"quote"}, {"device"}, {"orders", "list"}, {"orders", "track"}, {"orders", "cancel"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd == root {
			t.Fatalf("command %v not registered: %v", path, err)
		}
	}
}

func TestLocationFlagsBuildProvider(t *testing.T) {
	opts := &rootOptions{}
	if _, err := opts.location().GetPosition(context.Background()); geo.KindOf(err) != geo.KindUnavailable {
		t.Fatalf("expected unavailable without coordinates, got %v", err)
	}
	opts.lat, opts.lng = 30.0444, 31.2357
	loc, err := opts.location().GetPosition(context.Background())
	if err != nil || loc.Lat != 30.0444 {
		t.Fatalf("unexpected reading %+v %v", loc, err)
	}
}
