package main

import (
	"context"
	"testing"

	"ShopMCP-Chain/internal/config"
	"ShopMCP-Chain/internal/events"
)

func TestSpendingLimitsFromConfig(t *testing.T) {
	limits, err := spendingLimits(config.PolicyConfig{LargeOrderThreshold: "200", HighValueThreshold: "1000"})
	if err != nil {
		t.Fatalf("limits: %v", err)
	}
	if limits.LargeOrder.String() != "200" || limits.HighValue.String() != "1000" {
		t.Fatalf("unexpected limits: %+v", limits)
	}
	if _, err := spendingLimits(config.PolicyConfig{LargeOrderThreshold: "900", HighValueThreshold: "100"}); err == nil {
		t.Fatal("expected inverted thresholds to be rejected")
	}
	if _, err := spendingLimits(config.PolicyConfig{LargeOrderThreshold: "lots"}); err == nil {
		t.Fatal("expected malformed threshold to be rejected")
	}
}

func TestOpenBackendsWithMemoryDefaults(t *testing.T) {
	cfg := config.Default(t.TempDir())
	deps, err := openBackends(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open backends: %v", err)
	}
	defer deps.Close()
	if deps.orders == nil || deps.sessions == nil || deps.ledgers != nil {
		t.Fatalf("unexpected backends: %+v", deps)
	}
	if _, ok := deps.publisher.(*events.MemoryPublisher); !ok {
		t.Fatalf("expected memory publisher, got %T", deps.publisher)
	}
}

func TestCreateCatalogFallsBackToBundledItems(t *testing.T) {
	cat, err := createCatalog(config.CatalogConfig{Source: "static"})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	items, err := cat.Search(context.Background(), "", 5)
	if err != nil || len(items) == 0 {
		t.Fatalf("expected bundled items, got %v %v", items, err)
	}
}
