package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestNewDependencies_MemoryDriver(t *testing.T) {
	cfg := DefaultConfig()
	logger := log.New().WithField("test", "dependencies")

	deps, err := NewDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer deps.Close()

	if deps.Products == nil {
		t.Error("expected Products to be initialized")
	}
	if deps.Sales == nil {
		t.Error("expected Sales to be initialized")
	}
	if deps.Queue == nil {
		t.Error("expected Queue to be initialized")
	}
	if deps.Audit == nil {
		t.Error("expected Audit to be initialized")
	}
	if deps.Guard == nil {
		t.Error("expected Guard to be initialized")
	}
	if deps.Gateway == nil {
		t.Error("expected Gateway to be initialized")
	}
	if deps.Logger == nil {
		t.Error("expected Logger to be initialized")
	}
	if deps.Store() != nil {
		t.Error("expected no postgres store for memory driver")
	}
	if deps.RedisCache() != nil {
		t.Error("expected no redis cache without RedisAddr")
	}
}

func TestNewDependencies_EmptyDriverDefaultsToMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = ""

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer deps.Close()

	if deps.Products == nil {
		t.Error("expected Products to be initialized")
	}
	if deps.Logger == nil {
		t.Error("expected nil logger to be replaced with a default one")
	}
}

func TestNewDependencies_UnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "cassandra"

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err == nil {
		deps.Close()
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestNewDependencies_GatewayRequired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GatewayBaseURL = ""
	cfg.AllowMockGateway = false

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err == nil {
		deps.Close()
		t.Fatal("expected error when gateway is not configured and mock is not allowed")
	}
}

func TestNewDependencies_IndependentInstances(t *testing.T) {
	cfg := DefaultConfig()

	first, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer first.Close()

	second, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer second.Close()

	if first.Products == second.Products {
		t.Error("expected independent product repositories")
	}
	if first.Queue == second.Queue {
		t.Error("expected independent sync queue repositories")
	}
}
