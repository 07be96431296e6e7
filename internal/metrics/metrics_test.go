package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterDoesNotPanicOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Register panicked: %v", r)
		}
	}()
	Register(reg)
}

func TestRegisterTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic registering duplicate collectors")
		}
	}()
	Register(reg)
}
