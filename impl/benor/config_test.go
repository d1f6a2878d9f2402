package benor_test

import (
	"testing"

	"github.com/usernamenenad/benor-quic/impl/benor"
)

func TestNewConfig(t *testing.T) {
	t.Run("rejects empty cluster", func(t *testing.T) {
		if _, err := benor.NewConfig(0, 0, nil); err == nil {
			t.Error("expected an error for N=0")
		}
	})

	t.Run("rejects fault count reaching cluster size", func(t *testing.T) {
		if _, err := benor.NewConfig(3, 3, nil); err == nil {
			t.Error("expected an error for F=N")
		}
	})

	t.Run("defaults the window function", func(t *testing.T) {
		cfg, err := benor.NewConfig(4, 1, nil)
		if err != nil {
			t.Fatalf("config: %v", err)
		}
		if got := cfg.Window(0); got != benor.DefaultWindow {
			t.Errorf("window: got %v, want %v", got, benor.DefaultWindow)
		}
	})
}

func TestConfigThresholds(t *testing.T) {
	tests := []struct {
		n, f        uint64
		decide      uint64
		adopt       uint64
		boundBroken bool
	}{
		{4, 1, 3, 2, false},
		{4, 2, 2, 3, false}, // F = N/2 still respects the bound
		{3, 2, 1, 3, true},
		{5, 3, 2, 4, true},
		{1, 0, 1, 1, false},
	}

	for _, tt := range tests {
		cfg, err := benor.NewConfig(tt.n, tt.f, nil)
		if err != nil {
			t.Fatalf("config N=%d F=%d: %v", tt.n, tt.f, err)
		}
		if got := cfg.DecideThreshold(); got != tt.decide {
			t.Errorf("N=%d F=%d decide threshold: got %d, want %d", tt.n, tt.f, got, tt.decide)
		}
		if got := cfg.AdoptThreshold(); got != tt.adopt {
			t.Errorf("N=%d F=%d adopt threshold: got %d, want %d", tt.n, tt.f, got, tt.adopt)
		}
		if got := cfg.BoundViolated(); got != tt.boundBroken {
			t.Errorf("N=%d F=%d bound violated: got %v, want %v", tt.n, tt.f, got, tt.boundBroken)
		}
	}
}
