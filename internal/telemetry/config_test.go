package telemetry

import "testing"

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.ServiceName != "goalrun" {
		t.Errorf("ServiceName = %q, want %q", config.ServiceName, "goalrun")
	}
	if config.Enabled {
		t.Error("Enabled should be false by default")
	}
	if config.Endpoint != "" {
		t.Error("Endpoint should be empty by default")
	}
	if config.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1.0", config.SampleRate)
	}
}
