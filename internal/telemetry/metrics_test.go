package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil || m.RequestDuration == nil || m.ActiveRequests == nil || m.ActiveStreams == nil {
		t.Fatal("HTTP collectors are nil")
	}
	if m.CommandsTotal == nil || m.PollsTotal == nil || m.CommandDuration == nil {
		t.Fatal("worker collectors are nil")
	}
	if m.DeliveryFailures == nil || m.ShutdownFailures == nil || m.WorkersRunning == nil {
		t.Fatal("lifecycle collectors are nil")
	}

	// Verify metrics can be gathered without error.
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("PUT", "/v1/vars/{kind}/{name}", "202").Inc()
	m.CommandsTotal.WithLabelValues("bridge").Inc()
	m.PollsTotal.WithLabelValues("bridge").Add(3)
	m.CommandDuration.WithLabelValues("bridge").Observe(0.002)
	m.ShutdownFailures.WithLabelValues("bridge", "join").Inc()
	m.VarChanges.WithLabelValues("lvar").Inc()
	m.CacheHits.Inc()
	m.JournalQueueLength.Set(4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"flightvars_requests_total",
		"flightvars_commands_total",
		"flightvars_polls_total",
		"flightvars_command_duration_seconds",
		"flightvars_shutdown_failures_total",
		"flightvars_var_changes_total",
		"flightvars_cache_hits_total",
		"flightvars_journal_queue_length",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want string
	}{
		{1.0, sdktrace.AlwaysSample().Description()},
		{2.0, sdktrace.AlwaysSample().Description()},
		{0, sdktrace.NeverSample().Description()},
		{0.25, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description()},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); got != tt.want {
			t.Errorf("sampler(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
