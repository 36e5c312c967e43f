package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSensorCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSensorCollector(reg)
	if err != nil {
		t.Fatalf("NewSensorCollector: %v", err)
	}

	c.MessageReceived("Hub_1")
	c.MessageReceived("Hub_1")
	c.MessageForwarded("Hub_1")
	c.MessageDropped("Hub_1", "gate")
	c.HandshakeSent("OBN")
	c.DecayFired("OBN", 4.7)
	c.PredictionError("Hub_1", "Node_11", 10)

	if got := testutil.ToFloat64(c.Received.WithLabelValues("Hub_1")); got != 2 {
		t.Fatalf("received = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Dropped.WithLabelValues("Hub_1", "gate")); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.DecayValue.WithLabelValues("OBN")); got != 4.7 {
		t.Fatalf("decay value = %v, want 4.7", got)
	}
	if got := testutil.ToFloat64(c.DecayFires.WithLabelValues("OBN")); got != 1 {
		t.Fatalf("decay fires = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "sensornet_prediction_error", map[string]string{
		"node":   "Hub_1",
		"source": "Node_11",
	}); count != 1 {
		t.Fatalf("prediction error sample_count = %d, want 1", count)
	}
}

func TestSensorCollectorNilSafe(t *testing.T) {
	var c *SensorCollector
	c.MessageReceived("x")
	c.DecayFired("x", 1)
	if c.Gatherer() != nil {
		t.Fatalf("nil collector returned a gatherer")
	}
}
