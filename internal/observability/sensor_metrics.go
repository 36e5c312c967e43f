package observability

import "github.com/prometheus/client_golang/prometheus"

// SensorCollector exposes per-node sensor network metrics. It satisfies the
// node.Recorder interface.
type SensorCollector struct {
	gatherer prometheus.Gatherer

	Received         *prometheus.CounterVec
	Forwarded        *prometheus.CounterVec
	Dropped          *prometheus.CounterVec
	Handshakes       *prometheus.CounterVec
	DecayFires       *prometheus.CounterVec
	DecayValue       *prometheus.GaugeVec
	PredictionErrors *prometheus.HistogramVec
}

// NewSensorCollector registers sensor metrics against the provided registerer.
func NewSensorCollector(reg prometheus.Registerer) (*SensorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	counter := func(name, help string, labels ...string) (*prometheus.CounterVec, error) {
		return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels))
	}

	received, err := counter("sensornet_messages_received_total", "Messages delivered to a node.", "node")
	if err != nil {
		return nil, err
	}
	forwarded, err := counter("sensornet_messages_forwarded_total", "Measurements that passed a node's forward gate.", "node")
	if err != nil {
		return nil, err
	}
	dropped, err := counter("sensornet_messages_dropped_total", "Messages discarded by a node, labeled by reason.", "node", "reason")
	if err != nil {
		return nil, err
	}
	handshakes, err := counter("sensornet_handshakes_total", "Initiation handshakes sent by a node.", "node")
	if err != nil {
		return nil, err
	}
	fires, err := counter("sensornet_decay_fires_total", "Decay timer decrements applied.", "node")
	if err != nil {
		return nil, err
	}

	decayValue, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sensornet_decay_value",
		Help: "Current health value held by a node's decay timer.",
	}, []string{"node"}))
	if err != nil {
		return nil, err
	}

	predErr, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sensornet_prediction_error",
		Help:    "Absolute difference between filtered and received values.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
	}, []string{"node", "source"}))
	if err != nil {
		return nil, err
	}

	return &SensorCollector{
		gatherer:         gatherer,
		Received:         received,
		Forwarded:        forwarded,
		Dropped:          dropped,
		Handshakes:       handshakes,
		DecayFires:       fires,
		DecayValue:       decayValue,
		PredictionErrors: predErr,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SensorCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// MessageReceived counts one delivered message.
func (c *SensorCollector) MessageReceived(nodeID string) {
	if c == nil || c.Received == nil {
		return
	}
	c.Received.WithLabelValues(nodeID).Inc()
}

// MessageForwarded counts one measurement that passed the gate.
func (c *SensorCollector) MessageForwarded(nodeID string) {
	if c == nil || c.Forwarded == nil {
		return
	}
	c.Forwarded.WithLabelValues(nodeID).Inc()
}

// MessageDropped counts one discarded message.
func (c *SensorCollector) MessageDropped(nodeID, reason string) {
	if c == nil || c.Dropped == nil {
		return
	}
	c.Dropped.WithLabelValues(nodeID, reason).Inc()
}

// HandshakeSent counts one initiation handshake.
func (c *SensorCollector) HandshakeSent(nodeID string) {
	if c == nil || c.Handshakes == nil {
		return
	}
	c.Handshakes.WithLabelValues(nodeID).Inc()
}

// PredictionError observes one gate comparison.
func (c *SensorCollector) PredictionError(nodeID, source string, value float64) {
	if c == nil || c.PredictionErrors == nil {
		return
	}
	c.PredictionErrors.WithLabelValues(nodeID, source).Observe(value)
}

// DecayFired counts a decrement and publishes the new value.
func (c *SensorCollector) DecayFired(nodeID string, value float64) {
	if c == nil {
		return
	}
	if c.DecayFires != nil {
		c.DecayFires.WithLabelValues(nodeID).Inc()
	}
	c.SetDecayValue(nodeID, value)
}

// SetDecayValue publishes a node's health value without counting a fire.
func (c *SensorCollector) SetDecayValue(nodeID string, value float64) {
	if c == nil || c.DecayValue == nil {
		return
	}
	c.DecayValue.WithLabelValues(nodeID).Set(value)
}
