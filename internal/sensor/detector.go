package sensor

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/ChuLiYu/contract-net/internal/bus"
)

// Detector flags anomalous readings: a sample deviating more than two
// standard deviations from the rolling mean of recent values publishes an
// alert on the room's alert topic. Purely reactive - it has no loop of its
// own, only the handler wired at construction.
type Detector struct {
	bus         bus.Bus
	room        string
	measurement string
	windowSize  int

	mu     sync.Mutex
	buffer []float64
}

// NewDetector constructs the detector and subscribes it to the room's
// readings for the measurement.
func NewDetector(b bus.Bus, room, measurement string, windowSize int) *Detector {
	if windowSize <= 0 {
		windowSize = 30
	}
	d := &Detector{
		bus:         b,
		room:        room,
		measurement: measurement,
		windowSize:  windowSize,
	}
	b.Subscribe(ReadingPattern(room, measurement), d.handleReading)
	return d
}

func (d *Detector) handleReading(topic string, payload []byte) {
	reading, err := decodeReading(payload)
	if err != nil {
		log.Debug("ignoring non-reading payload", "topic", topic, "error", err)
		return
	}

	d.mu.Lock()
	d.buffer = append(d.buffer, reading.Value)
	if len(d.buffer) > d.windowSize {
		d.buffer = d.buffer[len(d.buffer)-d.windowSize:]
	}
	mean, stddev, ok := stats(d.buffer)
	d.mu.Unlock()

	if !ok {
		return
	}

	// Guard against a degenerate zero-stddev window.
	threshold := 2 * math.Max(stddev, 0.0001)
	deviation := math.Abs(reading.Value - mean)
	if deviation <= threshold {
		return
	}

	alert := Alert{
		Timestamp:   reading.Timestamp,
		Room:        d.room,
		Measurement: d.measurement,
		SensorID:    reading.SensorID,
		Value:       reading.Value,
		Mean:        mean,
		Stddev:      stddev,
		Deviation:   deviation,
		Reason:      fmt.Sprintf("value deviates by %.2f (> %.2f)", deviation, threshold),
	}
	data, err := json.Marshal(alert)
	if err != nil {
		log.Error("failed to encode alert", "room", d.room, "error", err)
		return
	}
	if err := d.bus.Publish(AlertTopic(d.room), data); err != nil {
		log.Warn("failed to publish alert", "room", d.room, "error", err)
		return
	}
	log.Warn("anomaly detected",
		"room", d.room,
		"measurement", d.measurement,
		"sensor", reading.SensorID,
		"value", reading.Value,
		"mean", mean,
		"deviation", deviation)
}

// stats computes mean and population standard deviation of the window.
func stats(window []float64) (mean, stddev float64, ok bool) {
	n := len(window)
	if n == 0 {
		return 0, 0, false
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	mean = sum / float64(n)

	var variance float64
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)
	return mean, math.Sqrt(variance), true
}
