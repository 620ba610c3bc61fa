package sensor

import (
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ChuLiYu/contract-net/internal/bus"
)

var log = slog.Default()

// Config tunes one simulated sensor. Values follow a sinusoid over a
// one-minute cycle, centered on Baseline with the given Amplitude, plus
// uniform noise of ±Noise.
type Config struct {
	Period    time.Duration // time between published readings
	Baseline  float64
	Amplitude float64
	Noise     float64
}

// Defaults returns sensible simulation parameters per measurement type,
// falling back to a unit sinusoid for unknown measurements.
func Defaults(measurement string) Config {
	switch measurement {
	case "temperature":
		return Config{Period: 2 * time.Second, Baseline: 20.0, Amplitude: 2.5, Noise: 0.2}
	case "humidity":
		return Config{Period: 3 * time.Second, Baseline: 45.0, Amplitude: 10.0, Noise: 1.0}
	case "luminosity":
		return Config{Period: 5 * time.Second, Baseline: 300.0, Amplitude: 150.0, Noise: 5.0}
	case "presence":
		return Config{Period: 10 * time.Second, Baseline: 0.0, Amplitude: 1.0, Noise: 0.0}
	default:
		return Config{Period: 2 * time.Second, Baseline: 0.0, Amplitude: 1.0, Noise: 0.1}
	}
}

// Sensor publishes synthetic readings for one measurement in one room on a
// fixed period.
type Sensor struct {
	bus         bus.Publisher
	room        string
	measurement string
	id          string
	cfg         Config

	mu      sync.Mutex
	counter float64 // simulated elapsed seconds, drives the sinusoid
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a sensor with the default parameters for its measurement.
func New(b bus.Publisher, room, measurement, id string) *Sensor {
	return NewWithConfig(b, room, measurement, id, Defaults(measurement))
}

// NewWithConfig creates a sensor with explicit simulation parameters.
func NewWithConfig(b bus.Publisher, room, measurement, id string, cfg Config) *Sensor {
	if cfg.Period <= 0 {
		cfg.Period = 2 * time.Second
	}
	return &Sensor{
		bus:         b,
		room:        room,
		measurement: measurement,
		id:          id,
		cfg:         cfg,
		stopCh:      make(chan struct{}),
	}
}

// ID returns the sensor's identifier.
func (s *Sensor) ID() string {
	return s.id
}

// Start launches the periodic publishing loop. Starting twice is a no-op.
func (s *Sensor) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
	log.Info("sensor started",
		"sensor", s.id,
		"room", s.room,
		"measurement", s.measurement)
}

func (s *Sensor) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	topic := ReadingTopic(s.room, s.measurement, s.id)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.publishReading(topic)
		}
	}
}

func (s *Sensor) publishReading(topic string) {
	reading := Reading{
		Timestamp: time.Now().UnixMilli(),
		SensorID:  s.id,
		Value:     s.nextValue(),
	}
	payload, err := json.Marshal(reading)
	if err != nil {
		log.Error("failed to encode reading", "sensor", s.id, "error", err)
		return
	}
	if err := s.bus.Publish(topic, payload); err != nil {
		log.Warn("failed to publish reading", "sensor", s.id, "error", err)
	}
}

// nextValue advances the simulation by one period and returns the sample.
// The sinusoid gives each sensor slow dynamics; the noise term keeps
// co-located sensors from being identical.
func (s *Sensor) nextValue() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := s.cfg.Baseline + s.cfg.Amplitude*math.Sin(2*math.Pi*s.counter/60.0)
	if s.cfg.Noise > 0 {
		value += (rand.Float64() - 0.5) * 2 * s.cfg.Noise
	}
	s.counter += s.cfg.Period.Seconds()
	return value
}

// Stop halts the publishing loop and waits for it to exit.
func (s *Sensor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	log.Info("sensor stopped", "sensor", s.id)
}
