package sensor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ChuLiYu/contract-net/internal/bus"
)

// Averager keeps a rolling window of recent readings per sensor for one
// room and measurement, and periodically publishes per-sensor and
// room-level averages. Subscription wiring happens once at construction.
type Averager struct {
	bus         bus.Bus
	room        string
	measurement string
	windowSize  int
	period      time.Duration

	mu      sync.Mutex
	values  map[string][]float64 // sensor_id -> rolling window
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewAverager constructs the aggregator and subscribes it to the room's
// readings for the measurement.
func NewAverager(b bus.Bus, room, measurement string, windowSize int, period time.Duration) *Averager {
	if windowSize <= 0 {
		windowSize = 10
	}
	if period <= 0 {
		period = 5 * time.Second
	}
	a := &Averager{
		bus:         b,
		room:        room,
		measurement: measurement,
		windowSize:  windowSize,
		period:      period,
		values:      make(map[string][]float64),
		stopCh:      make(chan struct{}),
	}
	b.Subscribe(ReadingPattern(room, measurement), a.handleReading)
	return a
}

// handleReading appends a sample to the sensor's rolling window. Aggregate
// payloads looping back through the wildcard are skipped (no sensor_id).
func (a *Averager) handleReading(topic string, payload []byte) {
	reading, err := decodeReading(payload)
	if err != nil {
		log.Debug("ignoring non-reading payload", "topic", topic, "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	window := append(a.values[reading.SensorID], reading.Value)
	if len(window) > a.windowSize {
		window = window[len(window)-a.windowSize:]
	}
	a.values[reading.SensorID] = window
}

// Start launches the periodic publication loop.
func (a *Averager) Start() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.mu.Unlock()

	a.wg.Add(1)
	go a.loop()
	log.Info("averager started", "room", a.room, "measurement", a.measurement)
}

func (a *Averager) loop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.period)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.publishAverage()
		}
	}
}

func (a *Averager) publishAverage() {
	avg, ok := a.snapshot()
	if !ok {
		return // nothing collected yet
	}

	payload, err := json.Marshal(avg)
	if err != nil {
		log.Error("failed to encode average", "room", a.room, "error", err)
		return
	}
	if err := a.bus.Publish(AverageTopic(a.room, a.measurement), payload); err != nil {
		log.Warn("failed to publish average", "room", a.room, "error", err)
	}
}

// snapshot computes the current averages without holding the lock during
// publication.
func (a *Averager) snapshot() (Average, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	perSensor := make(map[string]float64, len(a.values))
	var sum float64
	var count int
	for sensorID, window := range a.values {
		if len(window) == 0 {
			continue
		}
		var s float64
		for _, v := range window {
			s += v
		}
		perSensor[sensorID] = s / float64(len(window))
		sum += s
		count += len(window)
	}
	if count == 0 {
		return Average{}, false
	}

	return Average{
		Timestamp:   time.Now().UnixMilli(),
		Room:        a.room,
		Measurement: a.measurement,
		RoomAverage: sum / float64(count),
		PerSensor:   perSensor,
	}, true
}

// Stop halts the publication loop and waits for it to exit.
func (a *Averager) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	close(a.stopCh)
	a.wg.Wait()
}
