// Package sensor implements the sensor-simulation subsystem: synthetic
// sensors publishing periodic readings, a rolling-average aggregator, a
// deviation-based anomaly detector, and a console agent rendering both.
// All components communicate exclusively over the bus, mirroring the
// contract net agents.
package sensor

import (
	"encoding/json"
	"fmt"
)

// Topic layout: home/{room}/{measurement}/{sensor_id} for raw readings,
// home/{room}/{measurement}/average for aggregates, home/alerts/{room} for
// anomaly alerts.

// ReadingTopic returns the topic one sensor publishes on.
func ReadingTopic(room, measurement, sensorID string) string {
	return fmt.Sprintf("home/%s/%s/%s", room, measurement, sensorID)
}

// ReadingPattern subscribes to every sensor of one measurement in a room.
func ReadingPattern(room, measurement string) string {
	return fmt.Sprintf("home/%s/%s/#", room, measurement)
}

// AverageTopic returns the topic aggregates are published on. It matches
// ReadingPattern by construction, so consumers of raw readings must skip
// aggregate payloads (they carry no sensor_id).
func AverageTopic(room, measurement string) string {
	return fmt.Sprintf("home/%s/%s/average", room, measurement)
}

// AveragePattern subscribes to aggregates of all measurements in a room.
func AveragePattern(room string) string {
	return fmt.Sprintf("home/%s/+/average", room)
}

// AlertTopic returns the room's anomaly alert topic.
func AlertTopic(room string) string {
	return "home/alerts/" + room
}

// Reading is one raw sensor sample.
type Reading struct {
	Timestamp int64   `json:"timestamp_ms"`
	SensorID  string  `json:"sensor_id"`
	Value     float64 `json:"value"`
}

// Average is the aggregator's periodic output: per-sensor averages plus a
// room-level average across all sensors of the measurement.
type Average struct {
	Timestamp   int64              `json:"timestamp_ms"`
	Room        string             `json:"room"`
	Measurement string             `json:"measurement"`
	RoomAverage float64            `json:"room_average"`
	PerSensor   map[string]float64 `json:"per_sensor"`
}

// Alert describes a reading that deviated beyond the detection threshold.
type Alert struct {
	Timestamp   int64   `json:"timestamp_ms"`
	Room        string  `json:"room"`
	Measurement string  `json:"measurement"`
	SensorID    string  `json:"sensor_id"`
	Value       float64 `json:"value"`
	Mean        float64 `json:"mean"`
	Stddev      float64 `json:"stddev"`
	Deviation   float64 `json:"deviation"`
	Reason      string  `json:"reason"`
}

// decodeReading parses a raw reading payload. Aggregate payloads looping
// back through the wildcard subscription decode without a sensor_id and are
// rejected here so callers can skip them with one check.
func decodeReading(payload []byte) (Reading, error) {
	var r Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return Reading{}, fmt.Errorf("malformed reading: %w", err)
	}
	if r.SensorID == "" {
		return Reading{}, fmt.Errorf("reading missing sensor_id")
	}
	return r, nil
}
