package sensor

import (
	"encoding/json"

	"github.com/ChuLiYu/contract-net/internal/bus"
)

// Console is the interface agent: it subscribes to a room's aggregates and
// alerts and renders them through the structured logger. Demonstration
// only; it holds no state and performs no protocol logic.
type Console struct {
	room string
}

// NewConsole wires the console agent's subscriptions for one room.
func NewConsole(b bus.Subscriber, room string) *Console {
	c := &Console{room: room}
	b.Subscribe(AveragePattern(room), c.handleAverage)
	b.Subscribe(AlertTopic(room), c.handleAlert)
	return c
}

func (c *Console) handleAverage(topic string, payload []byte) {
	var avg Average
	if err := json.Unmarshal(payload, &avg); err != nil {
		log.Debug("ignoring malformed average", "topic", topic, "error", err)
		return
	}
	log.Info("room average",
		"room", avg.Room,
		"measurement", avg.Measurement,
		"average", avg.RoomAverage,
		"sensors", len(avg.PerSensor))
}

func (c *Console) handleAlert(topic string, payload []byte) {
	var alert Alert
	if err := json.Unmarshal(payload, &alert); err != nil {
		log.Debug("ignoring malformed alert", "topic", topic, "error", err)
		return
	}
	log.Warn("ALERT",
		"room", alert.Room,
		"measurement", alert.Measurement,
		"sensor", alert.SensorID,
		"value", alert.Value,
		"reason", alert.Reason)
}
