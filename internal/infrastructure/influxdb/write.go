package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the ADMS server.
const (
	MeasurementDeviceEvent    = "adms_device_event"
	MeasurementHeartbeat      = "adms_heartbeat"
	MeasurementCommandLatency = "adms_command_latency"
	MeasurementReturnCode     = "adms_return_code"
)

// WriteDeviceEvent counts one event of eventType for device serial.
func (c *Client) WriteDeviceEvent(serial, eventType string, ts time.Time) {
	c.WritePointWithTime(MeasurementDeviceEvent,
		map[string]string{"serial_number": serial, "type": eventType},
		map[string]interface{}{"count": 1},
		ts)
}

// WriteHeartbeat records a device request on route.
func (c *Client) WriteHeartbeat(serial, route string, ts time.Time) {
	c.WritePointWithTime(MeasurementHeartbeat,
		map[string]string{"serial_number": serial, "route": route},
		map[string]interface{}{"seen": 1},
		ts)
}

// WriteCommandLatency records how long a device took to answer a command.
// late marks replies that arrived after the waiter gave up.
func (c *Client) WriteCommandLatency(serial string, duration time.Duration, late bool, ts time.Time) {
	c.WritePointWithTime(MeasurementCommandLatency,
		map[string]string{"serial_number": serial},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"late":        late,
		},
		ts)
}

// WriteReturnCode records one device result code. cmd is the device's
// CMD field and may be empty.
func (c *Client) WriteReturnCode(serial, cmd string, code int, ts time.Time) {
	tags := map[string]string{"serial_number": serial}
	if cmd != "" {
		tags["cmd"] = cmd
	}
	c.WritePointWithTime(MeasurementReturnCode, tags,
		map[string]interface{}{"code": code, "ok": code >= 0},
		ts)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() || c.writeAPI == nil {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
