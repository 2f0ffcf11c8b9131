package adms

import "time"

// MetricsWriter stores device metrics. *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteDeviceEvent(serial, eventType string, ts time.Time)
	WriteHeartbeat(serial, route string, ts time.Time)
	WriteCommandLatency(serial string, duration time.Duration, late bool, ts time.Time)
	WriteReturnCode(serial, cmd string, code int, ts time.Time)
}

// MetricsSink turns device events into time-series points.
type MetricsSink struct {
	w MetricsWriter
}

// NewMetricsSink returns a sink writing to w.
func NewMetricsSink(w MetricsWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// HandleEvent implements EventSink.
func (s *MetricsSink) HandleEvent(e Event) {
	switch e.Type {
	case EventDeviceMessage:
		route, _ := e.Fields["route"].(string)
		s.w.WriteHeartbeat(e.SerialNumber, route, e.Timestamp)
		return

	case EventCommandCompleted:
		ms, _ := e.Fields["duration_ms"].(int64)
		late, _ := e.Fields["late"].(bool)
		s.w.WriteCommandLatency(e.SerialNumber, time.Duration(ms)*time.Millisecond, late, e.Timestamp)

	case EventReturnCode:
		if has, _ := e.Fields["has_return"].(bool); has {
			code, _ := e.Fields["return"].(int)
			cmd, _ := e.Fields["cmd"].(string)
			s.w.WriteReturnCode(e.SerialNumber, cmd, code, e.Timestamp)
		}
	}

	s.w.WriteDeviceEvent(e.SerialNumber, string(e.Type), e.Timestamp)
}
