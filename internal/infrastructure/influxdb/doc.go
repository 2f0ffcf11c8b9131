// Package influxdb writes ADMS device metrics to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and a health check. The
// measurements are:
//   - adms_device_event: one point per device event, tagged by type
//   - adms_heartbeat: one point per device request
//   - adms_command_latency: command round-trip time
//   - adms_return_code: device result codes
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteHeartbeat("CQZ7224460246", "getrequest", time.Now())
//
// Write errors are delivered asynchronously to the SetOnError callback.
package influxdb
