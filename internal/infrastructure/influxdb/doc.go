// Package influxdb writes homecore entity telemetry to InfluxDB v2.
//
// Writes go through the non-blocking batched WriteAPI of
// influxdb-client-go, sized by influxdb.batch_size and
// influxdb.flush_interval. Asynchronous write failures are logged, never
// returned to the caller.
//
// Every numeric entity value becomes one point:
//
//	measurement: entity_state
//	tags:        category=<entity key>, field=<"state" or attribute name>
//	fields:      value=<float>
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEntityValue("sensor.outside", "state", 12.5, time.Now())
package influxdb
