package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEntityState holds one point per numeric entity value.
const MeasurementEntityState = "entity_state"

// WriteEntityValue queues one numeric value of an entity. field is "state"
// for the entity's state or the attribute name. Dropped when closed.
func (c *Client) WriteEntityValue(category, field string, value float64, ts time.Time) {
	c.WritePoint(MeasurementEntityState,
		map[string]string{
			"category": category,
			"field":    field,
		},
		map[string]any{"value": value},
		ts,
	)
}

// WritePoint queues an arbitrary point. Dropped when closed.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
