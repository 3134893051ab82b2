package domain

import (
	"reflect"
	"time"

	"github.com/jvanveen/groendus-hass/internal/sensors"
)

// Changed returns true if *cur* differs from *prev* in anything other than
// the poll timestamp. The timestamp moves every cycle; republishing an
// otherwise identical snapshot would only churn the MQTT broker and the
// Home Assistant recorder.
func Changed(prev, cur *sensors.Snapshot) bool {
	if prev == nil && cur == nil {
		return false
	}
	if prev == nil || cur == nil {
		return true
	}

	p, c := *prev, *cur // copy
	p.Timestamp = time.Time{}
	c.Timestamp = time.Time{}

	return !reflect.DeepEqual(p, c)
}
