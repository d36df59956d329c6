package engine

import (
	"reflect"

	"adminpanel/internal/metadata"
)

// Change is the before and after of one property in an update.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// diffValues compares two value snapshots (keyed by property id) and returns
// the changed properties keyed by name, rendered as API values.
func diffValues(entity *metadata.Entity, before, after map[string]Value) map[string]Change {
	changes := make(map[string]Change)
	for _, p := range entity.Properties {
		if !p.IsDynamic || p.Type == metadata.TypeFormula {
			continue
		}
		old, hadOld := before[p.ID]
		cur, hasCur := after[p.ID]
		if !hadOld && !hasCur {
			continue
		}
		var from, to any
		if hadOld && old != nil {
			from = valueJSON(old)
		}
		if hasCur && cur != nil {
			to = valueJSON(cur)
		}
		if reflect.DeepEqual(from, to) {
			continue
		}
		changes[p.Name] = Change{From: from, To: to}
	}
	return changes
}

func snapshotValues(row *Row) map[string]Value {
	snap := make(map[string]Value, len(row.Values))
	for k, v := range row.Values {
		snap[k] = v
	}
	return snap
}
