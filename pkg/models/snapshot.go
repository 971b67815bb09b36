package models

import "strings"

// CustomerSnapshot is a point-in-time view of one customer as handed to
// the engine by the (out of scope) profile store. Evaluation never writes
// back to it.
type CustomerSnapshot struct {
	CustomerID string         `json:"customer_id"`
	Phone      string         `json:"phone,omitempty"`
	Timezone   string         `json:"timezone,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Lookup resolves a dotted path ("attributes.address.city") against the
// snapshot. Top-level segments address the snapshot's own fields; anything
// else descends into Attributes.
func (s *CustomerSnapshot) Lookup(path string) (any, bool) {
	if s == nil || path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")

	switch segments[0] {
	case "customer_id":
		return s.CustomerID, true
	case "phone":
		return s.Phone, true
	case "timezone":
		return s.Timezone, true
	case "attributes":
		segments = segments[1:]
	}

	var current any = s.Attributes

	for _, segment := range segments {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
