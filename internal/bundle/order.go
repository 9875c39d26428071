package bundle

import (
	"bytes"
	"encoding/json"
)

// LocationOrder maps each location to the ids of the apps shown there, in
// the order the apps were given. Locations keep first-seen order, including
// when encoded as JSON.
type LocationOrder struct {
	locations []string
	ids       map[string][]int
}

// Add appends id to location's list.
func (o *LocationOrder) Add(location string, id int) {
	if o.ids == nil {
		o.ids = make(map[string][]int)
	}
	if _, seen := o.ids[location]; !seen {
		o.locations = append(o.locations, location)
	}
	o.ids[location] = append(o.ids[location], id)
}

// Locations returns the locations in first-seen order.
func (o *LocationOrder) Locations() []string {
	return append([]string(nil), o.locations...)
}

// IDs returns the app ids for location.
func (o *LocationOrder) IDs(location string) []int {
	return append([]int(nil), o.ids[location]...)
}

// Len is the number of distinct locations.
func (o *LocationOrder) Len() int {
	return len(o.locations)
}

func (o LocationOrder) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, location := range o.locations {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(location)
		if err != nil {
			return nil, err
		}
		ids, err := json.Marshal(o.ids[location])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(ids)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
