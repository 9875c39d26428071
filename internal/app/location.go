package app

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultHost is the host that string and list location declarations are
// placed under.
const DefaultHost = "zendesk"

// HostLocations is one host's ordered list of locations.
type HostLocations struct {
	Host      string
	Locations []string
}

// NormalizeLocations accepts the three shapes a manifest may use for
// "location":
//
//	"ticket_sidebar"
//	["ticket_sidebar", "nav_bar"]
//	{"zendesk": ["ticket_sidebar"], "zopim": "chat_sidebar"}
//
// and returns them as an ordered host -> locations list. Declaration order
// is preserved for hosts and locations alike. Host entries may themselves be
// a string, a list, or an object keyed by location (the keys are taken).
func NormalizeLocations(raw json.RawMessage) ([]HostLocations, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '"', '[':
		locs, err := locationList(raw)
		if err != nil {
			return nil, err
		}
		return []HostLocations{{Host: DefaultHost, Locations: locs}}, nil
	case '{':
		keys, values, err := orderedObject(raw)
		if err != nil {
			return nil, err
		}
		result := make([]HostLocations, 0, len(keys))
		for i, host := range keys {
			locs, err := locationList(values[i])
			if err != nil {
				return nil, fmt.Errorf("location for host %q: %w", host, err)
			}
			result = append(result, HostLocations{Host: host, Locations: locs})
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported location declaration %s", string(raw))
	}
}

func locationList(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []string{s}, nil
	case '[':
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	case '{':
		keys, _, err := orderedObject(raw)
		return keys, err
	default:
		return nil, fmt.Errorf("unsupported location value %s", string(raw))
	}
}

// orderedObject splits a JSON object into its keys and raw values without
// losing key order, which map decoding would.
func orderedObject(raw json.RawMessage) ([]string, []json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected object")
	}

	var keys []string
	var values []json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		values = append(values, value)
	}

	return keys, values, nil
}
