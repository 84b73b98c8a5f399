package main

import "encoding/json"

// unmarshal decodes a bus envelope's raw payload into v.
func unmarshal(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
