package ws

import "encoding/json"

// Msg is the envelope of every frame in both directions.
type Msg struct {
	T string                 `json:"t"`           // type
	M map[string]interface{} `json:"m,omitempty"` // payload
}

// Client -> relay.
const (
	TSet    = "set"    // {path, value}
	TUpdate = "update" // {path, partial}
	TOnce   = "once"   // {req, path}
	TOn     = "on"     // {sub, path}
	TOff    = "off"    // {sub}
	TPing   = "ping"
)

// Relay -> client.
const (
	TValue = "value" // {req, value, exists}
	TEvent = "event" // {sub, value, exists}
	TError = "error" // {req?, code, error}
	TPong  = "pong"
)

func encode(msg Msg) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(data []byte) (Msg, error) {
	var m Msg
	err := json.Unmarshal(data, &m)
	return m, err
}

func str(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
