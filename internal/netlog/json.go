package netlog

import "encoding/json"

// Envelope tags an event with its kind for serialization.
type Envelope struct {
	Kind   string `json:"kind"`
	Source string `json:"source,omitempty"`
	Event  Event  `json:"event"`
}

// Marshal encodes ev inside an Envelope.
func Marshal(source string, ev Event) ([]byte, error) {
	return json.Marshal(Envelope{Kind: ev.Kind(), Source: source, Event: ev})
}
