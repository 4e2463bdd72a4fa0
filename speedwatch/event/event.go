// Package event defines the telemetry records emitted by speedwatch.
// Consumers import this package to decode what the sinks deliver.
package event

import "encoding/json"

// Source tells who asked for a rate change.
type Source string

const (
	SourceInternal Source = "internal" // keyboard, overlay, remote command
	SourceExternal Source = "external" // page script or native control
)

// Kind is the type of telemetry record.
type Kind string

const (
	KindRate   Kind = "rate"   // playback rate written
	KindAttach Kind = "attach" // controller attached
	KindDetach Kind = "detach" // controller removed
)

// RateChange is one telemetry record. Rate records carry the written
// speed and the previous rate; lifecycle records leave them zero.
type RateChange struct {
	ID           string  `json:"id"` // UUIDv7
	Kind         Kind    `json:"kind"`
	PageID       string  `json:"page_id"`
	PageURL      string  `json:"page_url"`
	Seq          uint64  `json:"seq"` // per page, gap detection
	ControllerID string  `json:"controller_id"`
	Tag          string  `json:"tag"`
	Speed        float64 `json:"speed,omitempty"`
	Previous     float64 `json:"previous,omitempty"`
	Source       Source  `json:"source,omitempty"`
	Timestamp    int64   `json:"timestamp"` // epoch milliseconds
}

// Marshal serialises a RateChange to JSON.
func Marshal(e *RateChange) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserialises a RateChange from JSON.
func Unmarshal(data []byte) (*RateChange, error) {
	var e RateChange
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
