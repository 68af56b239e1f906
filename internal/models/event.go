package models

import "time"

// NormalizedEvent is the contract produced by the log normalizer boundary.
// Detectors consume it read-only; it is never mutated after publication.
type NormalizedEvent struct {
	EventID     string            `json:"event_id" validate:"required"`
	ArrivalTime time.Time         `json:"arrival_time" validate:"required"`
	SourceIP    string            `json:"source_ip,omitempty"`
	Hostname    string            `json:"hostname" validate:"required"`
	ProcessName string            `json:"process_name,omitempty"`
	Message     string            `json:"message" validate:"required"`
	Fields      map[string]string `json:"fields,omitempty"`
	Domain      string            `json:"domain,omitempty"`
}

// Field returns a structured field value, falling back to the empty string.
func (e *NormalizedEvent) Field(key string) string {
	if e.Fields == nil {
		return ""
	}
	return e.Fields[key]
}
